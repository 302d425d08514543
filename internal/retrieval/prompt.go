package retrieval

import (
	"fmt"
	"strings"
)

const unknownSource = "unknown"

// Reference is one citation-labeled pointer to a retrieved chunk's source.
type Reference struct {
	Label    string
	FileName string
	Source   string
	Page     *int
	URL      string
}

func (r Reference) pageText() string {
	if r.Page == nil {
		return "?"
	}
	return fmt.Sprintf("%d", *r.Page)
}

func (r Reference) String() string {
	if r.URL != "" {
		return fmt.Sprintf(`[%s]: <a href="%s" target="_blank">%s</a>, page %s`, r.Label, r.URL, r.FileName, r.pageText())
	}
	return fmt.Sprintf("[%s]: %s, page %s", r.Label, r.FileName, r.pageText())
}

// Strings renders refs in order.
func Strings(refs []Reference) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}

func label(i int) string { return fmt.Sprintf("Source %d", i+1) }

// fileName is the last path element of a source URI.
func fileName(source string) string {
	if i := strings.LastIndex(source, "/"); i >= 0 {
		return source[i+1:]
	}
	return source
}

type contextBlock struct {
	Label string
	Text  string
}

func renderPrompt(query string, blocks []contextBlock) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = "[" + b.Label + "]\n" + b.Text
	}
	var sb strings.Builder
	sb.WriteString("You are a technical assistant. ")
	sb.WriteString("Use ONLY the provided context below to answer the question as accurately as possible. ")
	sb.WriteString("Cite your sources using the labels like [Source 1], [Source 2], etc. ")
	sb.WriteString("Do not invent citations or add any sources not in the context.\n\n")
	sb.WriteString("Context:\n")
	sb.WriteString(strings.Join(parts, "\n\n"))
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(query)
	sb.WriteString("\nAnswer (with sources cited as [Source N]):")
	return sb.String()
}
