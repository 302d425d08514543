// Package ocrparse turns Document AI output into chunk records.
//
// Within a page all paragraph chunks come before the page's table chunks,
// regardless of where tables sit in the layout. Anchor offsets index the
// document text by Unicode code point.
package ocrparse

import (
	"fmt"
	"strings"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/protobuf/encoding/protojson"

	types "github.com/yungbote/docrag-backend/internal/domain"
)

const DefaultMinParagraphLen = 50

type Parser struct {
	// MinParagraphLen is the code point length below which a paragraph is
	// merged into the page's carry-forward buffer.
	MinParagraphLen int
	NewID           IDFunc
}

func New(minParagraphLen int, newID IDFunc) Parser {
	if minParagraphLen <= 0 {
		minParagraphLen = DefaultMinParagraphLen
	}
	if newID == nil {
		newID = DeterministicIDs
	}
	return Parser{MinParagraphLen: minParagraphLen, NewID: newID}
}

var unmarshalOpts = protojson.UnmarshalOptions{DiscardUnknown: true}

// Decode reads one OCR output JSON file.
func Decode(blob string, raw []byte) (*documentaipb.Document, error) {
	var doc documentaipb.Document
	if err := unmarshalOpts.Unmarshal(raw, &doc); err != nil {
		return nil, &ParseError{Blob: blob, Reason: "invalid document json", Err: err}
	}
	return &doc, nil
}

// ParseFile decodes raw and extracts its chunks. Chunks carry source but no
// vector or timestamps.
func (p Parser) ParseFile(source, blob string, raw []byte) ([]*types.Chunk, error) {
	doc, err := Decode(blob, raw)
	if err != nil {
		return nil, err
	}
	return p.Extract(source, blob, doc)
}

func (p Parser) Extract(source, blob string, doc *documentaipb.Document) ([]*types.Chunk, error) {
	if doc == nil {
		return nil, &ParseError{Blob: blob, Reason: "nil document"}
	}
	minLen := p.MinParagraphLen
	if minLen <= 0 {
		minLen = DefaultMinParagraphLen
	}
	newID := p.NewID
	if newID == nil {
		newID = DeterministicIDs
	}

	text := []rune(doc.GetText())
	var out []*types.Chunk

	for pageIdx, page := range doc.GetPages() {
		pageNum := int(page.GetPageNumber())
		ordinal := 0
		emit := func(typ types.ChunkType, body string, rows *int) {
			c := &types.Chunk{
				ID:     newID(source, blob, pageIdx, ordinal),
				Source: source,
				Type:   typ,
				Text:   body,
				Rows:   rows,
			}
			if pageNum > 0 {
				n := pageNum
				c.Page = &n
			}
			ordinal++
			out = append(out, c)
		}

		var buf strings.Builder
		flush := func() {
			if merged := strings.TrimSpace(buf.String()); merged != "" {
				emit(types.ChunkTypeParagraph, merged, nil)
			}
			buf.Reset()
		}

		for paraIdx, para := range page.GetParagraphs() {
			raw, err := resolveAnchor(text, para.GetLayout().GetTextAnchor())
			if err != nil {
				return nil, &ParseError{
					Blob:   blob,
					Reason: fmt.Sprintf("page %d paragraph %d", pageIdx, paraIdx),
					Err:    err,
				}
			}
			trimmed := strings.TrimSpace(raw)
			if trimmed == "" {
				continue
			}
			if len([]rune(raw)) < minLen {
				buf.WriteString(" ")
				buf.WriteString(trimmed)
				continue
			}
			flush()
			emit(types.ChunkTypeParagraph, trimmed, nil)
		}
		flush()

		for tableIdx, table := range page.GetTables() {
			rendered, err := renderTable(text, table)
			if err != nil {
				return nil, &ParseError{
					Blob:   blob,
					Reason: fmt.Sprintf("page %d table %d", pageIdx, tableIdx),
					Err:    err,
				}
			}
			rendered = strings.TrimSpace(rendered)
			if rendered == "" {
				continue
			}
			rows := len(table.GetHeaderRows()) + len(table.GetBodyRows())
			emit(types.ChunkTypeTable, rendered, &rows)
		}
	}
	return out, nil
}

// resolveAnchor concatenates every segment of anchor. A missing anchor or one
// without segments is empty text.
func resolveAnchor(text []rune, anchor *documentaipb.Document_TextAnchor) (string, error) {
	segs := anchor.GetTextSegments()
	if len(segs) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, seg := range segs {
		start, end := seg.GetStartIndex(), seg.GetEndIndex()
		if start < 0 || end < start || end > int64(len(text)) {
			return "", fmt.Errorf("text segment [%d,%d) outside text of length %d", start, end, len(text))
		}
		b.WriteString(string(text[start:end]))
	}
	return b.String(), nil
}

// renderTable writes one line per row, header rows first, cells joined by " | ".
func renderTable(text []rune, table *documentaipb.Document_Page_Table) (string, error) {
	rows := make([]string, 0, len(table.GetHeaderRows())+len(table.GetBodyRows()))
	appendRows := func(in []*documentaipb.Document_Page_Table_TableRow) error {
		for _, row := range in {
			cells := make([]string, 0, len(row.GetCells()))
			for _, cell := range row.GetCells() {
				s, err := resolveAnchor(text, cell.GetLayout().GetTextAnchor())
				if err != nil {
					return err
				}
				cells = append(cells, strings.TrimSpace(s))
			}
			rows = append(rows, strings.Join(cells, " | "))
		}
		return nil
	}
	if err := appendRows(table.GetHeaderRows()); err != nil {
		return "", err
	}
	if err := appendRows(table.GetBodyRows()); err != nil {
		return "", err
	}
	return strings.Join(rows, "\n"), nil
}
