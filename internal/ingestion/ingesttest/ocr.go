package ingesttest

import (
	"strings"
	"unicode/utf8"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/protobuf/encoding/protojson"
)

// DocBuilder appends text to a flat buffer and hands out anchors into it, the
// way Document AI lays out its output.
type DocBuilder struct {
	runes int
	text  strings.Builder
}

func (b *DocBuilder) Anchor(s string) *documentaipb.Document_TextAnchor {
	start := b.runes
	b.text.WriteString(s)
	b.runes += utf8.RuneCountInString(s)
	return &documentaipb.Document_TextAnchor{
		TextSegments: []*documentaipb.Document_TextAnchor_TextSegment{
			{StartIndex: int64(start), EndIndex: int64(b.runes)},
		},
	}
}

func (b *DocBuilder) Paragraph(s string) *documentaipb.Document_Page_Paragraph {
	return &documentaipb.Document_Page_Paragraph{
		Layout: &documentaipb.Document_Page_Layout{TextAnchor: b.Anchor(s)},
	}
}

func (b *DocBuilder) Row(cells ...string) *documentaipb.Document_Page_Table_TableRow {
	row := &documentaipb.Document_Page_Table_TableRow{}
	for _, c := range cells {
		row.Cells = append(row.Cells, &documentaipb.Document_Page_Table_TableCell{
			Layout: &documentaipb.Document_Page_Layout{TextAnchor: b.Anchor(c)},
		})
	}
	return row
}

func (b *DocBuilder) Doc(pages ...*documentaipb.Document_Page) *documentaipb.Document {
	return &documentaipb.Document{Text: b.text.String(), Pages: pages}
}

// JSON encodes doc the way the OCR provider writes it to storage.
func JSON(doc *documentaipb.Document) []byte {
	raw, err := protojson.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return raw
}

// ReportFixture is one page holding an 80 character paragraph and a table
// with one header row and two body rows.
func ReportFixture() []byte {
	var b DocBuilder
	page := &documentaipb.Document_Page{
		PageNumber: 1,
		Paragraphs: []*documentaipb.Document_Page_Paragraph{
			b.Paragraph(strings.Repeat("Quarterly revenue grew across all regions. ", 2)[:80]),
		},
		Tables: []*documentaipb.Document_Page_Table{{
			HeaderRows: []*documentaipb.Document_Page_Table_TableRow{b.Row("Region", "Q1")},
			BodyRows: []*documentaipb.Document_Page_Table_TableRow{
				b.Row("North", "10"),
				b.Row("South", "12"),
			},
		}},
	}
	return JSON(b.Doc(page))
}
