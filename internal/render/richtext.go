package render

import (
	"strings"

	"github.com/lhdbsbz/flowbridge/internal/voiceflow"
)

// RichText flattens slate paragraphs into WhatsApp markup, one line per paragraph.
func RichText(paragraphs []voiceflow.Paragraph) string {
	var b strings.Builder
	for _, p := range paragraphs {
		for _, span := range p.Children {
			b.WriteString(renderSpan(span))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// renderSpan applies the first matching style. WhatsApp has no underline.
func renderSpan(s voiceflow.Span) string {
	if s.Type != "" {
		if s.Type == "link" {
			return s.URL
		}
		return ""
	}
	if s.Text == "" {
		return ""
	}
	switch {
	case s.Bold():
		return "*" + s.Text + "*"
	case s.Italic:
		return "_" + s.Text + "_"
	case s.Underline:
		return s.Text
	case s.StrikeThrough:
		return "~" + s.Text + "~"
	default:
		return s.Text
	}
}
