package chat

import (
	"fmt"
	"strings"

	"github.com/chatdochq/chatdoc/internal/docs"
)

// Citation names one place an answer drew from.
type Citation struct {
	Source string `json:"source"`
	Page   int    `json:"page"`
}

func (c Citation) String() string {
	return fmt.Sprintf(" - %s on page %d", c.Source, c.Page)
}

// citationsFrom collapses retrieval results to unique (source, page) pairs,
// preserving rank order of first appearance. Results without a source are
// skipped; there is nothing to point the user at.
func citationsFrom(results []docs.RetrievalResult) []Citation {
	seen := make(map[Citation]struct{}, len(results))
	out := make([]Citation, 0, len(results))
	for _, res := range results {
		if strings.TrimSpace(res.Source) == "" {
			continue
		}
		cite := Citation{Source: res.Source, Page: res.Page}
		if _, ok := seen[cite]; ok {
			continue
		}
		seen[cite] = struct{}{}
		out = append(out, cite)
	}
	return out
}

// formatCitations renders the block appended to answers that used context.
func formatCitations(cites []Citation) string {
	if len(cites) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nSources:\n")
	for _, cite := range cites {
		b.WriteString(cite.String())
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
