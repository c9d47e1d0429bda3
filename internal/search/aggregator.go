package search

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ayush/research-ai-agent/reportgen/internal/models"
)

const (
	// MaxQueries caps how many queries a section may search with.
	MaxQueries = 3
	// DefaultMaxSegments is the per-query result cap sent upstream.
	DefaultMaxSegments = 5
)

// Bundle is the aggregated evidence for one section.
type Bundle struct {
	// References is what consumers see: one entry per distinct article.
	References []models.Reference
	// Material is the full text of the retained items, used only to build
	// the writing prompt.
	Material string
}

// Empty reports whether no evidence was found.
func (b Bundle) Empty() bool { return len(b.References) == 0 }

// Aggregator merges batched search results into a deduplicated reference list.
type Aggregator struct {
	searcher    Searcher
	maxSegments int
	logger      *zap.Logger
}

func NewAggregator(searcher Searcher, maxSegments int, logger *zap.Logger) *Aggregator {
	if maxSegments <= 0 {
		maxSegments = DefaultMaxSegments
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{searcher: searcher, maxSegments: maxSegments, logger: logger}
}

// Collect searches with up to MaxQueries non-blank queries. An empty query list
// yields an empty bundle without calling the backend. A transport failure is
// returned to the caller, which decides how to degrade.
func (a *Aggregator) Collect(ctx context.Context, queries []string) (Bundle, error) {
	cleaned := NormalizeQueries(queries)
	if len(cleaned) == 0 {
		return Bundle{}, nil
	}

	groups, err := a.searcher.SearchBatch(ctx, cleaned, a.maxSegments)
	if err != nil {
		return Bundle{}, fmt.Errorf("search %d queries: %w", len(cleaned), err)
	}

	items := Dedup(groups)
	a.logger.Debug("search results aggregated",
		zap.Int("queries", len(cleaned)),
		zap.Int("groups", len(groups)),
		zap.Int("unique_items", len(items)))

	return Bundle{References: toReferences(items), Material: FormatMaterial(items)}, nil
}

// NormalizeQueries trims queries, drops blanks and caps the list at MaxQueries.
func NormalizeQueries(queries []string) []string {
	out := make([]string, 0, MaxQueries)
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == MaxQueries {
			break
		}
	}
	return out
}

// Dedup flattens result groups in order and keeps the first occurrence of each
// article. Items without an article id cannot be keyed and are kept as-is.
func Dedup(groups []ResultGroup) []models.SearchReferenceItem {
	seen := make(map[string]struct{})
	var out []models.SearchReferenceItem
	for _, g := range groups {
		for _, item := range g.Items {
			if item.ArticleID != "" {
				if _, dup := seen[item.ArticleID]; dup {
					continue
				}
				seen[item.ArticleID] = struct{}{}
			}
			out = append(out, item)
		}
	}
	return out
}

func toReferences(items []models.SearchReferenceItem) []models.Reference {
	refs := make([]models.Reference, 0, len(items))
	for _, item := range items {
		refs = append(refs, models.Reference{
			Title:  item.Title,
			URL:    item.URL,
			Source: item.SourceName,
		})
	}
	return refs
}

// FormatMaterial renders items as numbered snippets for a writing prompt.
func FormatMaterial(items []models.SearchReferenceItem) string {
	var sb strings.Builder
	for i, item := range items {
		fmt.Fprintf(&sb, "[%d] %s (Source: %s)\n", i+1, item.Title, item.SourceName)
		for _, seg := range item.Segments {
			content := strings.TrimSpace(seg.Content)
			if content == "" {
				continue
			}
			sb.WriteString(content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
