package research

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ayush/research-ai-agent/reportgen/internal/metrics"
	"github.com/ayush/research-ai-agent/reportgen/internal/models"
	"github.com/ayush/research-ai-agent/reportgen/internal/store"
)

// Exporter turns a finished run into a stored report document with Markdown
// and HTML exports.
type Exporter struct {
	reports ReportStore
	files   FileStore
	model   string
	md      goldmark.Markdown
	logger  *zap.Logger
}

func NewExporter(reports ReportStore, files FileStore, model string, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		reports: reports,
		files:   files,
		model:   model,
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger:  logger,
	}
}

// AssembleMarkdown renders a run as one Markdown document: title, numbered
// sections and a reference list deduplicated by URL.
func AssembleMarkdown(st models.RunState) string {
	var b strings.Builder
	title := st.Topic
	if st.Outline != nil && st.Outline.Title != "" {
		title = st.Outline.Title
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	var refs []models.Reference
	seen := map[string]bool{}
	for i, sec := range st.Sections {
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, sec.Title)
		if body := strings.TrimSpace(sec.Content); body != "" {
			b.WriteString(body)
			b.WriteString("\n\n")
		}
		for _, ref := range sec.References {
			key := ref.URL
			if key == "" {
				key = ref.Title
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			refs = append(refs, ref)
		}
	}

	if len(refs) > 0 {
		b.WriteString("## References\n\n")
		for i, ref := range refs {
			if ref.URL != "" {
				fmt.Fprintf(&b, "%d. [%s](%s)", i+1, ref.Title, ref.URL)
			} else {
				fmt.Fprintf(&b, "%d. %s", i+1, ref.Title)
			}
			if ref.Source != "" {
				fmt.Fprintf(&b, " (%s)", ref.Source)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// RenderHTML converts Markdown into a standalone HTML page.
func (e *Exporter) RenderHTML(title, md string) ([]byte, error) {
	var body bytes.Buffer
	if err := e.md.Convert([]byte(md), &body); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n", html.EscapeString(title))
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}

// Export stores a finished run. Upload failures are logged and leave the
// corresponding key empty; only the document insert is fatal.
func (e *Exporter) Export(ctx context.Context, userID string, st models.RunState) (*models.ReportDocument, error) {
	md := AssembleMarkdown(st)
	doc := &models.ReportDocument{
		ID:        primitive.NewObjectID(),
		RunID:     st.RunID,
		UserID:    userID,
		Topic:     st.Topic,
		Sections:  st.Sections,
		Markdown:  md,
		ModelUsed: e.model,
		CreatedAt: time.Now(),
	}
	if st.Outline != nil {
		doc.Outline = st.Outline.Clone()
	}

	page, err := e.RenderHTML(doc.Outline.Title, md)
	if err != nil {
		e.logger.Warn("html render failed", zap.String("run_id", st.RunID), zap.Error(err))
		metrics.ExportFailures.WithLabelValues("html").Inc()
	}

	if e.files != nil {
		id := doc.ID.Hex()
		var mdKey, htmlKey string
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			key := store.ExportKey(userID, id, "md")
			if err := e.files.Upload(gctx, key, []byte(md), "text/markdown; charset=utf-8"); err != nil {
				return err
			}
			mdKey = key
			return nil
		})
		if page != nil {
			g.Go(func() error {
				key := store.ExportKey(userID, id, "html")
				if err := e.files.Upload(gctx, key, page, "text/html; charset=utf-8"); err != nil {
					return err
				}
				htmlKey = key
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			e.logger.Warn("export upload failed", zap.String("run_id", st.RunID), zap.Error(err))
			metrics.ExportFailures.WithLabelValues("minio").Inc()
		}
		doc.MarkdownKey, doc.HTMLKey = mdKey, htmlKey
	}

	if _, err := e.reports.Insert(ctx, doc); err != nil {
		metrics.ExportFailures.WithLabelValues("mongo").Inc()
		return nil, fmt.Errorf("store report: %w", err)
	}
	return doc, nil
}
