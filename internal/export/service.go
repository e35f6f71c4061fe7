package export

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
)

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Export renders the snapshot in the requested format.
func (s *Service) Export(ctx context.Context, snapshot Snapshot, format Format) (*Result, error) {
	var doc map[string]any
	if len(snapshot.Doc) > 0 {
		if err := json.Unmarshal(snapshot.Doc, &doc); err != nil {
			return nil, fmt.Errorf("decode snapshot doc: %w", err)
		}
	}

	data := TemplateData{
		Name:        snapshot.Name,
		Description: snapshot.Description,
		Kind:        snapshot.Kind,
		Author:      snapshot.CreatedBy,
		CreatedAt:   snapshot.CreatedAt,
		VersionID:   snapshot.VersionID,
		ContentHTML: template.HTML(ProseMirrorToHTML(doc)),
	}
	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render export template: %w", err)
	}

	switch format {
	case FormatPDF:
		return exportPDF(ctx, html, snapshot.Name)
	case FormatDOCX:
		return exportDOCX(ctx, html, snapshot.Name)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
