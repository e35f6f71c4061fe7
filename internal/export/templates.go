package export

import (
	"bytes"
	"html/template"
	"time"
)

// TemplateData feeds the export HTML template.
type TemplateData struct {
	Name        string
	Description string
	Kind        string
	Author      string
	CreatedAt   time.Time
	VersionID   int64
	ContentHTML template.HTML
}

var documentTemplate = template.Must(template.New("document").Parse(documentTemplateHTML))

func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const documentTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Name}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #1b1b1b; }
    h1 { border-bottom: 2px solid #2b7a4b; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .ref { background: #eef5f0; border: 1px solid #2b7a4b; border-radius: 3px; padding: 0 0.3em; }
    blockquote { border-left: 3px solid #2b7a4b; margin-left: 0; padding-left: 1rem; color: #444; }
    pre { background: #f5f5f5; padding: 1rem; overflow-x: auto; }
    table { border-collapse: collapse; }
    td, th { border: 1px solid #ccc; padding: 0.3rem 0.6rem; }
  </style>
</head>
<body>
  <h1>{{.Name}}</h1>
  {{if .Description}}<p>{{.Description}}</p>{{end}}
  <div class="meta">{{.Kind}} &middot; version {{.VersionID}} &middot; {{.Author}} &middot; {{.CreatedAt.Format "Jan 2, 2006"}}</div>
  <div>{{.ContentHTML}}</div>
</body>
</html>`
