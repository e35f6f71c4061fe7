package export

import (
	"fmt"
	"html"
	"strings"
)

// ProseMirrorToHTML converts a decoded ProseMirror document to HTML.
func ProseMirrorToHTML(doc map[string]any) string {
	if doc == nil {
		return ""
	}
	return renderNode(doc)
}

func renderNode(node map[string]any) string {
	nodeType, _ := node["type"].(string)
	if nodeType == "" {
		return ""
	}

	switch nodeType {
	case "doc":
		return renderContent(node["content"])
	case "paragraph":
		return fmt.Sprintf("<p>%s</p>\n", renderContent(node["content"]))
	case "heading":
		level := 1
		if attrs, ok := node["attrs"].(map[string]any); ok {
			if lvl, ok := attrs["level"].(float64); ok {
				level = int(lvl)
			}
		}
		return fmt.Sprintf("<h%d>%s</h%d>\n", level, renderContent(node["content"]), level)
	case "bulletList":
		return fmt.Sprintf("<ul>\n%s</ul>\n", renderContent(node["content"]))
	case "orderedList":
		return fmt.Sprintf("<ol>\n%s</ol>\n", renderContent(node["content"]))
	case "listItem":
		return fmt.Sprintf("<li>%s</li>\n", renderContent(node["content"]))
	case "blockquote":
		return fmt.Sprintf("<blockquote>\n%s</blockquote>\n", renderContent(node["content"]))
	case "codeBlock":
		return fmt.Sprintf("<pre><code>%s</code></pre>\n", html.EscapeString(plainText(node["content"])))
	case "text":
		text, _ := node["text"].(string)
		marks, _ := node["marks"].([]any)
		return renderTextWithMarks(text, marks)
	case "hardBreak":
		return "<br>"
	case "table":
		return fmt.Sprintf("<table>\n%s</table>\n", renderContent(node["content"]))
	case "tableRow":
		return fmt.Sprintf("<tr>\n%s</tr>\n", renderContent(node["content"]))
	case "tableCell":
		return fmt.Sprintf("<td>%s</td>\n", renderContent(node["content"]))
	case "tableHeader":
		return fmt.Sprintf("<th>%s</th>\n", renderContent(node["content"]))
	case "horizontalRule":
		return "<hr>\n"
	case "toolRef", "workflowRef", "widgetRef":
		return renderRef(nodeType, node)
	default:
		return renderContent(node["content"])
	}
}

// renderRef renders an embedded object reference as a labeled chip. The
// export has no store access, so the chip shows the reference's cached
// name attribute when the editor stored one, else the static ID.
func renderRef(nodeType string, node map[string]any) string {
	label := ""
	staticID := ""
	if attrs, ok := node["attrs"].(map[string]any); ok {
		label, _ = attrs["name"].(string)
		staticID, _ = attrs["staticId"].(string)
	}
	if label == "" {
		label = staticID
	}
	kind := strings.TrimSuffix(nodeType, "Ref")
	return fmt.Sprintf(`<span class="ref ref-%s">%s</span>`, kind, html.EscapeString(label))
}

func renderContent(content any) string {
	items, ok := content.([]any)
	if !ok {
		return ""
	}
	var out strings.Builder
	for _, item := range items {
		if node, ok := item.(map[string]any); ok {
			out.WriteString(renderNode(node))
		}
	}
	return out.String()
}

func plainText(content any) string {
	items, ok := content.([]any)
	if !ok {
		return ""
	}
	var out strings.Builder
	for _, item := range items {
		node, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := node["text"].(string); ok {
			out.WriteString(text)
		}
		out.WriteString(plainText(node["content"]))
	}
	return out.String()
}

func renderTextWithMarks(text string, marks []any) string {
	if text == "" {
		return ""
	}
	htmlText := html.EscapeString(text)

	for i := len(marks) - 1; i >= 0; i-- {
		mark, ok := marks[i].(map[string]any)
		if !ok {
			continue
		}
		markType, _ := mark["type"].(string)
		switch markType {
		case "bold":
			htmlText = fmt.Sprintf("<strong>%s</strong>", htmlText)
		case "italic":
			htmlText = fmt.Sprintf("<em>%s</em>", htmlText)
		case "code":
			htmlText = fmt.Sprintf("<code>%s</code>", htmlText)
		case "link":
			href := ""
			if attrs, ok := mark["attrs"].(map[string]any); ok {
				href, _ = attrs["href"].(string)
			}
			htmlText = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), htmlText)
		case "strike":
			htmlText = fmt.Sprintf("<s>%s</s>", htmlText)
		case "underline":
			htmlText = fmt.Sprintf("<u>%s</u>", htmlText)
		}
	}
	return htmlText
}
