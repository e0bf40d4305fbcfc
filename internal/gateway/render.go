// ABOUTME: Markdown to HTML rendering for history responses requested with format=html.
// ABOUTME: Raw HTML in agent output is omitted, never passed through.

package gateway

import (
	"bytes"
	"html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)
}

// renderMarkdown converts content to HTML, falling back to escaped text.
func (g *Gateway) renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := g.markdown.Convert([]byte(content), &buf); err != nil {
		g.logger.Warn("failed to convert markdown", "error", err)
		return "<p>" + html.EscapeString(content) + "</p>"
	}
	return buf.String()
}
