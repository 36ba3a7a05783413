// Package conversion provides markdown-to-HTML conversion utilities.
//
// Agent reasoning often arrives as markdown (inline code, lists, emphasis).
// The web server renders it to sanitized HTML once so every connected
// frontend gets safe, ready-to-insert markup next to the verbatim text.
package conversion

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Converter handles markdown-to-HTML conversion with sanitization.
type Converter struct {
	md        goldmark.Markdown
	sanitizer *bluemonday.Policy
}

// NewConverter creates a converter with GFM extensions, syntax highlighting
// and a UGC sanitization policy. Suitable for agent-produced text.
func NewConverter() *Converter {
	return &Converter{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(
					highlighting.WithStyle("monokai"),
				),
			),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				html.WithXHTML(),
			),
		),
		sanitizer: createSanitizer(),
	}
}

// createSanitizer creates a bluemonday policy that allows safe HTML for
// markdown rendering.
func createSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()

	// Allow code highlighting classes from goldmark-highlighting
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre", "span", "div")

	return p
}

// Convert converts markdown text to sanitized HTML.
func (c *Converter) Convert(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return c.sanitizer.Sanitize(buf.String()), nil
}

// ConvertToSafeHTML converts markdown and falls back to escaped text on
// error so a bad chunk never breaks the event stream.
func (c *Converter) ConvertToSafeHTML(markdown string) string {
	result, err := c.Convert(markdown)
	if err != nil {
		return "<pre>" + EscapeHTML(markdown) + "</pre>"
	}
	return result
}

// EscapeHTML escapes special HTML characters.
func EscapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}
