package web

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// md renders card text. Raw HTML in decks is dropped, which is goldmark's
// default.
var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// renderMarkdown converts card markdown to HTML. Text that fails to render
// is returned empty and the client falls back to the plain field.
func renderMarkdown(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return ""
	}
	return buf.String()
}
