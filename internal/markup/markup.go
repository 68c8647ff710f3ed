// Package markup converts between GitLab Markdown and Spira rich text (HTML),
// and renders either to plain text for comment-equality comparison.
package markup

import (
	"bytes"
	"fmt"
	"strings"

	htmltomd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/jaytaylor/html2text"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	ghtml "github.com/yuin/goldmark/renderer/html"
)

// WithUnsafe keeps raw HTML intact, so bodies that are already HTML pass
// through ToHTML unchanged.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(ghtml.WithUnsafe()),
)

var converter = htmltomd.NewConverter("", true, nil)

// ToHTML renders GitLab-flavored Markdown as HTML for Spira rich-text fields.
func ToHTML(src string) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// ToMarkdown converts Spira rich text to Markdown for GitLab fields.
func ToMarkdown(src string) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}

	out, err := converter.ConvertString(src)
	if err != nil {
		return "", fmt.Errorf("converting html to markdown: %w", err)
	}

	return strings.TrimSpace(out), nil
}

// Normalize renders a comment body (Markdown or HTML) to plain text with
// all whitespace runs collapsed to single spaces. Two bodies that differ only
// in markup or spacing normalize to the same string.
func Normalize(body string) string {
	rendered, err := ToHTML(body)
	if err != nil {
		return collapse(body)
	}

	text, err := html2text.FromString(rendered, html2text.Options{TextOnly: true})
	if err != nil {
		return collapse(body)
	}

	return collapse(text)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
