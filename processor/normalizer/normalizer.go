// Package normalizer converts raw captured artifacts into clean text the
// scoring pipeline can evaluate. HTML goes through readability extraction
// with a structural converter as fallback; plain text and markdown pass
// through unchanged.
package normalizer

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
)

// ErrUnsupportedFormat marks content the normalizer cannot convert.
// Retrying cannot help, so the job fails on the first attempt.
var ErrUnsupportedFormat = errors.New("unsupported content format")

// Result is the output of normalization.
type Result struct {
	// Title is the best title recovered from the content, empty if none.
	Title string

	// Text is the normalized content: markdown for HTML sources,
	// the original bytes for text sources.
	Text string
}

// Normalizer converts raw artifact content to normalized text by mime type.
type Normalizer struct {
	fallback *Converter
}

// NewNormalizer creates a Normalizer with the default HTML fallback converter.
func NewNormalizer() *Normalizer {
	return &Normalizer{fallback: NewConverter()}
}

// Normalize converts raw content. The uri, when parseable, anchors relative
// links during readability extraction; it is otherwise ignored.
func (n *Normalizer) Normalize(mimeType, uri string, raw []byte) (*Result, error) {
	switch mediaType(mimeType) {
	case "text/html", "application/xhtml+xml":
		return n.normalizeHTML(uri, raw)
	case "text/plain", "text/markdown":
		return &Result{Text: string(raw)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, mimeType)
	}
}

// normalizeHTML extracts the article body when readability finds one, and
// falls back to structural conversion for pages that are not article-shaped
// (index pages, dashboards, heavily templated content).
func (n *Normalizer) normalizeHTML(uri string, raw []byte) (*Result, error) {
	pageURL, err := url.Parse(uri)
	if err != nil {
		pageURL = nil
	}

	article, err := readability.FromReader(bytes.NewReader(raw), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		markdown, convErr := n.fallback.converter.ConvertString(article.Content)
		if convErr == nil {
			title := article.Title
			if title == "" {
				title = htmlTitle(raw)
			}
			return &Result{Title: title, Text: tidyMarkdown(markdown)}, nil
		}
	}

	title, markdown, err := n.fallback.Convert(raw)
	if err != nil {
		return nil, fmt.Errorf("converting html: %w", err)
	}
	return &Result{Title: title, Text: markdown}, nil
}

// mediaType strips parameters like charset from a mime type. Unparseable
// types are matched as-is so bare values like "text/html" still work.
func mediaType(mimeType string) string {
	parsed, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return parsed
}
