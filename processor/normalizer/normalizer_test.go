package normalizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Rate Limiter Design Notes</title></head>
<body>
<nav class="navbar"><a href="/">Home</a><a href="/docs">Docs</a></nav>
<article>
<h1>Rate Limiter Design Notes</h1>
<p>Token buckets refill at a fixed rate and absorb bursts up to their
capacity. The refill rate is the long-term throughput ceiling, while the
bucket size controls how much burstiness callers can spend at once.</p>
<p>Sliding window counters approximate the same behavior with two fixed
windows and a weighted sum. They trade a small accuracy loss for constant
memory per key, which matters when the limiter tracks millions of keys.</p>
<p>Choosing between them comes down to whether burst tolerance is a feature
or a liability for the protected backend.</p>
</article>
<footer>Copyright 2026</footer>
</body>
</html>`

func TestNormalizeHTMLArticle(t *testing.T) {
	n := NewNormalizer()

	res, err := n.Normalize("text/html", "https://example.com/notes", []byte(articleHTML))
	require.NoError(t, err)

	assert.Equal(t, "Rate Limiter Design Notes", res.Title)
	assert.Contains(t, res.Text, "Token buckets refill")
	assert.Contains(t, res.Text, "Sliding window counters")
	assert.NotContains(t, res.Text, "Copyright 2026")
}

func TestNormalizeHTMLStripsCharsetParameter(t *testing.T) {
	n := NewNormalizer()

	res, err := n.Normalize("text/html; charset=utf-8", "", []byte(articleHTML))
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Token buckets")
}

func TestNormalizeNonArticlePageFallsBack(t *testing.T) {
	// An index-shaped page with no article body still converts via the
	// structural fallback.
	page := `<html>
<head><title>Service Index</title></head>
<body>
<nav><a href="/a">A</a></nav>
<main>
<h2>Services</h2>
<ul><li>auth</li><li>billing</li><li>search</li></ul>
</main>
</body>
</html>`

	n := NewNormalizer()
	res, err := n.Normalize("text/html", "", []byte(page))
	require.NoError(t, err)

	assert.Contains(t, res.Text, "auth")
	assert.Contains(t, res.Text, "billing")
}

func TestNormalizePlainTextPassthrough(t *testing.T) {
	n := NewNormalizer()

	content := "line one\nline two\n"
	res, err := n.Normalize("text/plain", "", []byte(content))
	require.NoError(t, err)

	assert.Equal(t, content, res.Text)
	assert.Empty(t, res.Title)
}

func TestNormalizeMarkdownPassthrough(t *testing.T) {
	n := NewNormalizer()

	content := "# Heading\n\nBody text.\n"
	res, err := n.Normalize("text/markdown", "", []byte(content))
	require.NoError(t, err)
	assert.Equal(t, content, res.Text)
}

func TestNormalizeUnsupportedFormat(t *testing.T) {
	n := NewNormalizer()

	for _, mimeType := range []string{"application/pdf", "image/png", "", "application/octet-stream"} {
		_, err := n.Normalize(mimeType, "", []byte("binary"))
		assert.ErrorIs(t, err, ErrUnsupportedFormat, "mime type %q", mimeType)
	}
}

func TestConverterRecoversTitle(t *testing.T) {
	c := NewConverter()

	title, markdown, err := c.Convert([]byte(`<html><head><title>Doc Title</title></head><body><p>hi</p></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Doc Title", title)
	assert.Contains(t, markdown, "hi")
}

func TestConverterTitleFromFirstHeading(t *testing.T) {
	c := NewConverter()

	title, _, err := c.Convert([]byte(`<html><body><h1>Heading Title</h1><p>body</p></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Heading Title", title)
}

func TestConverterStripsChrome(t *testing.T) {
	c := NewConverter()

	page := `<html><body>
<div class="sidebar">sidebar links</div>
<script>var x = 1;</script>
<p>actual content</p>
</body></html>`

	_, markdown, err := c.Convert([]byte(page))
	require.NoError(t, err)
	assert.Contains(t, markdown, "actual content")
	assert.NotContains(t, markdown, "sidebar links")
	assert.NotContains(t, markdown, "var x")
}

func TestTidyMarkdownCollapsesBlankLines(t *testing.T) {
	got := tidyMarkdown("a\n\n\n\n\n\nb  \n")
	assert.Equal(t, "a\n\n\nb", got)
	assert.False(t, strings.Contains(got, "\n\n\n\n"))
}

func TestMediaType(t *testing.T) {
	assert.Equal(t, "text/html", mediaType("text/html; charset=utf-8"))
	assert.Equal(t, "text/plain", mediaType("TEXT/PLAIN"))
	assert.Equal(t, "text/html", mediaType(" text/html "))
}
