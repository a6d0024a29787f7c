package normalizer

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

// Pre-compiled to avoid recompiling per document.
var (
	scriptRe         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	excessiveLinesRe = regexp.MustCompile(`\n{4,}`)
)

// chromeTags are structural elements stripped before conversion when no
// main content region is found.
var chromeTags = []string{
	"nav", "header", "footer", "aside", "script", "style", "noscript",
	"iframe", "object", "embed", "form", "input", "button",
}

// chromeClasses are class names that mark page chrome rather than content.
var chromeClasses = []string{
	"nav", "navbar", "navigation", "sidebar", "menu", "toc",
	"table-of-contents", "footer", "header", "ad", "advertisement",
	"social", "share", "comments", "related", "breadcrumb",
}

// Converter turns arbitrary HTML into markdown. It is the fallback path
// for pages where readability extraction finds no article body, so it works
// structurally: locate a main content region, strip chrome, convert.
type Converter struct {
	converter *md.Converter
}

// NewConverter creates an HTML to markdown converter.
func NewConverter() *Converter {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &Converter{converter: converter}
}

// Convert transforms HTML into markdown plus a recovered title.
func (c *Converter) Convert(htmlContent []byte) (title, markdown string, err error) {
	title = htmlTitle(htmlContent)

	markdown, err = c.converter.ConvertString(mainContent(htmlContent))
	if err != nil {
		return "", "", err
	}
	markdown = tidyMarkdown(markdown)

	if title == "" {
		title = firstHeading(markdown)
	}
	return title, markdown, nil
}

// htmlTitle returns the document's <title> text, if any.
func htmlTitle(content []byte) string {
	doc, err := html.Parse(strings.NewReader(string(content)))
	if err != nil {
		return ""
	}

	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil && title == ""; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

// mainContent extracts the content region of the page as HTML.
func mainContent(content []byte) string {
	doc, err := html.Parse(strings.NewReader(string(content)))
	if err != nil {
		// Unparseable markup still gets the regex cleanup.
		s := scriptRe.ReplaceAllString(string(content), "")
		return styleRe.ReplaceAllString(s, "")
	}

	for _, selector := range []string{"main", "article", "[role=main]"} {
		if node := findElement(doc, selector); node != nil {
			return renderNode(node)
		}
	}

	removeTags(doc, chromeTags)
	removeClasses(doc, chromeClasses)

	if body := findElement(doc, "body"); body != nil {
		return renderNode(body)
	}
	return string(content)
}

// findElement returns the first node matching a tag name or a [key=value]
// attribute selector.
func findElement(n *html.Node, selector string) *html.Node {
	var result *html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if result != nil {
			return
		}
		if node.Type == html.ElementNode && matches(node, selector) {
			result = node
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return result
}

func matches(n *html.Node, selector string) bool {
	if strings.HasPrefix(selector, "[") && strings.HasSuffix(selector, "]") {
		parts := strings.SplitN(strings.Trim(selector, "[]"), "=", 2)
		if len(parts) != 2 {
			return false
		}
		for _, a := range n.Attr {
			if a.Key == parts[0] && a.Val == parts[1] {
				return true
			}
		}
		return false
	}
	return n.Data == selector
}

func removeTags(n *html.Node, tags []string) {
	tagSet := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tagSet[tag] = true
	}
	removeMatching(n, func(node *html.Node) bool {
		return tagSet[node.Data]
	})
}

func removeClasses(n *html.Node, classes []string) {
	classSet := make(map[string]bool, len(classes))
	for _, class := range classes {
		classSet[strings.ToLower(class)] = true
	}
	removeMatching(n, func(node *html.Node) bool {
		for _, a := range node.Attr {
			if a.Key != "class" {
				continue
			}
			for _, c := range strings.Fields(strings.ToLower(a.Val)) {
				if classSet[c] {
					return true
				}
			}
		}
		return false
	})
}

func removeMatching(n *html.Node, pred func(*html.Node) bool) {
	var doomed []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && pred(node) {
			doomed = append(doomed, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	for _, node := range doomed {
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
	}
}

func renderNode(n *html.Node) string {
	var sb strings.Builder
	html.Render(&sb, n)
	return sb.String()
}

// tidyMarkdown collapses excessive blank lines and trailing whitespace.
func tidyMarkdown(content string) string {
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// firstHeading returns the first H1 text in markdown, if any.
func firstHeading(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
