package scraper

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	reSpaces     = regexp.MustCompile(`[ \t\f\r\v\x{00a0}]+`)
	reBlankLines = regexp.MustCompile(`\n{3,}`)
)

var skipTags = map[string]bool{
	"script": true, "style": true, "nav": true, "footer": true,
	"header": true, "noscript": true, "svg": true, "iframe": true,
	"form": true, "aside": true,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"blockquote": true, "pre": true, "ul": true, "ol": true, "table": true,
	"tr": true, "figure": true, "figcaption": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// ExtractText converts HTML to clean structured text, removing
// navigation/footer/scripts. Block elements become separate paragraphs
// divided by a blank line.
func ExtractText(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return htmlContent
	}

	var sb strings.Builder
	extractTextFromNode(doc, &sb)
	return NormalizeText(sb.String())
}

// NormalizeText collapses runs of inline whitespace, trims every line and
// keeps at most one blank line between paragraphs.
func NormalizeText(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(reSpaces.ReplaceAllString(line, " "))
	}
	out := strings.Join(lines, "\n")
	out = reBlankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

func extractTextFromNode(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode {
		if skipTags[n.Data] {
			return
		}
		if blockTags[n.Data] {
			sb.WriteString("\n\n")
		}
		switch n.Data {
		case "h1":
			sb.WriteString("# ")
		case "h2":
			sb.WriteString("## ")
		case "h3":
			sb.WriteString("### ")
		case "h4":
			sb.WriteString("#### ")
		case "li":
			sb.WriteString("\n- ")
		case "br":
			sb.WriteString("\n")
		}
	}

	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractTextFromNode(c, sb)
	}

	if n.Type == html.ElementNode && blockTags[n.Data] {
		sb.WriteString("\n\n")
	}
}
