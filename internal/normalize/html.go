package normalize

import (
	"strings"

	"golang.org/x/net/html"
)

// blockElements end a line of text when they close.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "table": true, "ul": true, "ol": true,
}

// HTMLToText extracts readable text from an HTML body. Script and style
// contents are dropped and block elements become line breaks.
func HTMLToText(body string) string {
	z := html.NewTokenizer(strings.NewReader(body))
	var sb strings.Builder
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return blankLinesRe.ReplaceAllString(strings.TrimSpace(sb.String()), "\n\n")
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skip++
			}
			if tag == "br" {
				sb.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			if blockElements[tag] {
				sb.WriteString("\n")
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text == "" {
				continue
			}
			if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
				sb.WriteString(" ")
			}
			sb.WriteString(text)
		}
	}
}
