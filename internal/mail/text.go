package mail

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// "On Mon, Mar 10, 2025 at 9:00 AM Jane <jane@example.com> wrote:"
	attributionLine = regexp.MustCompile(`(?i)^on .{4,200} wrote:\s*$`)
	originalMarker  = regexp.MustCompile(`(?i)^-{2,}\s*(original message|forwarded message)\s*-{2,}\s*$`)
	outlookHeader   = regexp.MustCompile(`(?i)^from:\s.+$`)
	blankRuns       = regexp.MustCompile(`\n{3,}`)
	spaceRuns       = regexp.MustCompile(`[ \t]+`)
)

// TrimQuoted removes quoted history below the reply
func TrimQuoted(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	lines := strings.Split(body, "\n")

	cut := len(lines)
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") ||
			attributionLine.MatchString(trimmed) ||
			originalMarker.MatchString(trimmed) {
			cut = i
			break
		}
		// Outlook style: a separator line followed by "From:"
		if outlookHeader.MatchString(trimmed) && i > 0 && strings.HasPrefix(strings.TrimSpace(lines[i-1]), "___") {
			cut = i - 1
			break
		}
	}

	// Keep quoted text when nothing precedes it
	kept := strings.TrimSpace(strings.Join(lines[:cut], "\n"))
	if kept == "" {
		return strings.TrimSpace(body)
	}
	return kept
}

// HTMLToText extracts readable text from an HTML body
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr, h1, h2, h3, h4").Each(func(i int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	// Quoted replies from common clients
	doc.Find("blockquote, .gmail_quote, #divRplyFwdMsg").Remove()

	text := doc.Text()
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRuns.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(blankRuns.ReplaceAllString(text, "\n\n"))
}
