// Copyright 2024-2026 Aiku AI

// Package bodyfmt converts a plain-text Matrix message body into safe HTML.
package bodyfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	// A language hint is only taken when a newline follows it.
	codeBlockRe = regexp.MustCompile("(?s)```(?:(\\w+)?\\n)?(.*?)```")
	codeRe      = regexp.MustCompile("`([^`\\n\\x00]+)`")
	emRe        = regexp.MustCompile(`\*([^*\n]+?)\*`)
	// linkRe runs on escaped text. The first alternative is a markdown link,
	// the second a bare URL; at the same offset the markdown form wins.
	linkRe = regexp.MustCompile(`\[([^\]\n]+)\]\((https?://[^\s)<\x00]+)\)|https?://[^\s<\x00]+`)
)

// Entities html.EscapeString can emit. None of them is part of a URL, so a
// bare URL ends where the first one starts.
var urlStops = []string{"&lt;", "&gt;", "&#34;", "&#39;"}

const placeholderMark = "\x00"

// Render converts a message body to HTML. All user text is escaped before any
// markup is produced.
func Render(body string) string {
	if body == "" {
		return ""
	}
	// NUL delimits placeholders below and has no business in chat text.
	body = strings.ReplaceAll(body, placeholderMark, "")

	var blocks []string
	text := codeBlockRe.ReplaceAllStringFunc(body, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		lang, content := parts[1], parts[2]
		var b strings.Builder
		b.WriteString("<pre><code")
		if lang != "" {
			b.WriteString(` class="language-`)
			b.WriteString(html.EscapeString(lang))
			b.WriteString(`"`)
		}
		b.WriteString(">")
		b.WriteString(html.EscapeString(content))
		b.WriteString("</code></pre>")
		return stash(&blocks, b.String())
	})

	text = html.EscapeString(text)

	text = codeRe.ReplaceAllStringFunc(text, func(match string) string {
		inner := codeRe.FindStringSubmatch(match)[1]
		return stash(&blocks, "<code>"+inner+"</code>")
	})

	text = emphasize(text)
	text = linkRe.ReplaceAllStringFunc(text, renderLink)

	// Later stashes may enclose earlier placeholders.
	for i := len(blocks) - 1; i >= 0; i-- {
		text = strings.Replace(text, placeholder(i), blocks[i], 1)
	}
	return text
}

// emphasize wraps *spans* that start after whitespace or at the start of the
// text and end before whitespace or at the end. Adjacent spans share the
// whitespace between them.
func emphasize(text string) string {
	var b strings.Builder
	last, pos := 0, 0
	for pos < len(text) {
		loc := emRe.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if (start > 0 && !isSpace(text[start-1])) || (end < len(text) && !isSpace(text[end])) {
			pos = start + 1
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString("<em>")
		b.WriteString(text[pos+loc[2] : pos+loc[3]])
		b.WriteString("</em>")
		last, pos = end, end
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\f', '\r', '\v':
		return true
	}
	return false
}

func renderLink(match string) string {
	if strings.HasPrefix(match, "[") {
		parts := linkRe.FindStringSubmatch(match)
		return anchor(parts[2], parts[1])
	}
	href, rest := splitURL(match)
	return anchor(href, href) + rest
}

// splitURL cuts a bare URL match at the first escaped quote or angle bracket
// and strips trailing sentence punctuation.
func splitURL(match string) (href, rest string) {
	href = match
	for _, stop := range urlStops {
		if i := strings.Index(href, stop); i >= 0 {
			href = href[:i]
		}
	}
	href = strings.TrimRight(href, ".,;:!?")
	if strings.HasSuffix(href, ")") && !strings.Contains(href, "(") {
		href = strings.TrimRight(href, ")")
	}
	return href, match[len(href):]
}

func anchor(href, label string) string {
	return `<a href="` + href + `" target="_blank" rel="noopener">` + label + `</a>`
}

func stash(blocks *[]string, rendered string) string {
	*blocks = append(*blocks, rendered)
	return placeholder(len(*blocks) - 1)
}

func placeholder(i int) string {
	return placeholderMark + "BLOCK" + strconv.Itoa(i) + placeholderMark
}
