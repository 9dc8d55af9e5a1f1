package publications

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	linkPattern     = regexp.MustCompile(`https?://\S+`)
	footnotePattern = regexp.MustCompile(`\[\d+\]`)
)

// PrepareText flattens a rich-text description into the plain text platforms
// accept: HTML markup becomes text, non-empty lines re-flow into paragraphs
// separated by blank lines, a link repeated verbatim keeps only its first
// occurrence, [n] footnote markers disappear, and zero-width spaces and tabs
// are stripped.
func PrepareText(text string) string {
	plain := htmlToText(text)

	paragraphs := make([]string, 0)
	for _, line := range strings.Split(plain, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paragraphs = append(paragraphs, line)
		}
	}
	out := strings.Join(paragraphs, "\n\n")
	out = dropRepeatedLinks(out)
	out = footnotePattern.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "\u200b", "")
	out = strings.ReplaceAll(out, "\t", "")
	return strings.TrimSpace(out)
}

// ComposeCaption joins the prepared description with the hashtag block the
// way every platform expects it: description first, one blank line, then the
// normalized hashtags on a single line. Duplicate tags collapse and bare
// words gain their leading hash.
func ComposeCaption(description string, hashtags []string) string {
	description = PrepareText(description)

	seen := make(map[string]bool, len(hashtags))
	normalized := make([]string, 0, len(hashtags))
	for _, tag := range hashtags {
		tag = strings.TrimSpace(tag)
		tag = strings.TrimPrefix(tag, "#")
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		normalized = append(normalized, "#"+tag)
	}

	block := strings.Join(normalized, " ")
	switch {
	case description == "":
		return block
	case block == "":
		return description
	default:
		return description + "\n\n" + block
	}
}

// htmlToText renders markup as text. Block-level boundaries and <br> become
// newlines so the paragraph re-flow in PrepareText can pick them up.
func htmlToText(input string) string {
	if !strings.ContainsAny(input, "<&") {
		return input
	}
	var b strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(input))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.WriteString(tokenizer.Token().Data)
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "br", "p", "div", "li":
				b.WriteString("\n")
			}
		}
	}
}

func dropRepeatedLinks(text string) string {
	seen := make(map[string]bool)
	return linkPattern.ReplaceAllStringFunc(text, func(url string) string {
		if seen[url] {
			return ""
		}
		seen[url] = true
		return url
	})
}
