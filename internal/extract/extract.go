// Package extract recovers readable text from raw page HTML for clients that
// submit markup instead of extracted text.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// Article is the text content of a page.
type Article struct {
	Title string
	Text  string
}

// FromHTML extracts the main article of html. When readability finds no
// article body, the visible body text is used instead.
func FromHTML(rawURL, html string) (Article, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return Article{}, fmt.Errorf("parse url: %w", err)
	}

	var out Article
	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err == nil {
		out.Title = Normalize(article.Title)
		out.Text = Normalize(article.TextContent)
	}

	if out.Text == "" {
		fallback, ferr := bodyText(html)
		if ferr != nil {
			if err != nil {
				return Article{}, fmt.Errorf("extract article: %w", err)
			}
			return Article{}, ferr
		}
		if out.Title == "" {
			out.Title = fallback.Title
		}
		out.Text = fallback.Text
	}

	if out.Text == "" {
		return Article{}, fmt.Errorf("no text found in html")
	}
	return out, nil
}

func bodyText(html string) (Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Article{}, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template, svg, nav, footer").Remove()

	return Article{
		Title: Normalize(doc.Find("title").First().Text()),
		Text:  Normalize(doc.Find("body").Text()),
	}, nil
}

// Normalize collapses runs of whitespace into single spaces, keeping
// paragraph breaks as one newline.
func Normalize(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
