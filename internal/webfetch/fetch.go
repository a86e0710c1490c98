// Package webfetch downloads a web page and extracts the metadata and main
// text used to enrich a chat answer.
package webfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// maxPageSize bounds how much of a page body is read (2MB).
const maxPageSize = 2 * 1024 * 1024

// maxTextRunes bounds the extracted main text.
const maxTextRunes = 8000

// Page holds the extracted representation of a fetched resource.
type Page struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Source      string   `json:"source"`
	Description string   `json:"description"`
	Author      string   `json:"author"`
	Keywords    []string `json:"keywords"`
	Image       string   `json:"image"`
	Text        string   `json:"text"`
}

// Fetcher downloads and parses pages.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a fetcher with the given timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads rawURL and extracts its content.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid fetch url: %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "parley/1.0 (+chat context fetch)")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	page, err := Extract(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, err
	}
	page.URL = rawURL
	if page.Source == "" {
		page.Source = u.Hostname()
	}
	return page, nil
}

// Extract parses HTML and pulls out title, description, author, keywords,
// representative image, site name, and main text.
func Extract(r io.Reader) (*Page, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	page := &Page{}
	var text strings.Builder
	var inTitle, skip bool

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "nav", "footer", "aside":
				prev := skip
				skip = true
				defer func() { skip = prev }()
			case "title":
				prev := inTitle
				inTitle = true
				defer func() { inTitle = prev }()
			case "meta":
				readMeta(n, page)
			case "p", "h1", "h2", "h3", "li":
				if text.Len() > 0 {
					text.WriteByte('\n')
				}
			}
		case html.TextNode:
			if inTitle {
				if page.Title == "" {
					page.Title = strings.TrimSpace(n.Data)
				}
			} else if !skip {
				if t := strings.TrimSpace(n.Data); t != "" {
					if text.Len() > 0 {
						text.WriteByte(' ')
					}
					text.WriteString(t)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	page.Text = truncateRunes(strings.TrimSpace(text.String()), maxTextRunes)
	return page, nil
}

// readMeta folds one <meta> tag into the page.
func readMeta(n *html.Node, page *Page) {
	var name, property, content string
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "name":
			name = strings.ToLower(attr.Val)
		case "property":
			property = strings.ToLower(attr.Val)
		case "content":
			content = attr.Val
		}
	}
	if content == "" {
		return
	}

	switch {
	case name == "description" || property == "og:description":
		if page.Description == "" {
			page.Description = content
		}
	case name == "author":
		page.Author = content
	case name == "keywords":
		for _, kw := range strings.Split(content, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				page.Keywords = append(page.Keywords, kw)
			}
		}
	case property == "og:image":
		if page.Image == "" {
			page.Image = content
		}
	case property == "og:site_name":
		page.Source = content
	case property == "og:title":
		if page.Title == "" {
			page.Title = content
		}
	}
}

// Summary renders the page as context text for the model.
func (p *Page) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\nSource: %s\nURL: %s\n", p.Title, p.Source, p.URL)
	if p.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", p.Description)
	}
	if p.Author != "" {
		fmt.Fprintf(&sb, "Author: %s\n", p.Author)
	}
	if len(p.Keywords) > 0 {
		fmt.Fprintf(&sb, "Keywords: %s\n", strings.Join(p.Keywords, ", "))
	}
	if p.Text != "" {
		fmt.Fprintf(&sb, "\n%s\n", p.Text)
	}
	return sb.String()
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
