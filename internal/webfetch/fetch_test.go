package webfetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
<title>Understanding Goroutines</title>
<meta name="description" content="A short tour of Go's concurrency model.">
<meta name="author" content="R. Griesemer">
<meta name="keywords" content="go, concurrency, goroutines">
<meta property="og:site_name" content="Go Blog">
<meta property="og:image" content="https://example.com/cover.png">
</head>
<body>
<nav><a href="/">Home</a><a href="/about">About</a></nav>
<h1>Understanding Goroutines</h1>
<p>Goroutines are lightweight threads managed by the Go runtime.</p>
<script>trackPageView();</script>
<aside>Subscribe to our newsletter!</aside>
<p>Channels let goroutines communicate safely.</p>
<footer>Copyright 2024</footer>
</body>
</html>`

func TestExtract(t *testing.T) {
	page, err := Extract(strings.NewReader(samplePage))
	require.NoError(t, err)

	assert.Equal(t, "Understanding Goroutines", page.Title)
	assert.Equal(t, "A short tour of Go's concurrency model.", page.Description)
	assert.Equal(t, "R. Griesemer", page.Author)
	assert.Equal(t, []string{"go", "concurrency", "goroutines"}, page.Keywords)
	assert.Equal(t, "Go Blog", page.Source)
	assert.Equal(t, "https://example.com/cover.png", page.Image)

	assert.Contains(t, page.Text, "lightweight threads")
	assert.Contains(t, page.Text, "communicate safely")
	assert.NotContains(t, page.Text, "trackPageView", "script content must be skipped")
	assert.NotContains(t, page.Text, "newsletter", "aside content must be skipped")
	assert.NotContains(t, page.Text, "Copyright", "footer content must be skipped")
	assert.NotContains(t, page.Text, "Home", "nav content must be skipped")
}

func TestExtractNestedSkippedRegions(t *testing.T) {
	// A script inside a nav must not re-enable text collection for the rest
	// of the nav.
	page, err := Extract(strings.NewReader(
		`<html><body><nav><script>x()</script><a href="/">hidden link text</a></nav><p>visible</p></body></html>`))
	require.NoError(t, err)

	assert.NotContains(t, page.Text, "hidden link text")
	assert.Contains(t, page.Text, "visible")
}

func TestExtractOGTitleFallback(t *testing.T) {
	page, err := Extract(strings.NewReader(
		`<html><head><meta property="og:title" content="From OG"></head><body><p>body</p></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "From OG", page.Title)
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "parley")
		fmt.Fprint(w, samplePage)
	}))
	defer server.Close()

	f := NewFetcher(5 * time.Second)
	page, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, server.URL, page.URL)
	assert.Equal(t, "Go Blog", page.Source)
}

func TestFetchRejectsBadInput(t *testing.T) {
	f := NewFetcher(5 * time.Second)

	t.Run("non-http scheme", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), "file:///etc/passwd")
		assert.Error(t, err)
	})

	t.Run("relative url", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), "/just/a/path")
		assert.Error(t, err)
	})

	t.Run("non-200 status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		_, err := f.Fetch(context.Background(), server.URL)
		assert.Error(t, err)
	})
}

func TestSummary(t *testing.T) {
	page := &Page{
		URL:         "https://example.com/a",
		Title:       "A Title",
		Source:      "Example",
		Description: "desc",
		Keywords:    []string{"k1", "k2"},
		Text:        "body text",
	}
	s := page.Summary()

	assert.Contains(t, s, "Title: A Title")
	assert.Contains(t, s, "Source: Example")
	assert.Contains(t, s, "Keywords: k1, k2")
	assert.Contains(t, s, "body text")
}
