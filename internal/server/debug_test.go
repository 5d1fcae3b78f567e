package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

// tableRows counts the <tr> elements below the element with the given id.
func tableRows(t *testing.T, page, id string) int {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(page))
	require.NoError(t, err)

	var find func(*html.Node) *html.Node
	find = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				if attr.Key == "id" && attr.Val == id {
					return n
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if found := find(c); found != nil {
				return found
			}
		}
		return nil
	}

	table := find(doc)
	require.NotNil(t, table, "no element with id %s", id)

	rows := 0
	var count func(*html.Node)
	count = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			rows++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			count(c)
		}
	}
	count(table)
	return rows
}

func TestDebugPage(t *testing.T) {
	f := newFixture(t)
	f.get("/index.bundle?platform=ios", nil)
	f.get("/%3Cscript%3E.bundle", nil)

	rec := f.get("/debug", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	page := rec.Body.String()
	assert.Equal(t, 3, tableRows(t, page, "bundles"), "header plus one row per bundle")
	assert.NotContains(t, page, "<script>")
	assert.Contains(t, page, "&lt;script&gt;.js")
}

func TestDebugBundles(t *testing.T) {
	f := newFixture(t)
	f.get("/index.bundle?platform=android", nil)
	f.get("/index.bundle?platform=android", nil)

	rec := f.get("/debug/bundles", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot DebugSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	require.Len(t, snapshot.Bundles, 1)
	assert.Equal(t, "index.js", snapshot.Bundles[0].EntryFile)
	assert.Equal(t, "android", snapshot.Bundles[0].Platform)
	assert.Equal(t, int64(1), snapshot.Metrics.TotalBuilds)
	assert.Equal(t, int64(1), snapshot.Metrics.CacheHits)
	assert.False(t, snapshot.HMRListener)
	assert.NotEmpty(t, snapshot.Version)
}
