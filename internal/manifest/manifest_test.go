package manifest

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/any-hub/offline-hub/internal/cacheerr"
)

func TestParseKeepsExtraFields(t *testing.T) {
	entries, err := Parse([]byte(`[
		{"href": "/apps/tennis/", "title": "Tennis", "tags": ["sport"]},
		{"href": " /apps/notes/ "}
	]`))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "/apps/tennis/", entries[0].Href)
	require.Equal(t, "Tennis", entries[0].Extra["title"])
	require.NotContains(t, entries[0].Extra, "href")
	require.Equal(t, "/apps/notes/", entries[1].Href)
	require.Nil(t, entries[1].Extra)
}

func TestParseRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":       "",
		"not json":    "<html>",
		"object":      `{"href": "/a"}`,
		"truncated":   `[{"href": "/a"}`,
		"scalar item": `["/a"]`,
		"no href":     `[{"title": "x"}]`,
		"blank href":  `[{"href": "  "}]`,
		"number href": `[{"href": 5}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			require.Error(t, err)
			require.True(t, cacheerr.IsMalformedManifest(err), "unexpected error class: %v", err)
		})
	}
}

func TestParseEmptyArray(t *testing.T) {
	entries, err := Parse([]byte(`[]`))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPrecacheSetDedupesAndDropsForeign(t *testing.T) {
	base, err := url.Parse("https://lab.example")
	require.NoError(t, err)

	core := []string{"/", "/index.html", "/assets/site.css", "/index.html"}
	entries := []Entry{
		{Href: "/apps/tennis/"},
		{Href: "index.html#top"},
		{Href: "https://cdn.example/lib.js"},
		{Href: "//lab.example/apps/notes/"},
		{Href: "/apps/tennis/"},
		{Href: "http://lab.example/insecure"},
	}

	coreURLs, extraURLs := PrecacheSet(base, core, entries)
	require.Equal(t, []string{
		"https://lab.example/",
		"https://lab.example/index.html",
		"https://lab.example/assets/site.css",
	}, coreURLs)
	require.Equal(t, []string{
		"https://lab.example/apps/tennis/",
		"https://lab.example/apps/notes/",
	}, extraURLs)
}

func TestPrecacheSetTreatsDefaultPortAsSameOrigin(t *testing.T) {
	base, err := url.Parse("https://lab.example")
	require.NoError(t, err)

	_, extraURLs := PrecacheSet(base, nil, []Entry{
		{Href: "https://lab.example:443/apps/chess/"},
		{Href: "HTTPS://LAB.example/apps/chess/"},
		{Href: "https://lab.example:8443/apps/other/"},
	})
	require.Equal(t, []string{"https://lab.example/apps/chess/"}, extraURLs)
}

func TestPrecacheSetNilBase(t *testing.T) {
	coreURLs, extraURLs := PrecacheSet(nil, []string{"/"}, []Entry{{Href: "/a"}})
	require.Empty(t, coreURLs)
	require.Empty(t, extraURLs)
}
