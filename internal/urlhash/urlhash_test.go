package urlhash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	urls := []string{
		"https://web-standards.ru/podcast/387/",
		"https://machinelearning.apple.com/research/hyperdiffusion",
		"https://lea.verou.me/blog/2023/state-of-html-2023/",
	}
	for _, u := range urls {
		first, err := Fingerprint(u)
		require.NoError(t, err)
		second, err := Fingerprint(u)
		require.NoError(t, err)
		assert.Equal(t, first, second, u)
		assert.Len(t, first, Size)
	}
}

func TestNormalizeEquivalentURLs(t *testing.T) {
	cases := []struct {
		name string
		a, b string
	}{
		{"utm markers", "https://journal.tinkoff.ru/diary/?utm_source=rss&utm_medium=feed", "https://journal.tinkoff.ru/diary"},
		{"ref and source", "https://example.com/post?ref=hn&source=twitter", "https://example.com/post"},
		{"trailing slash", "https://example.com/a/b/", "https://example.com/a/b"},
		{"fragment", "https://example.com/a#comments", "https://example.com/a"},
		{"case and spaces", "  HTTPS://Example.COM/Post  ", "https://example.com/post"},
		{"query order", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"default port", "https://example.com:443/a", "https://example.com/a"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fa, err := Fingerprint(tc.a)
			require.NoError(t, err)
			fb, err := Fingerprint(tc.b)
			require.NoError(t, err)
			assert.Equal(t, fa, fb)
		})
	}
}

func TestNormalizeKeepsMeaningfulQuery(t *testing.T) {
	a, err := Fingerprint("https://example.com/item?id=1")
	require.NoError(t, err)
	b, err := Fingerprint("https://example.com/item?id=2")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	n, err := Normalize("https://example.com/item?id=1&utm_campaign=x")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/item?id=1", n)
}

func TestNormalizeRejectsInvalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "not a url", "/relative/path", "ftp://example.com/file", "https://"} {
		_, err := Normalize(raw)
		assert.ErrorIs(t, err, ErrInvalidURL, raw)
	}
}
