package videos

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFileName(t *testing.T) {
	cases := map[string]string{
		"clip.mp4":            "clip.mp4",
		"  My Match.mp4 ":     "My-Match.mp4",
		"../../etc/passwd":    "passwd",
		`C:\videos\final.mov`: "final.mov",
		"":                    "",
		".":                   "",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeFileName(in), in)
	}
}

func TestDefaultTitle(t *testing.T) {
	assert.Equal(t, "Derby Final", DefaultTitle("Derby Final.mp4"))
	assert.Equal(t, "archive.tar", DefaultTitle("dir/archive.tar.gz"))
	assert.Equal(t, "", DefaultTitle(""))
	assert.Len(t, []rune(DefaultTitle(strings.Repeat("é", 300)+".mp4")), maxTitleLength)
}

func TestObjectKeyIsUnique(t *testing.T) {
	a := objectKey("clip.mp4")
	b := objectKey("clip.mp4")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "videos/"))
	assert.True(t, strings.HasSuffix(a, "/clip.mp4"))

	blank := objectKey("")
	assert.True(t, strings.HasPrefix(blank, "videos/"))
}
