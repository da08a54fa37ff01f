package videos

import (
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

const maxTitleLength = 255

func sanitizeFileName(name string) string {
	if name == "" {
		return ""
	}
	clean := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if clean == "" || clean == "." || clean == "/" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(clean))
	for _, r := range clean {
		switch {
		case unicode.IsControl(r):
			continue
		case unicode.IsSpace(r):
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-_.")
}

// DefaultTitle is the file's base name without its extension.
func DefaultTitle(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	title := strings.TrimSuffix(base, path.Ext(base))
	return truncate(title, maxTitleLength)
}

// objectKey places a file under videos/<uuid>/ so names never collide.
func objectKey(name string) string {
	clean := sanitizeFileName(name)
	id := uuid.NewString()
	if clean == "" {
		clean = id
	}
	return fmt.Sprintf("videos/%s/%s", id, clean)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
