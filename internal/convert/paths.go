package convert

import (
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/listenupapp/aaxconv/pkg/aax"
)

var (
	// Characters that are unsafe in file names on at least one platform.
	unsafeCharsRe = regexp.MustCompile(`[/\\?*"<>|]`)
	// Runs of whitespace collapse to a single space.
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// SanitizeName makes a metadata string safe for use as a path component:
// colons become " -", unsafe characters are removed, whitespace collapses,
// and the result is trimmed.
func SanitizeName(input string) string {
	s := norm.NFC.String(input)
	s = strings.ReplaceAll(s, ":", " -")
	s = unsafeCharsRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// outputPath computes the destination for a converted book:
//
//	<dir>/<author>/[<series>/]<title>.<ext>      (structured)
//	<dir>/<title>.<ext>                          (flat)
//
// Missing titles fall back to the input's base name; missing authors group
// under "Unknown Author".
func outputPath(dir string, meta aax.Metadata, inputPath string, ext string, flat, seriesInFolders bool) string {
	title := SanitizeName(meta.Title)
	if title == "" {
		base := filepath.Base(inputPath)
		title = SanitizeName(strings.TrimSuffix(base, filepath.Ext(base)))
	}
	if title == "" {
		title = "Untitled"
	}

	if flat {
		return filepath.Join(dir, title+"."+ext)
	}

	author := SanitizeName(meta.Author)
	if author == "" {
		author = "Unknown Author"
	}

	parts := []string{dir, author}
	if seriesInFolders {
		if series := SanitizeName(meta.Series); series != "" {
			parts = append(parts, series)
		}
	}
	parts = append(parts, title+"."+ext)
	return filepath.Join(parts...)
}
