package convert

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/listenupapp/aaxconv/pkg/aax"
)

// writeCoverFile drops the embedded cover art next to the output file, named
// cover.jpg or cover.png by its sniffed type.
func writeCoverFile(outPath string, meta aax.Metadata) error {
	if len(meta.Cover) == 0 {
		return fmt.Errorf("no cover image in source")
	}

	ext := ".png"
	if meta.CoverMIME == "image/jpeg" {
		ext = ".jpg"
	}

	path := filepath.Join(filepath.Dir(outPath), "cover"+ext)
	return os.WriteFile(path, meta.Cover, 0o644)
}
