// Package aax parses Audible AAX audiobook containers.
//
// AAX is an ISO base media file whose sound track hides its AAC payload
// behind an Audible-specific "aavd" sample entry: the decoder configuration
// travels in a normal esds child, while a sibling adrm box carries the
// encrypted key material and the activation checksum. This package reads the
// container only - box tree, sample tables, metadata, chapters, and the raw
// adrm blob. Key derivation and sample decryption are the caller's business.
package aax

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/listenupapp/aaxconv/pkg/aax/internal/binary"
)

// Handler types of interest.
const (
	HandlerSound = "soun"
	HandlerText  = "text"
)

// adrmMinSize is the smallest adrm payload that can hold the 48-byte DRM
// block and the trailing 20-byte checksum.
const adrmMinSize = 88

// SampleEntry locates one access unit within the source file.
type SampleEntry struct {
	Offset   int64  // absolute byte offset
	Size     uint32 // byte size
	Duration uint32 // in track timescale ticks
	Keyframe bool
}

// Track describes one track of the container.
type Track struct {
	Handler   string // "soun" or "text"
	Codec     string // stsd entry fourcc ("aavd", "mp4a", ...)
	Timescale uint32
	Duration  uint64 // in timescale ticks, from mdhd

	// Sound-track specifics.
	Channels      int
	SampleRate    int
	DecoderConfig []byte // esds descriptor bytes, verbatim
	Adrm          []byte // adrm box payload, nil when absent

	Samples []SampleEntry
}

// DurationSeconds returns the track duration derived from the sample table,
// which is authoritative when it disagrees with the mdhd duration.
func (t *Track) DurationSeconds() float64 {
	if t.Timescale == 0 {
		return 0
	}
	var ticks uint64
	for _, s := range t.Samples {
		ticks += uint64(s.Duration)
	}
	if ticks == 0 {
		ticks = t.Duration
	}
	return float64(ticks) / float64(t.Timescale)
}

// Metadata holds the item-list tags of the book. Every field is optional.
type Metadata struct {
	Title       string
	Author      string
	Narrator    string
	Publisher   string
	Copyright   string
	Description string
	Series      string
	Year        int

	Cover     []byte // raw image bytes, nil when absent
	CoverMIME string // sniffed from magic: image/jpeg or image/png
}

// Chapter is one entry of the book's chapter list. Chapters are contiguous:
// each chapter ends where the next one starts.
type Chapter struct {
	Index int
	Title string
	Start time.Duration
	End   time.Duration
}

// Book is the parsed, read-only view of an AAX file. The source file handle
// is closed before Parse returns; sample offsets are absolute so the caller
// can reopen the file and stream payloads on its own.
type Book struct {
	Path  string
	Size  int64
	Brand string

	Audio    *Track
	Text     *Track
	Metadata Metadata
	Chapters []Chapter
}

// Encrypted reports whether the audio track carries Audible DRM.
func (b *Book) Encrypted() bool {
	return b.Audio != nil && len(b.Audio.Adrm) > 0
}

// RequireEncrypted returns a NotEncryptedError when the audio track carries
// no usable adrm payload. Callers that only remove DRM gate on this; callers
// with a passthrough mode may ignore it.
func (b *Book) RequireEncrypted() error {
	if b.Audio == nil || len(b.Audio.Adrm) < adrmMinSize {
		return &NotEncryptedError{Path: b.Path}
	}
	return nil
}

// Parse opens and parses the AAX file at path.
func Parse(path string) (*Book, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	return ParseReader(file, stat.Size(), path)
}

// ParseReader parses an AAX container from an arbitrary random-access source.
// The path is used only in error messages.
func ParseReader(r io.ReaderAt, size int64, path string) (*Book, error) {
	sr := binary.NewSafeReader(r, size, path)

	brand, err := checkBrand(sr)
	if err != nil {
		return nil, err
	}

	book := &Book{
		Path:  path,
		Size:  size,
		Brand: brand,
	}

	moov, err := findTopLevelAtom(sr, "moov")
	if err != nil {
		return nil, err
	}

	tracks, err := resolveTracks(sr, moov)
	if err != nil {
		return nil, err
	}

	for _, track := range tracks {
		switch track.Handler {
		case HandlerSound:
			if book.Audio == nil {
				book.Audio = track
			}
		case HandlerText:
			if book.Text == nil {
				book.Text = track
			}
		}
	}

	if book.Audio == nil {
		return nil, &CorruptedFileError{
			Path:   path,
			Offset: moov.Offset,
			Reason: "no sound track",
		}
	}

	// Sample extents must lie inside the file; a mismatch here means the
	// index and payload disagree and every downstream read would be garbage.
	for _, s := range book.Audio.Samples {
		if s.Offset+int64(s.Size) > size {
			return nil, &CorruptedFileError{
				Path:   path,
				Offset: s.Offset,
				Reason: "sample extends past end of file",
			}
		}
	}

	extractMetadata(sr, moov, &book.Metadata)

	if book.Text != nil {
		chapters, err := readChapters(sr, book.Text)
		if err != nil {
			return nil, err
		}
		book.Chapters = chapters
	}

	return book, nil
}

// acceptedBrands are the trimmed ftyp major brands this parser handles: the
// Audible container itself plus the MP4-audio brands it converts into.
var acceptedBrands = map[string]bool{
	"aax": true,
	"M4B": true,
	"M4A": true,
}

// checkBrand validates the leading ftyp atom and returns the trimmed brand.
func checkBrand(sr *binary.SafeReader) (string, error) {
	atom, err := readAtomHeader(sr, 0)
	if err != nil {
		return "", &UnsupportedFormatError{
			Path:   sr.Path(),
			Reason: "missing ftyp atom",
		}
	}
	if atom.Type != "ftyp" || atom.DataSize() < 4 {
		return "", &UnsupportedFormatError{
			Path:   sr.Path(),
			Reason: "missing ftyp atom",
		}
	}

	brandBytes := make([]byte, 4)
	if err := sr.ReadAt(brandBytes, atom.DataOffset(), "major brand"); err != nil {
		return "", err
	}

	brand := strings.TrimSpace(string(brandBytes))
	if !acceptedBrands[brand] {
		return "", &UnsupportedFormatError{
			Path:   sr.Path(),
			Reason: fmt.Sprintf("major brand %q is not an Audible or MP4-audio brand", brand),
		}
	}
	return brand, nil
}
