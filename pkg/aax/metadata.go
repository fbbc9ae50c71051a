package aax

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/listenupapp/aaxconv/pkg/aax/internal/binary"
)

// extractMetadata pulls the item-list tags from moov/udta/meta/ilst. Every
// field is optional; a missing box at any level just leaves the metadata
// empty.
func extractMetadata(sr *binary.SafeReader, moov *Atom, meta *Metadata) {
	udta, err := findChildAtom(sr, moov, "udta")
	if err != nil {
		return
	}
	metaAtom, err := findChildAtom(sr, udta, "meta")
	if err != nil {
		return
	}

	// meta is a full box: 4 bytes of version+flags before the children.
	ilst, err := findAtom(sr, metaAtom.DataOffset()+4, metaAtom.DataEnd(), "ilst")
	if err != nil {
		return
	}

	offset := ilst.DataOffset()
	end := ilst.DataEnd()
	for offset < end {
		tag, err := readAtomHeader(sr, offset)
		if err != nil {
			return
		}
		if tag.Type == "----" {
			applyCustomTag(sr, tag, meta)
		} else {
			applyTag(sr, tag, meta)
		}
		offset += int64(tag.Size)
	}
}

// applyCustomTag parses a "----" freeform atom (mean/name/data children) and
// maps the audiobook fields Audible and most taggers agree on.
func applyCustomTag(sr *binary.SafeReader, tag *Atom, meta *Metadata) {
	var fieldName, value string

	offset := tag.DataOffset()
	end := tag.DataEnd()
	for offset < end {
		child, err := readAtomHeader(sr, offset)
		if err != nil {
			return
		}

		switch child.Type {
		case "name":
			// Field name after version+flags.
			if child.DataSize() > 4 {
				buf := make([]byte, child.DataSize()-4)
				if err := sr.ReadAt(buf, child.DataOffset()+4, "custom tag name"); err == nil {
					fieldName = string(buf)
				}
			}
		case "data":
			// Value after version, flags, and the reserved word.
			if child.DataSize() > 8 {
				buf := make([]byte, child.DataSize()-8)
				if err := sr.ReadAt(buf, child.DataOffset()+8, "custom tag value"); err == nil {
					value = strings.TrimSpace(strings.TrimRight(string(buf), "\x00"))
				}
			}
		}

		offset += int64(child.Size)
	}

	if value == "" {
		return
	}
	switch strings.ToLower(fieldName) {
	case "series":
		meta.Series = value
	case "narrator":
		if meta.Narrator == "" {
			meta.Narrator = value
		}
	case "publisher":
		if meta.Publisher == "" {
			meta.Publisher = value
		}
	}
}

// applyTag maps one ilst entry to a metadata field.
// Note: in MP4, © is the single byte 0xA9, so "©nam" is "\xA9nam" here.
func applyTag(sr *binary.SafeReader, tag *Atom, meta *Metadata) {
	switch tag.Type {
	case "\xA9nam":
		meta.Title = tagString(sr, tag)
	case "\xA9ART":
		meta.Author = tagString(sr, tag)
	case "aART":
		meta.Narrator = tagString(sr, tag)
	case "\xA9pub", "pub ":
		meta.Publisher = tagString(sr, tag)
	case "cprt":
		meta.Copyright = tagString(sr, tag)
	case "\xA9des", "desc":
		if value := tagString(sr, tag); value != "" {
			meta.Description = value
		}
	case "\xA9cmt":
		// Comment is a fallback for files without a description atom.
		if value := tagString(sr, tag); value != "" && meta.Description == "" {
			meta.Description = value
		}
	case "\xA9day":
		value := tagString(sr, tag)
		// Dates arrive as "2008" or "2008-04-21"; the year is enough.
		if len(value) >= 4 {
			if year, err := strconv.Atoi(value[:4]); err == nil {
				meta.Year = year
			}
		}
	case "covr":
		if raw := tagBytes(sr, tag); len(raw) > 0 {
			meta.Cover = raw
			meta.CoverMIME = sniffImageMIME(raw)
		}
	}
}

// tagBytes returns the raw value of a tag's data atom, nil when absent.
func tagBytes(sr *binary.SafeReader, tag *Atom) []byte {
	if tag.DataSize() == 0 {
		return nil
	}

	dataAtom, err := findAtom(sr, tag.DataOffset(), tag.DataEnd(), "data")
	if err != nil {
		return nil
	}

	// Skip version (1 byte) + flags (3 bytes) + reserved (4 bytes).
	valueOffset := dataAtom.DataOffset() + 8
	valueSize := int64(dataAtom.DataSize()) - 8
	if valueSize <= 0 {
		return nil
	}

	buf := make([]byte, valueSize)
	if err := sr.ReadAt(buf, valueOffset, "metadata value"); err != nil {
		return nil
	}
	return buf
}

// tagString returns a tag's value as a trimmed string.
func tagString(sr *binary.SafeReader, tag *Atom) string {
	value := string(tagBytes(sr, tag))
	value = strings.TrimRight(value, "\x00")
	return strings.TrimSpace(value)
}

// sniffImageMIME detects the cover image type from its magic bytes:
// JPEG when the first two bytes are FF D8, PNG otherwise.
func sniffImageMIME(raw []byte) string {
	if len(raw) >= 2 && bytes.Equal(raw[:2], []byte{0xFF, 0xD8}) {
		return "image/jpeg"
	}
	return "image/png"
}
