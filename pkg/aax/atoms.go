package aax

import (
	"fmt"

	"github.com/listenupapp/aaxconv/pkg/aax/internal/binary"
)

// Atom represents an ISO-BMFF box: a (size, fourcc) header plus payload.
type Atom struct {
	Size     uint64 // Total size including header
	Type     string // 4-character type code
	Offset   int64  // Position in file
	Extended bool   // Whether this uses 64-bit extended size
}

// DataSize returns the size of the atom's data (excluding header).
func (a *Atom) DataSize() uint64 {
	headerSize := uint64(8)
	if a.Extended {
		headerSize = 16
	}
	if a.Size < headerSize {
		return 0
	}
	return a.Size - headerSize
}

// DataOffset returns the file offset where the atom's data starts.
func (a *Atom) DataOffset() int64 {
	headerSize := int64(8)
	if a.Extended {
		headerSize = 16
	}
	return a.Offset + headerSize
}

// DataEnd returns the file offset just past the atom's data.
func (a *Atom) DataEnd() int64 {
	return a.DataOffset() + int64(a.DataSize())
}

// readAtomHeader reads an atom header at the given offset.
func readAtomHeader(sr *binary.SafeReader, offset int64) (*Atom, error) {
	// Read size (4 bytes)
	size32, err := binary.Read[uint32](sr, offset, "atom size")
	if err != nil {
		return nil, err
	}

	// Read type (4 bytes)
	typeBytes := make([]byte, 4)
	if err := sr.ReadAt(typeBytes, offset+4, "atom type"); err != nil {
		return nil, err
	}
	atomType := string(typeBytes)

	atom := &Atom{
		Type:   atomType,
		Offset: offset,
	}

	switch size32 {
	case 1:
		// Extended: a 64-bit size follows the fourcc.
		size64, err := binary.Read[uint64](sr, offset+8, "extended atom size")
		if err != nil {
			return nil, err
		}
		atom.Size = size64
		atom.Extended = true
	case 0:
		// Box extends to end of file. This is read the same way at any
		// nesting level; a nested size==0 box is not rejected.
		atom.Size = uint64(sr.Size() - offset)
	default:
		atom.Size = uint64(size32)
	}

	// Validate atom size.
	if atom.Size < 8 {
		return nil, &CorruptedFileError{
			Path:   sr.Path(),
			Offset: offset,
			Reason: fmt.Sprintf("invalid atom size %d (minimum is 8)", atom.Size),
		}
	}
	if offset+int64(atom.Size) > sr.Size() {
		return nil, &CorruptedFileError{
			Path:   sr.Path(),
			Offset: offset,
			Reason: fmt.Sprintf("atom %q of size %d extends past end of file", atom.Type, atom.Size),
		}
	}

	return atom, nil
}

// findAtom searches for an atom of the given type within [start, end).
// Returns the first matching atom or an error if not found.
func findAtom(sr *binary.SafeReader, start, end int64, atomType string) (*Atom, error) {
	offset := start

	for offset < end {
		atom, err := readAtomHeader(sr, offset)
		if err != nil {
			return nil, err
		}

		if atom.Type == atomType {
			return atom, nil
		}

		offset += int64(atom.Size)
	}

	return nil, fmt.Errorf("atom %q not found", atomType)
}

// findChildAtom searches the direct children of parent for the given type.
func findChildAtom(sr *binary.SafeReader, parent *Atom, atomType string) (*Atom, error) {
	return findAtom(sr, parent.DataOffset(), parent.DataEnd(), atomType)
}

// findTopLevelAtom scans the whole file for a top-level atom. A trailing
// size==0 atom (extends to EOF) is tolerated.
func findTopLevelAtom(sr *binary.SafeReader, atomType string) (*Atom, error) {
	atom, err := findAtom(sr, 0, sr.Size(), atomType)
	if err != nil {
		return nil, &CorruptedFileError{
			Path:   sr.Path(),
			Offset: 0,
			Reason: fmt.Sprintf("missing top-level %q atom", atomType),
		}
	}
	return atom, nil
}

// eachChildAtom calls fn for every direct child of parent, in file order.
// Iteration stops early when fn returns false.
func eachChildAtom(sr *binary.SafeReader, parent *Atom, fn func(*Atom) (bool, error)) error {
	offset := parent.DataOffset()
	end := parent.DataEnd()

	for offset < end {
		atom, err := readAtomHeader(sr, offset)
		if err != nil {
			return err
		}

		cont, err := fn(atom)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}

		offset += int64(atom.Size)
	}

	return nil
}
