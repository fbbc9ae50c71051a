package aax

import "fmt"

// UnsupportedFormatError is returned when the file is not an ISO media file
// with an Audible (aax) or MP4-audio (M4A, M4B) major brand.
type UnsupportedFormatError struct {
	Path   string
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("%s: unsupported format: %s", e.Path, e.Reason)
}

// CorruptedFileError is returned when the container structure is invalid.
type CorruptedFileError struct {
	Path   string
	Offset int64
	Reason string
}

func (e *CorruptedFileError) Error() string {
	return fmt.Sprintf("%s: corrupted file at offset %d: %s", e.Path, e.Offset, e.Reason)
}

// NotEncryptedError is returned when the audio track carries no adrm box, or
// one too short to hold the key material and checksum.
// The file may still be a perfectly valid M4A/M4B; it just has no DRM for
// this package's caller to remove.
type NotEncryptedError struct {
	Path string
}

func (e *NotEncryptedError) Error() string {
	return fmt.Sprintf("%s: audio track carries no adrm box (not DRM-encoded)", e.Path)
}
