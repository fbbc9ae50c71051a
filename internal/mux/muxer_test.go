package mux

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/aaxconv/pkg/aax"
)

var testDecoderConfig = []byte{
	0x03, 0x19, 0x00, 0x01, 0x00, 0x04, 0x11, 0x40,
	0x15, 0x05, 0x12, 0x10, 0x06, 0x01, 0x02,
}

func newTestMuxer(t *testing.T, brand string) (*Muxer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.m4b")
	m, err := New(path, Config{Brand: brand})
	require.NoError(t, err)
	t.Cleanup(m.Abort)

	_, err = m.AddAudioTrack(TrackConfig{
		Timescale:     44100,
		SampleRate:    44100,
		Channels:      2,
		DecoderConfig: testDecoderConfig,
	})
	require.NoError(t, err)
	return m, path
}

// writeFrames feeds n uniform packets of the given size and 1024-tick
// duration, returning the payloads.
func writeFrames(t *testing.T, m *Muxer, n, size int) [][]byte {
	t.Helper()
	var frames [][]byte
	for i := 0; i < n; i++ {
		data := bytes.Repeat([]byte{byte(i + 1)}, size)
		frames = append(frames, data)
		err := m.WritePacket(1, Packet{
			Data:      data,
			Timestamp: float64(i) * 1024 / 44100,
			Duration:  1024.0 / 44100,
			Keyframe:  true,
		})
		require.NoError(t, err)
	}
	return frames
}

func TestMuxer_FastStartLayout(t *testing.T) {
	m, path := newTestMuxer(t, BrandM4B)
	writeFrames(t, m, 10, 64)
	require.NoError(t, m.Finalize())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Box order must be ftyp, moov, mdat.
	var order []string
	for offset := 0; offset+8 <= len(data); {
		size := binary.BigEndian.Uint32(data[offset:])
		order = append(order, string(data[offset+4:offset+8]))
		require.Positive(t, size)
		offset += int(size)
	}
	assert.Equal(t, []string{"ftyp", "moov", "mdat"}, order)
	assert.Equal(t, "M4B ", string(data[8:12]))
}

func TestMuxer_OutputParsesBack(t *testing.T) {
	m, path := newTestMuxer(t, BrandM4B)
	frames := writeFrames(t, m, 70, 48) // spans multiple chunks
	m.SetTags(Tags{
		Title:  "Muxed Book",
		Author: "Ada Writer",
		Year:   2008,
	})
	require.NoError(t, m.Finalize())

	book, err := aax.Parse(path)
	require.NoError(t, err)

	require.NotNil(t, book.Audio)
	assert.Equal(t, "M4B", book.Brand)
	assert.Equal(t, "mp4a", book.Audio.Codec)
	assert.Equal(t, 44100, book.Audio.SampleRate)
	assert.Equal(t, 2, book.Audio.Channels)
	assert.Equal(t, testDecoderConfig, book.Audio.DecoderConfig)
	assert.False(t, book.Encrypted())

	require.Len(t, book.Audio.Samples, len(frames))
	for i, s := range book.Audio.Samples {
		assert.Equal(t, uint32(48), s.Size)
		assert.Equal(t, uint32(1024), s.Duration, "sample %d", i)
	}

	assert.Equal(t, "Muxed Book", book.Metadata.Title)
	assert.Equal(t, "Ada Writer", book.Metadata.Author)
	assert.Equal(t, 2008, book.Metadata.Year)
}

func TestMuxer_SamplePayloadsLandAtIndexedOffsets(t *testing.T) {
	m, path := newTestMuxer(t, BrandM4A)
	frames := writeFrames(t, m, 40, 32)
	require.NoError(t, m.Finalize())

	book, err := aax.Parse(path)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	for i, s := range book.Audio.Samples {
		got := raw[s.Offset : s.Offset+int64(s.Size)]
		assert.True(t, bytes.Equal(frames[i], got), "sample %d payload mismatch", i)
	}
}

func TestMuxer_ChplChapters(t *testing.T) {
	m, path := newTestMuxer(t, BrandM4B)
	writeFrames(t, m, 4, 16)
	m.SetChapters([]ChapterMark{
		{Title: "Opening Credits", StartMs: 0},
		{Title: "Chapter 1", StartMs: 30000},
		{Title: "Chapter 2", StartMs: 60000},
		{Title: "End Credits", StartMs: 90000},
	})
	require.NoError(t, m.Finalize())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	chapters := decodeChpl(t, data)
	require.Len(t, chapters, 4)
	assert.Equal(t, "Opening Credits", chapters[0].title)
	assert.Equal(t, int64(0), chapters[0].startMs)
	assert.Equal(t, "Chapter 2", chapters[2].title)
	assert.Equal(t, int64(60000), chapters[2].startMs)
}

type decodedChapter struct {
	title   string
	startMs int64
}

// decodeChpl finds the chpl box and decodes its entries: after version,
// flags and a reserved word, a one-byte count precedes the entries of
// (start in 100ns, length-prefixed title).
func decodeChpl(t *testing.T, data []byte) []decodedChapter {
	t.Helper()

	idx := bytes.Index(data, []byte("chpl"))
	require.Positive(t, idx, "no chpl box in output")

	p := idx + 4 + 4 + 4 // fourcc, version+flags, reserved
	count := int(data[p])
	p++

	chapters := make([]decodedChapter, 0, count)
	for i := 0; i < count; i++ {
		start := binary.BigEndian.Uint64(data[p:])
		p += 8
		titleLen := int(data[p])
		p++
		title := string(data[p : p+titleLen])
		p += titleLen
		chapters = append(chapters, decodedChapter{title: title, startMs: int64(start / 10000)})
	}
	return chapters
}

func TestMuxer_CoverArtWritten(t *testing.T) {
	m, path := newTestMuxer(t, BrandM4B)
	writeFrames(t, m, 2, 16)
	cover := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{7}, 64)...)
	m.SetTags(Tags{Title: "Covered", Cover: cover, CoverMIME: "image/jpeg"})
	require.NoError(t, m.Finalize())

	book, err := aax.Parse(path)
	require.NoError(t, err)
	assert.Equal(t, cover, book.Metadata.Cover)
	assert.Equal(t, "image/jpeg", book.Metadata.CoverMIME)
}

func TestMuxer_RejectsOutOfOrderPackets(t *testing.T) {
	m, _ := newTestMuxer(t, BrandM4B)
	require.NoError(t, m.WritePacket(1, Packet{Data: make([]byte, 8), Timestamp: 10, Duration: 1}))

	err := m.WritePacket(1, Packet{Data: make([]byte, 8), Timestamp: 1, Duration: 1})
	require.Error(t, err)
}

func TestMuxer_RejectsUnknownTrack(t *testing.T) {
	m, _ := newTestMuxer(t, BrandM4B)
	err := m.WritePacket(2, Packet{Data: make([]byte, 8)})
	require.Error(t, err)
}

func TestMuxer_RejectsUnknownBrand(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "x.mp3"), Config{Brand: "MP3 "})
	require.Error(t, err)
}

func TestMuxer_AbortRemovesOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.m4b")
	m, err := New(path, Config{Brand: BrandM4B})
	require.NoError(t, err)

	m.Abort()

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	// No spill files left behind either.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMuxer_DurationAccumulatesWithoutDrift(t *testing.T) {
	m, path := newTestMuxer(t, BrandM4B)
	// Durations that do not divide the timescale cleanly.
	const n = 1000
	perSample := 1.0 / 3.0
	for i := 0; i < n; i++ {
		err := m.WritePacket(1, Packet{
			Data:      make([]byte, 16),
			Timestamp: float64(i) * perSample,
			Duration:  perSample,
		})
		require.NoError(t, err)
	}
	require.NoError(t, m.Finalize())

	book, err := aax.Parse(path)
	require.NoError(t, err)

	var ticks uint64
	for _, s := range book.Audio.Samples {
		ticks += uint64(s.Duration)
	}
	want := uint64(n) * uint64(44100) / 3
	assert.InDelta(t, float64(want), float64(ticks), 1)
}
