// Package mux writes fast-start M4A/M4B containers: the moov index precedes
// the mdat payload so players can start immediately. Sample metadata is
// accumulated in memory while packet payloads stream into a spill file;
// finalization lays out the index against the final file geometry and then
// splices the payload in behind it.
package mux

import (
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/listenupapp/aaxconv/internal/errors"
)

// Output brands, each with its mandatory trailing space.
const (
	BrandM4A = "M4A "
	BrandM4B = "M4B "
)

// movieTimescale is the mvhd timescale; durations there are milliseconds.
const movieTimescale = 1000

// samplesPerChunk groups packets into chunks so the chunk-offset table stays
// small without complicating the layout.
const samplesPerChunk = 32

// Config configures a muxer instance.
type Config struct {
	Brand string // BrandM4A or BrandM4B
}

// TrackConfig describes the single audio track.
type TrackConfig struct {
	Timescale     uint32
	SampleRate    int
	Channels      int
	DecoderConfig []byte // esds descriptor bytes, written verbatim
}

// Packet is one access unit handed to WritePacket. Timestamps are seconds
// from stream start and must be non-decreasing.
type Packet struct {
	Data      []byte
	Timestamp float64
	Duration  float64
	Keyframe  bool
}

// Tags are the item-list entries carried into the output.
type Tags struct {
	Title       string
	Author      string
	Narrator    string
	Publisher   string
	Copyright   string
	Description string
	Year        int
	Cover       []byte
	CoverMIME   string // image/jpeg or image/png
}

// ChapterMark is one chapter for the chpl list.
type ChapterMark struct {
	Title   string
	StartMs int64
}

// sampleMeta is the per-packet bookkeeping kept until finalization.
type sampleMeta struct {
	size     uint32
	duration uint32 // track timescale ticks
}

// Muxer writes one audio track plus tags and chapters into an MP4 container.
type Muxer struct {
	path  string
	out   *os.File
	spill *os.File

	brand    string
	track    TrackConfig
	hasTrack bool

	tags     Tags
	chapters []ChapterMark

	samples   []sampleMeta
	spillSize int64
	lastTicks uint64 // end of the previous packet, in track ticks

	finalized bool
}

// New creates a muxer writing to path. A sibling spill file holds the raw
// payload until Finalize; both are removed on Abort.
func New(path string, cfg Config) (*Muxer, error) {
	if cfg.Brand != BrandM4A && cfg.Brand != BrandM4B {
		return nil, errors.Muxerf("unknown output brand %q", cfg.Brand)
	}

	out, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIO, "create output file")
	}

	spill, err := os.CreateTemp(filepath.Dir(path), ".aaxconv-mdat-*")
	if err != nil {
		out.Close()
		os.Remove(path)
		return nil, errors.Wrap(err, errors.CodeIO, "create spill file")
	}

	return &Muxer{
		path:  path,
		out:   out,
		spill: spill,
		brand: cfg.Brand,
	}, nil
}

// AddAudioTrack declares the audio track. Exactly one track is supported;
// its ID is always 1.
func (m *Muxer) AddAudioTrack(tc TrackConfig) (int, error) {
	if m.hasTrack {
		return 0, errors.Muxer("audio track already added")
	}
	if tc.Timescale == 0 {
		return 0, errors.Muxer("track timescale must be non-zero")
	}
	if len(tc.DecoderConfig) == 0 {
		return 0, errors.Muxer("decoder configuration is required")
	}
	m.track = tc
	m.hasTrack = true
	return 1, nil
}

// SetTags records the item-list tags. Any subset may be empty.
func (m *Muxer) SetTags(tags Tags) {
	m.tags = tags
}

// SetChapters records the chapter list. Marks must be time-ordered.
func (m *Muxer) SetChapters(chapters []ChapterMark) {
	m.chapters = chapters
}

// WritePacket appends one access unit. Packets must arrive in timestamp
// order; durations are converted to track ticks against the cumulative
// timeline so rounding never drifts.
func (m *Muxer) WritePacket(trackID int, p Packet) error {
	if m.finalized {
		return errors.Muxer("muxer already finalized")
	}
	if !m.hasTrack || trackID != 1 {
		return errors.Muxerf("unknown track id %d", trackID)
	}

	endTicks := uint64(math.Round((p.Timestamp + p.Duration) * float64(m.track.Timescale)))
	if endTicks < m.lastTicks {
		return errors.Muxerf("packet at %.3fs is out of order", p.Timestamp)
	}
	duration := endTicks - m.lastTicks
	if duration > math.MaxUint32 {
		return errors.Muxerf("packet duration %d ticks out of range", duration)
	}
	m.lastTicks = endTicks

	if _, err := m.spill.Write(p.Data); err != nil {
		return errors.Wrap(err, errors.CodeIO, "write sample payload")
	}
	m.spillSize += int64(len(p.Data))

	m.samples = append(m.samples, sampleMeta{
		size:     uint32(len(p.Data)),
		duration: uint32(duration),
	})
	return nil
}

// Finalize writes ftyp and moov, splices the payload in as mdat, and closes
// the output. The muxer is unusable afterwards.
func (m *Muxer) Finalize() error {
	if m.finalized {
		return errors.Muxer("muxer already finalized")
	}
	if !m.hasTrack {
		return errors.Muxer("no audio track added")
	}
	m.finalized = true

	ftyp := m.buildFtyp()

	// Wide offsets force co64 and the 16-byte mdat header. The decision must
	// precede layout because it changes the moov size.
	wide := m.spillSize+int64(len(ftyp))+64*1024 > math.MaxUint32
	mdatHeader := 8
	if wide {
		mdatHeader = 16
	}

	// moov size does not depend on the offset values, only on their count
	// and width, so one measuring pass pins the layout.
	probe := m.buildMoov(0, wide)
	dataStart := int64(len(ftyp)) + int64(len(probe)) + int64(mdatHeader)
	moov := m.buildMoov(dataStart, wide)
	if len(moov) != len(probe) {
		return errors.Muxer("moov layout changed between passes")
	}

	if _, err := m.out.Write(ftyp); err != nil {
		return errors.Wrap(err, errors.CodeIO, "write ftyp")
	}
	if _, err := m.out.Write(moov); err != nil {
		return errors.Wrap(err, errors.CodeIO, "write moov")
	}

	var header boxBuffer
	if wide {
		header.u32(1)
		header.str("mdat")
		header.u64(uint64(m.spillSize) + 16)
	} else {
		header.u32(uint32(m.spillSize) + 8)
		header.str("mdat")
	}
	if _, err := m.out.Write(header.bytes()); err != nil {
		return errors.Wrap(err, errors.CodeIO, "write mdat header")
	}

	if _, err := m.spill.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, errors.CodeIO, "rewind spill file")
	}
	if _, err := io.Copy(m.out, m.spill); err != nil {
		return errors.Wrap(err, errors.CodeIO, "copy sample payload")
	}

	m.closeSpill()
	out := m.out
	m.out = nil // a later Abort must not remove the finished file
	if err := out.Close(); err != nil {
		return errors.Wrap(err, errors.CodeIO, "close output file")
	}
	return nil
}

// Abort releases the muxer without producing output. The partially written
// output file is removed; safe to call after a failed Finalize.
func (m *Muxer) Abort() {
	m.finalized = true
	m.closeSpill()
	if m.out != nil {
		m.out.Close()
		os.Remove(m.path)
		m.out = nil
	}
}

func (m *Muxer) closeSpill() {
	if m.spill != nil {
		name := m.spill.Name()
		m.spill.Close()
		os.Remove(name)
		m.spill = nil
	}
}

// durationTicks is the total track duration in track timescale ticks.
func (m *Muxer) durationTicks() uint64 {
	return m.lastTicks
}

// durationMs is the total duration in movie timescale units.
func (m *Muxer) durationMs() uint64 {
	if m.track.Timescale == 0 {
		return 0
	}
	return m.durationTicks() * movieTimescale / uint64(m.track.Timescale)
}

func (m *Muxer) buildFtyp() []byte {
	var b boxBuffer
	b.push("ftyp")
	b.str(m.brand)
	b.u32(0x200) // minor version
	b.str(m.brand)
	b.str("M4A ")
	b.str("mp42")
	b.str("isom")
	b.pop()
	return b.bytes()
}

