// Package aaxtest assembles minimal Audible-style containers in memory for
// tests: an aavd sound track with esds and adrm children, an optional text
// chapter track, an item list, and an mdat laid out to match the sample
// tables. Callers supply the adrm blob and (optionally encrypted) sample
// payloads; this package does no cryptography.
package aaxtest

import (
	"bytes"
	"encoding/binary"
	"os"
)

// Chapter is one chapter of the synthetic book.
type Chapter struct {
	Title      string
	DurationMs uint32
}

// Book describes the fixture to build.
type Book struct {
	Brand string // defaults to "aax "

	Title     string
	Author    string
	Narrator  string
	Year      string // ©day value, e.g. "2008-04-21"
	Cover     []byte
	Series    string

	Timescale     uint32 // defaults to 44100
	SampleRate    uint32 // defaults to Timescale
	Channels      uint16 // defaults to 2
	DecoderConfig []byte
	Adrm          []byte

	Samples     [][]byte // one payload per access unit, stored verbatim
	SampleTicks uint32   // per-sample duration, defaults to 1024

	Chapters []Chapter
}

// Build serializes the book.
func (b *Book) Build() []byte {
	book := *b
	if book.Brand == "" {
		book.Brand = "aax "
	}
	if book.Timescale == 0 {
		book.Timescale = 44100
	}
	if book.SampleRate == 0 {
		book.SampleRate = book.Timescale
	}
	if book.Channels == 0 {
		book.Channels = 2
	}
	if book.SampleTicks == 0 {
		book.SampleTicks = 1024
	}
	return book.build()
}

// WriteFile builds the book and writes it to path.
func (b *Book) WriteFile(path string) error {
	return os.WriteFile(path, b.Build(), 0o644)
}

func (b *Book) build() []byte {
	// Text-track samples: [u16 length][utf-8 title].
	var textPayload []byte
	var textSizes []uint32
	for _, ch := range b.Chapters {
		sample := append(u16(uint16(len(ch.Title))), []byte(ch.Title)...)
		textPayload = append(textPayload, sample...)
		textSizes = append(textSizes, uint32(len(sample)))
	}

	var audioSizes []uint32
	var audioPayload []byte
	for _, s := range b.Samples {
		audioSizes = append(audioSizes, uint32(len(s)))
		audioPayload = append(audioPayload, s...)
	}

	ftyp := atom("ftyp", []byte(b.Brand), u32(0), []byte(b.Brand))

	buildMoov := func(audioOffsets, textOffsets []uint32) []byte {
		parts := [][]byte{b.buildAudioTrak(audioSizes, audioOffsets)}
		if len(b.Chapters) > 0 {
			parts = append(parts, b.buildTextTrak(textSizes, textOffsets))
		}
		if udta := b.buildUdta(); udta != nil {
			parts = append(parts, udta)
		}
		return atom("moov", parts...)
	}

	// moov size does not depend on offset values, so measure with zeros.
	moovSize := len(buildMoov(make([]uint32, len(audioSizes)), make([]uint32, len(textSizes))))

	cursor := uint32(len(ftyp) + moovSize + 8)
	audioOffsets := make([]uint32, len(audioSizes))
	for i, size := range audioSizes {
		audioOffsets[i] = cursor
		cursor += size
	}
	textOffsets := make([]uint32, len(textSizes))
	for i, size := range textSizes {
		textOffsets[i] = cursor
		cursor += size
	}

	moov := buildMoov(audioOffsets, textOffsets)
	mdat := atom("mdat", audioPayload, textPayload)

	out := append([]byte{}, ftyp...)
	out = append(out, moov...)
	return append(out, mdat...)
}

// buildAudioTrak lays out one chunk per sample for simplicity.
func (b *Book) buildAudioTrak(sizes, offsets []uint32) []byte {
	duration := uint32(len(sizes)) * b.SampleTicks

	var children []byte
	if len(b.DecoderConfig) > 0 {
		children = append(children, fullAtom("esds", 0, b.DecoderConfig)...)
	}
	if len(b.Adrm) > 0 {
		children = append(children, atom("adrm", b.Adrm)...)
	}

	entry := atom("aavd",
		make([]byte, 6), u16(1), // reserved, data_reference_index
		u16(0), u16(0), u32(0), // version, revision, vendor
		u16(b.Channels), u16(16),
		u16(0), u16(0),
		u32(b.SampleRate<<16),
		children,
	)

	return buildTrak("soun", b.Timescale, duration, entry, sizes, b.SampleTicks, offsets)
}

func (b *Book) buildTextTrak(sizes, offsets []uint32) []byte {
	var duration uint32
	durations := make([]uint32, len(b.Chapters))
	for i, ch := range b.Chapters {
		// Text track runs at millisecond resolution.
		durations[i] = ch.DurationMs
		duration += ch.DurationMs
	}

	entry := atom("text", make([]byte, 6), u16(1), make([]byte, 28))

	// Per-chapter durations vary, so stts carries one run per sample.
	var sttsRuns []byte
	for _, d := range durations {
		sttsRuns = append(sttsRuns, u32(1)...)
		sttsRuns = append(sttsRuns, u32(d)...)
	}
	stts := fullAtom("stts", 0, u32(uint32(len(durations))), sttsRuns)

	return buildTrakWithStts("text", 1000, duration, entry, sizes, stts, offsets)
}

func buildTrak(handler string, timescale, duration uint32, entry []byte, sizes []uint32, ticks uint32, offsets []uint32) []byte {
	stts := fullAtom("stts", 0, u32(1), u32(uint32(len(sizes))), u32(ticks))
	return buildTrakWithStts(handler, timescale, duration, entry, sizes, stts, offsets)
}

func buildTrakWithStts(handler string, timescale, duration uint32, entry []byte, sizes []uint32, stts []byte, offsets []uint32) []byte {
	mdhd := fullAtom("mdhd", 0,
		u32(0), u32(0),
		u32(timescale), u32(duration),
		u16(0x55C4), u16(0),
	)

	hdlr := fullAtom("hdlr", 0,
		u32(0),
		[]byte(handler),
		u32(0), u32(0), u32(0),
		[]byte{0},
	)

	stsd := fullAtom("stsd", 0, u32(1), entry)

	stszPayload := [][]byte{u32(0), u32(uint32(len(sizes)))}
	for _, s := range sizes {
		stszPayload = append(stszPayload, u32(s))
	}
	stsz := fullAtom("stsz", 0, stszPayload...)

	stcoPayload := [][]byte{u32(uint32(len(offsets)))}
	for _, off := range offsets {
		stcoPayload = append(stcoPayload, u32(off))
	}
	stco := fullAtom("stco", 0, stcoPayload...)

	stbl := atom("stbl", stsd, stts, stsz, stco)
	minf := atom("minf", stbl)
	mdia := atom("mdia", mdhd, hdlr, minf)
	return atom("trak", mdia)
}

func (b *Book) buildUdta() []byte {
	var tags [][]byte
	addText := func(fourcc, value string) {
		if value == "" {
			return
		}
		tags = append(tags, atom(fourcc, fullAtom("data", 0, u32(0), []byte(value))))
	}
	addText("\xA9nam", b.Title)
	addText("\xA9ART", b.Author)
	addText("aART", b.Narrator)
	addText("\xA9day", b.Year)
	if len(b.Cover) > 0 {
		tags = append(tags, atom("covr", fullAtom("data", 0, u32(0), b.Cover)))
	}
	if b.Series != "" {
		tags = append(tags, atom("----",
			fullAtom("mean", 0, []byte("com.apple.iTunes")),
			fullAtom("name", 0, []byte("SERIES")),
			fullAtom("data", 0, u32(0), []byte(b.Series)),
		))
	}

	if len(tags) == 0 {
		return nil
	}

	var ilstPayload []byte
	for _, tag := range tags {
		ilstPayload = append(ilstPayload, tag...)
	}
	ilst := atom("ilst", ilstPayload)
	meta := fullAtom("meta", 0, ilst)
	return atom("udta", meta)
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func atom(fourcc string, parts ...[]byte) []byte {
	var payload bytes.Buffer
	for _, p := range parts {
		payload.Write(p)
	}
	out := make([]byte, 0, 8+payload.Len())
	out = append(out, u32(uint32(8+payload.Len()))...)
	out = append(out, fourcc...)
	return append(out, payload.Bytes()...)
}

func fullAtom(fourcc string, version byte, parts ...[]byte) []byte {
	all := append([][]byte{{version, 0, 0, 0}}, parts...)
	return atom(fourcc, all...)
}
