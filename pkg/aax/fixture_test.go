package aax

// Test fixtures are assembled in memory: a minimal Audible-branded box tree
// with a sound track (aavd entry, esds, adrm), a text chapter track, an
// item list, and an mdat whose layout matches the sample tables.

import (
	"bytes"
	"encoding/binary"
)

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

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// atom assembles a box from its fourcc and payload parts.
func atom(fourcc string, parts ...[]byte) []byte {
	var payload []byte
	for _, p := range parts {
		payload = append(payload, p...)
	}
	out := make([]byte, 0, 8+len(payload))
	out = append(out, u32(uint32(8+len(payload)))...)
	out = append(out, fourcc...)
	return append(out, payload...)
}

// fullAtom prefixes the payload with version and zero flags.
func fullAtom(fourcc string, version byte, parts ...[]byte) []byte {
	all := append([][]byte{{version, 0, 0, 0}}, parts...)
	return atom(fourcc, all...)
}

type fixtureTrack struct {
	handler     string
	codec       string
	timescale   uint32
	channels    uint16
	sampleRate  uint32
	decoderCfg  []byte
	adrm        []byte
	sampleSizes []uint32
	sampleDelta uint32 // uniform per-sample duration
	perChunk    uint32 // samples per chunk; 0 omits stsc (one per chunk)
}

func (ft *fixtureTrack) totalDuration() uint32 {
	return uint32(len(ft.sampleSizes)) * ft.sampleDelta
}

func (ft *fixtureTrack) chunkCount() int {
	per := int(ft.perChunk)
	if per == 0 {
		per = 1
	}
	return (len(ft.sampleSizes) + per - 1) / per
}

// chunkSizes returns the byte size of each chunk.
func (ft *fixtureTrack) chunkSizes() []uint32 {
	per := int(ft.perChunk)
	if per == 0 {
		per = 1
	}
	sizes := make([]uint32, 0, ft.chunkCount())
	for start := 0; start < len(ft.sampleSizes); start += per {
		end := start + per
		if end > len(ft.sampleSizes) {
			end = len(ft.sampleSizes)
		}
		var total uint32
		for _, s := range ft.sampleSizes[start:end] {
			total += s
		}
		sizes = append(sizes, total)
	}
	return sizes
}

// buildTrak serializes the trak box given absolute chunk offsets.
func (ft *fixtureTrack) buildTrak(chunkOffsets []uint32) []byte {
	mdhd := fullAtom("mdhd", 0,
		u32(0), u32(0), // creation, modification
		u32(ft.timescale),
		u32(ft.totalDuration()),
		u16(0x55C4), u16(0), // language, pre_defined
	)

	hdlr := fullAtom("hdlr", 0,
		u32(0),            // pre_defined
		[]byte(ft.handler), // handler type
		u32(0), u32(0), u32(0),
		[]byte{0}, // empty name
	)

	var entryChildren []byte
	if len(ft.decoderCfg) > 0 {
		entryChildren = append(entryChildren, fullAtom("esds", 0, ft.decoderCfg)...)
	}
	if len(ft.adrm) > 0 {
		entryChildren = append(entryChildren, atom("adrm", ft.adrm)...)
	}

	var entry []byte
	if ft.handler == HandlerSound {
		entry = atom(ft.codec,
			make([]byte, 6), u16(1), // reserved, data_reference_index
			u16(0), u16(0), u32(0), // version, revision, vendor
			u16(ft.channels), u16(16), // channels, sample size
			u16(0), u16(0), // compression id, packet size
			u32(ft.sampleRate<<16), // 16.16 fixed point
			entryChildren,
		)
	} else {
		// Text sample entries need only the shared header for our parser.
		entry = atom(ft.codec,
			make([]byte, 6), u16(1),
			make([]byte, 28),
		)
	}

	stsd := fullAtom("stsd", 0, u32(1), entry)

	stts := fullAtom("stts", 0, u32(1),
		u32(uint32(len(ft.sampleSizes))), u32(ft.sampleDelta))

	stszPayload := [][]byte{u32(0), u32(uint32(len(ft.sampleSizes)))}
	for _, s := range ft.sampleSizes {
		stszPayload = append(stszPayload, u32(s))
	}
	stsz := fullAtom("stsz", 0, stszPayload...)

	var stsc []byte
	if ft.perChunk > 0 {
		stsc = fullAtom("stsc", 0, u32(1), u32(1), u32(ft.perChunk), u32(1))
	}

	stcoPayload := [][]byte{u32(uint32(len(chunkOffsets)))}
	for _, off := range chunkOffsets {
		stcoPayload = append(stcoPayload, u32(off))
	}
	stco := fullAtom("stco", 0, stcoPayload...)

	stblParts := [][]byte{stsd, stts, stsz}
	if stsc != nil {
		stblParts = append(stblParts, stsc)
	}
	stblParts = append(stblParts, stco)
	stbl := atom("stbl", stblParts...)

	minf := atom("minf", stbl)
	mdia := atom("mdia", mdhd, hdlr, minf)
	return atom("trak", mdia)
}

// ilstTag builds one item-list entry with a string payload.
func ilstTag(fourcc, value string) []byte {
	data := fullAtom("data", 0, u32(0), []byte(value))
	return atom(fourcc, data)
}

// ilstCustomTag builds a "----" freeform entry (mean/name/data children).
func ilstCustomTag(name, value string) []byte {
	mean := fullAtom("mean", 0, []byte("com.apple.iTunes"))
	nameAtom := fullAtom("name", 0, []byte(name))
	data := fullAtom("data", 0, u32(0), []byte(value))
	return atom("----", mean, nameAtom, data)
}

// ilstBinaryTag builds one item-list entry with a binary payload.
func ilstBinaryTag(fourcc string, value []byte) []byte {
	data := fullAtom("data", 0, u32(0), value)
	return atom(fourcc, data)
}

type fixture struct {
	brand  string
	audio  fixtureTrack
	text   *fixtureTrack
	tags   [][]byte
	titles []string // chapter titles; payloads appended to mdat
}

// defaultFixture matches the canonical test book: 44.1 kHz stereo, four
// chapters, an 88-byte structural adrm blob.
func defaultFixture() *fixture {
	adrm := make([]byte, 88)
	for i := range adrm {
		adrm[i] = byte(i)
	}

	f := &fixture{
		brand: "aax ",
		audio: fixtureTrack{
			handler:     HandlerSound,
			codec:       "aavd",
			timescale:   44100,
			channels:    2,
			sampleRate:  44100,
			decoderCfg:  []byte{0x03, 0x19, 0x00, 0x01, 0x00, 0x04, 0x11, 0x40, 0x15, 0x05, 0x12, 0x10},
			adrm:        adrm,
			sampleSizes: []uint32{640, 644, 648, 652, 656, 660, 664, 668},
			sampleDelta: 1024,
			perChunk:    4,
		},
		text: &fixtureTrack{
			handler:     HandlerText,
			codec:       "text",
			timescale:   1000,
			sampleDelta: 30000, // 30 s per chapter
		},
		titles: []string{"Opening Credits", "Chapter 1", "Chapter 2", "End Credits"},
	}

	f.tags = [][]byte{
		ilstTag("\xA9nam", "The Test Book"),
		ilstTag("\xA9ART", "Ada Writer"),
		ilstTag("aART", "Norma Narrator"),
		ilstTag("cprt", "(P)2008 Test Press"),
		ilstTag("desc", "A book that exists only in tests."),
		ilstTag("\xA9day", "2008-04-21"),
		ilstBinaryTag("covr", append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x42}, 32)...)),
	}

	return f
}

// build serializes the fixture. Chunk offsets are resolved with a second
// pass: moov size is independent of the offset values, so the tree is built
// once with zeros to measure and once with real offsets.
func (f *fixture) build() []byte {
	// Chapter samples: [u16 length][utf-8], one per chunk.
	var textPayload []byte
	var textSizes []uint32
	for _, title := range f.titles {
		sample := append(u16(uint16(len(title))), []byte(title)...)
		textPayload = append(textPayload, sample...)
		textSizes = append(textSizes, uint32(len(sample)))
	}
	if f.text != nil {
		f.text.sampleSizes = textSizes
	}

	ftyp := atom("ftyp", []byte(f.brand), u32(0), []byte(f.brand))

	var audioPayload []byte
	for i, size := range f.audio.sampleSizes {
		chunk := bytes.Repeat([]byte{byte(0x80 + i)}, int(size))
		audioPayload = append(audioPayload, chunk...)
	}

	buildMoov := func(audioOffsets, textOffsets []uint32) []byte {
		parts := [][]byte{f.audio.buildTrak(audioOffsets)}
		if f.text != nil {
			parts = append(parts, f.text.buildTrak(textOffsets))
		}
		if len(f.tags) > 0 {
			var ilstPayload []byte
			for _, tag := range f.tags {
				ilstPayload = append(ilstPayload, tag...)
			}
			ilst := atom("ilst", ilstPayload)
			meta := fullAtom("meta", 0, ilst)
			parts = append(parts, atom("udta", meta))
		}
		return atom("moov", parts...)
	}

	zeroAudio := make([]uint32, f.audio.chunkCount())
	var zeroText []uint32
	if f.text != nil {
		zeroText = make([]uint32, f.text.chunkCount())
	}
	moovSize := len(buildMoov(zeroAudio, zeroText))

	mdatStart := len(ftyp) + moovSize
	dataStart := uint32(mdatStart + 8)

	audioOffsets := make([]uint32, 0, f.audio.chunkCount())
	cursor := dataStart
	for _, size := range f.audio.chunkSizes() {
		audioOffsets = append(audioOffsets, cursor)
		cursor += size
	}
	var textOffsets []uint32
	if f.text != nil {
		for _, size := range f.text.chunkSizes() {
			textOffsets = append(textOffsets, cursor)
			cursor += size
		}
	}

	moov := buildMoov(audioOffsets, textOffsets)

	mdat := atom("mdat", audioPayload, textPayload)

	out := append([]byte{}, ftyp...)
	out = append(out, moov...)
	return append(out, mdat...)
}
