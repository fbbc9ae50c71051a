package mux

import "strconv"

// moov assembly. Box layouts follow ISO/IEC 14496-12; the item list and
// chapter list follow the iTunes and Nero conventions every audiobook
// player understands.

// buildMoov serializes the movie box with chunk offsets based at dataStart.
// The measuring pass calls it with dataStart 0; sizes are identical either
// way because offset width is fixed by wide.
func (m *Muxer) buildMoov(dataStart int64, wide bool) []byte {
	var b boxBuffer

	b.push("moov")
	m.writeMvhd(&b)
	m.writeTrak(&b, dataStart, wide)
	m.writeUdta(&b)
	b.pop()

	return b.bytes()
}

func (m *Muxer) writeMvhd(b *boxBuffer) {
	b.pushFull("mvhd", 0, 0)
	b.u32(0) // creation time
	b.u32(0) // modification time
	b.u32(movieTimescale)
	b.u32(uint32(m.durationMs()))
	b.u32(0x00010000) // rate 1.0
	b.u16(0x0100)     // volume
	b.zero(10)        // reserved
	writeUnityMatrix(b)
	b.zero(24)  // pre_defined
	b.u32(2)    // next track id
	b.pop()
}

func (m *Muxer) writeTrak(b *boxBuffer, dataStart int64, wide bool) {
	b.push("trak")

	// flags 0x7: enabled, in movie, in preview.
	b.pushFull("tkhd", 0, 0x7)
	b.u32(0) // creation time
	b.u32(0) // modification time
	b.u32(1) // track id
	b.u32(0) // reserved
	b.u32(uint32(m.durationMs()))
	b.zero(8)     // reserved
	b.u16(0)      // layer
	b.u16(0)      // alternate group
	b.u16(0x0100) // volume
	b.u16(0)      // reserved
	writeUnityMatrix(b)
	b.u32(0) // width
	b.u32(0) // height
	b.pop()

	b.push("mdia")

	b.pushFull("mdhd", 0, 0)
	b.u32(0) // creation time
	b.u32(0) // modification time
	b.u32(m.track.Timescale)
	b.u32(uint32(m.durationTicks()))
	b.u16(0x55C4) // language: und
	b.u16(0)      // pre_defined
	b.pop()

	b.pushFull("hdlr", 0, 0)
	b.u32(0)
	b.str("soun")
	b.zero(12)
	b.str("SoundHandler")
	b.u8(0)
	b.pop()

	b.push("minf")

	b.pushFull("smhd", 0, 0)
	b.u16(0) // balance
	b.u16(0) // reserved
	b.pop()

	b.push("dinf")
	b.pushFull("dref", 0, 0)
	b.u32(1) // entry count
	b.pushFull("url ", 0, 1) // data is in this file
	b.pop()
	b.pop()
	b.pop()

	m.writeStbl(b, dataStart, wide)

	b.pop() // minf
	b.pop() // mdia
	b.pop() // trak
}

func (m *Muxer) writeStbl(b *boxBuffer, dataStart int64, wide bool) {
	b.push("stbl")

	// stsd with a single mp4a entry carrying the copied decoder config.
	b.pushFull("stsd", 0, 0)
	b.u32(1) // entry count
	b.push("mp4a")
	b.zero(6) // reserved
	b.u16(1)  // data reference index
	b.zero(8) // version, revision, vendor
	b.u16(uint16(m.track.Channels))
	b.u16(16) // sample size
	b.u32(0)  // compression id, packet size
	b.u32(uint32(m.track.SampleRate) << 16)
	b.pushFull("esds", 0, 0)
	b.raw(m.track.DecoderConfig)
	b.pop()
	b.pop()
	b.pop()

	// stts: run-length encode per-sample durations.
	type run struct {
		count uint32
		delta uint32
	}
	var runs []run
	for _, s := range m.samples {
		if len(runs) > 0 && runs[len(runs)-1].delta == s.duration {
			runs[len(runs)-1].count++
			continue
		}
		runs = append(runs, run{count: 1, delta: s.duration})
	}
	b.pushFull("stts", 0, 0)
	b.u32(uint32(len(runs)))
	for _, r := range runs {
		b.u32(r.count)
		b.u32(r.delta)
	}
	b.pop()

	// stsc: full chunks share one entry; a shorter final chunk needs its own.
	fullChunks := len(m.samples) / samplesPerChunk
	remainder := len(m.samples) % samplesPerChunk
	b.pushFull("stsc", 0, 0)
	switch {
	case len(m.samples) == 0:
		b.u32(0)
	case fullChunks == 0:
		b.u32(1)
		b.u32(1)
		b.u32(uint32(remainder))
		b.u32(1)
	case remainder == 0:
		b.u32(1)
		b.u32(1)
		b.u32(samplesPerChunk)
		b.u32(1)
	default:
		b.u32(2)
		b.u32(1)
		b.u32(samplesPerChunk)
		b.u32(1)
		b.u32(uint32(fullChunks + 1))
		b.u32(uint32(remainder))
		b.u32(1)
	}
	b.pop()

	b.pushFull("stsz", 0, 0)
	b.u32(0) // no default size
	b.u32(uint32(len(m.samples)))
	for _, s := range m.samples {
		b.u32(s.size)
	}
	b.pop()

	// Chunk offsets against the final layout.
	offsets := m.chunkOffsets(dataStart)
	if wide {
		b.pushFull("co64", 0, 0)
		b.u32(uint32(len(offsets)))
		for _, off := range offsets {
			b.u64(uint64(off))
		}
		b.pop()
	} else {
		b.pushFull("stco", 0, 0)
		b.u32(uint32(len(offsets)))
		for _, off := range offsets {
			b.u32(uint32(off))
		}
		b.pop()
	}

	b.pop() // stbl
}

// chunkOffsets returns the absolute file offset of each chunk.
func (m *Muxer) chunkOffsets(dataStart int64) []int64 {
	var offsets []int64
	cursor := dataStart
	for i, s := range m.samples {
		if i%samplesPerChunk == 0 {
			offsets = append(offsets, cursor)
		}
		cursor += int64(s.size)
	}
	return offsets
}

// hasTags reports whether any item-list entry would be written.
func (t Tags) hasTags() bool {
	return t.Title != "" || t.Author != "" || t.Narrator != "" ||
		t.Publisher != "" || t.Copyright != "" || t.Description != "" ||
		t.Year > 0 || len(t.Cover) > 0
}

func (m *Muxer) writeUdta(b *boxBuffer) {
	hasTags := m.tags.hasTags()
	if !hasTags && len(m.chapters) == 0 {
		return
	}

	b.push("udta")

	if hasTags {
		b.pushFull("meta", 0, 0)

		b.pushFull("hdlr", 0, 0)
		b.u32(0)
		b.str("mdir")
		b.str("appl")
		b.zero(9)
		b.pop()

		b.push("ilst")
		writeTextTag(b, "\xA9nam", m.tags.Title)
		writeTextTag(b, "\xA9ART", m.tags.Author)
		writeTextTag(b, "aART", m.tags.Narrator)
		writeTextTag(b, "\xA9pub", m.tags.Publisher)
		writeTextTag(b, "cprt", m.tags.Copyright)
		writeTextTag(b, "desc", m.tags.Description)
		if m.tags.Year > 0 {
			writeTextTag(b, "\xA9day", strconv.Itoa(m.tags.Year))
		}
		m.writeCoverTag(b)
		b.pop() // ilst

		b.pop() // meta
	}

	m.writeChpl(b)

	b.pop() // udta
}

// writeTextTag emits one UTF-8 item-list entry; empty values are skipped.
func writeTextTag(b *boxBuffer, fourcc, value string) {
	if value == "" {
		return
	}
	b.push(fourcc)
	b.pushFull("data", 0, 1) // type 1: UTF-8 text
	b.u32(0)                 // locale
	b.str(value)
	b.pop()
	b.pop()
}

// Item-list data types for cover art.
const (
	dataTypeJPEG = 13
	dataTypePNG  = 14
)

func (m *Muxer) writeCoverTag(b *boxBuffer) {
	if len(m.tags.Cover) == 0 {
		return
	}
	dataType := uint32(dataTypePNG)
	if m.tags.CoverMIME == "image/jpeg" {
		dataType = dataTypeJPEG
	}
	b.push("covr")
	b.pushFull("data", 0, dataType)
	b.u32(0) // locale
	b.raw(m.tags.Cover)
	b.pop()
	b.pop()
}

// writeChpl emits the Nero chapter list: 100-nanosecond start offsets with
// length-prefixed titles.
func (m *Muxer) writeChpl(b *boxBuffer) {
	if len(m.chapters) == 0 {
		return
	}

	// The count field is a single byte; no audiobook has hit the limit.
	chapters := m.chapters
	if len(chapters) > 255 {
		chapters = chapters[:255]
	}

	b.pushFull("chpl", 1, 0)
	b.u32(0) // reserved
	b.u8(uint8(len(chapters)))
	for _, ch := range chapters {
		b.u64(uint64(ch.StartMs) * 10000) // ms to 100ns units
		title := ch.Title
		if len(title) > 255 {
			title = title[:255]
		}
		b.u8(uint8(len(title)))
		b.str(title)
	}
	b.pop()
}

func writeUnityMatrix(b *boxBuffer) {
	b.u32(0x00010000)
	b.u32(0)
	b.u32(0)
	b.u32(0)
	b.u32(0x00010000)
	b.u32(0)
	b.u32(0)
	b.u32(0)
	b.u32(0x40000000)
}
