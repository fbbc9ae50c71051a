package aax

import (
	"github.com/listenupapp/aaxconv/pkg/aax/internal/binary"
)

// resolveTracks walks every trak under moov and builds its sample index.
// Tracks with handlers other than soun/text are skipped, not rejected.
func resolveTracks(sr *binary.SafeReader, moov *Atom) ([]*Track, error) {
	var tracks []*Track

	err := eachChildAtom(sr, moov, func(atom *Atom) (bool, error) {
		if atom.Type != "trak" {
			return true, nil
		}
		track, err := resolveTrack(sr, atom)
		if err != nil {
			return false, err
		}
		if track != nil {
			tracks = append(tracks, track)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return tracks, nil
}

// resolveTrack parses one trak box. Returns (nil, nil) for handler types the
// converter has no use for.
func resolveTrack(sr *binary.SafeReader, trak *Atom) (*Track, error) {
	mdia, err := findChildAtom(sr, trak, "mdia")
	if err != nil {
		return nil, &CorruptedFileError{
			Path:   sr.Path(),
			Offset: trak.Offset,
			Reason: "trak without mdia",
		}
	}

	track := &Track{}

	if err := parseMdhd(sr, mdia, track); err != nil {
		return nil, err
	}

	handler, err := parseHdlr(sr, mdia)
	if err != nil {
		return nil, err
	}
	if handler != HandlerSound && handler != HandlerText {
		return nil, nil
	}
	track.Handler = handler

	minf, err := findChildAtom(sr, mdia, "minf")
	if err != nil {
		return nil, &CorruptedFileError{
			Path:   sr.Path(),
			Offset: mdia.Offset,
			Reason: "mdia without minf",
		}
	}
	stbl, err := findChildAtom(sr, minf, "stbl")
	if err != nil {
		return nil, &CorruptedFileError{
			Path:   sr.Path(),
			Offset: minf.Offset,
			Reason: "minf without stbl",
		}
	}

	if err := parseSampleTable(sr, stbl, track); err != nil {
		return nil, err
	}

	return track, nil
}

// parseMdhd extracts timescale and duration. Version 0 carries 32-bit
// creation/modification times and duration; version 1 widens them to 64 bits.
func parseMdhd(sr *binary.SafeReader, mdia *Atom, track *Track) error {
	mdhd, err := findChildAtom(sr, mdia, "mdhd")
	if err != nil {
		return &CorruptedFileError{
			Path:   sr.Path(),
			Offset: mdia.Offset,
			Reason: "mdia without mdhd",
		}
	}

	base := mdhd.DataOffset()
	version, err := binary.Read[uint8](sr, base, "mdhd version")
	if err != nil {
		return err
	}

	if version == 1 {
		timescale, err := binary.Read[uint32](sr, base+20, "mdhd timescale")
		if err != nil {
			return err
		}
		// 64-bit duration, read as two 32-bit halves, high then low.
		high, err := binary.Read[uint32](sr, base+24, "mdhd duration high")
		if err != nil {
			return err
		}
		low, err := binary.Read[uint32](sr, base+28, "mdhd duration low")
		if err != nil {
			return err
		}
		track.Timescale = timescale
		track.Duration = uint64(high)<<32 | uint64(low)
		return nil
	}

	timescale, err := binary.Read[uint32](sr, base+12, "mdhd timescale")
	if err != nil {
		return err
	}
	duration, err := binary.Read[uint32](sr, base+16, "mdhd duration")
	if err != nil {
		return err
	}
	track.Timescale = timescale
	track.Duration = uint64(duration)
	return nil
}

// parseHdlr returns the handler subtype ("soun", "text", ...). The subtype
// sits 8 bytes into the box content, after version/flags and the predefined
// component-type field.
func parseHdlr(sr *binary.SafeReader, mdia *Atom) (string, error) {
	hdlr, err := findChildAtom(sr, mdia, "hdlr")
	if err != nil {
		return "", &CorruptedFileError{
			Path:   sr.Path(),
			Offset: mdia.Offset,
			Reason: "mdia without hdlr",
		}
	}

	handlerBytes := make([]byte, 4)
	if err := sr.ReadAt(handlerBytes, hdlr.DataOffset()+8, "handler type"); err != nil {
		return "", err
	}
	return string(handlerBytes), nil
}

// parseSampleTable consumes stsd/stts/stsz/stsc/stco|co64 and assembles the
// per-sample index. The resolver reads only table boxes, never payload.
func parseSampleTable(sr *binary.SafeReader, stbl *Atom, track *Track) error {
	if err := parseStsd(sr, stbl, track); err != nil {
		return err
	}

	durations, err := parseStts(sr, stbl)
	if err != nil {
		return err
	}

	sizes, err := parseStsz(sr, stbl)
	if err != nil {
		return err
	}

	chunkOffsets, err := parseChunkOffsets(sr, stbl)
	if err != nil {
		return err
	}

	// stsc is optional: absent means one sample per chunk.
	stscEntries, err := parseStsc(sr, stbl)
	if err != nil {
		return err
	}

	sampleCount := len(sizes)

	sizeAt := func(i int) uint32 {
		return sizes[i]
	}
	durationAt := func(i int) uint32 {
		if i < len(durations) {
			return durations[i]
		}
		if len(durations) > 0 {
			return durations[len(durations)-1]
		}
		return 0
	}

	samples := make([]SampleEntry, 0, sampleCount)
	sample := 0
	for chunk := 0; chunk < len(chunkOffsets) && sample < sampleCount; chunk++ {
		perChunk := samplesInChunk(stscEntries, chunk+1)
		offset := int64(chunkOffsets[chunk])
		for i := 0; i < perChunk && sample < sampleCount; i++ {
			size := sizeAt(sample)
			samples = append(samples, SampleEntry{
				Offset:   offset,
				Size:     size,
				Duration: durationAt(sample),
				Keyframe: true,
			})
			offset += int64(size)
			sample++
		}
	}

	if sample < sampleCount {
		return &CorruptedFileError{
			Path:   sr.Path(),
			Offset: stbl.Offset,
			Reason: "chunk map exhausted before all samples were placed",
		}
	}

	track.Samples = samples
	return nil
}

// parseStsd reads the first sample description entry: codec fourcc, the
// sound-entry fixed header, and the esds/adrm children.
func parseStsd(sr *binary.SafeReader, stbl *Atom, track *Track) error {
	stsd, err := findChildAtom(sr, stbl, "stsd")
	if err != nil {
		return &CorruptedFileError{
			Path:   sr.Path(),
			Offset: stbl.Offset,
			Reason: "stbl without stsd",
		}
	}

	entryCount, err := binary.Read[uint32](sr, stsd.DataOffset()+4, "stsd entry count")
	if err != nil {
		return err
	}
	if entryCount == 0 {
		return &CorruptedFileError{
			Path:   sr.Path(),
			Offset: stsd.Offset,
			Reason: "stsd with no entries",
		}
	}

	entry, err := readAtomHeader(sr, stsd.DataOffset()+8)
	if err != nil {
		return err
	}
	track.Codec = entry.Type

	if track.Handler != HandlerSound {
		return nil
	}

	if entry.Type != "aavd" && entry.Type != "mp4a" {
		return &CorruptedFileError{
			Path:   sr.Path(),
			Offset: entry.Offset,
			Reason: "sound track sample entry is neither aavd nor mp4a",
		}
	}

	// Sound sample entry fixed header, offsets relative to the entry box
	// start: channel count at 24, sample rate at 32 as 16.16 fixed point.
	channels, err := binary.Read[uint16](sr, entry.Offset+24, "channel count")
	if err != nil {
		return err
	}
	rate, err := binary.Read[uint32](sr, entry.Offset+32, "sample rate")
	if err != nil {
		return err
	}
	track.Channels = int(channels)
	track.SampleRate = int(rate >> 16)

	// Child boxes follow the 36-byte fixed header.
	childStart := entry.Offset + 36
	childEnd := entry.Offset + int64(entry.Size)
	offset := childStart
	for offset < childEnd {
		child, err := readAtomHeader(sr, offset)
		if err != nil {
			return err
		}
		switch child.Type {
		case "esds":
			// Keep the descriptor bytes after version/flags verbatim; the
			// muxer re-emits them unchanged.
			if child.DataSize() > 4 {
				cfg := make([]byte, child.DataSize()-4)
				if err := sr.ReadAt(cfg, child.DataOffset()+4, "esds descriptors"); err != nil {
					return err
				}
				track.DecoderConfig = cfg
			}
		case "adrm":
			blob := make([]byte, child.DataSize())
			if err := sr.ReadAt(blob, child.DataOffset(), "adrm payload"); err != nil {
				return err
			}
			track.Adrm = blob
		}
		offset += int64(child.Size)
	}

	return nil
}

// parseStts expands the time-to-sample runs into per-sample durations.
func parseStts(sr *binary.SafeReader, stbl *Atom) ([]uint32, error) {
	stts, err := findChildAtom(sr, stbl, "stts")
	if err != nil {
		return nil, &CorruptedFileError{
			Path:   sr.Path(),
			Offset: stbl.Offset,
			Reason: "stbl without stts",
		}
	}

	base := stts.DataOffset()
	count, err := binary.Read[uint32](sr, base+4, "stts entry count")
	if err != nil {
		return nil, err
	}

	var durations []uint32
	offset := base + 8
	for i := uint32(0); i < count; i++ {
		sampleCount, err := binary.Read[uint32](sr, offset, "stts sample count")
		if err != nil {
			return nil, err
		}
		delta, err := binary.Read[uint32](sr, offset+4, "stts sample delta")
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < sampleCount; j++ {
			durations = append(durations, delta)
		}
		offset += 8
	}

	return durations, nil
}

// parseStsz returns the per-sample size list. A non-zero default size means
// every sample shares it and no per-sample list follows; the list is
// synthesized so callers have a uniform view.
func parseStsz(sr *binary.SafeReader, stbl *Atom) ([]uint32, error) {
	stsz, err := findChildAtom(sr, stbl, "stsz")
	if err != nil {
		return nil, &CorruptedFileError{
			Path:   sr.Path(),
			Offset: stbl.Offset,
			Reason: "stbl without stsz",
		}
	}

	base := stsz.DataOffset()
	defaultSize, err := binary.Read[uint32](sr, base+4, "stsz default size")
	if err != nil {
		return nil, err
	}
	count, err := binary.Read[uint32](sr, base+8, "stsz sample count")
	if err != nil {
		return nil, err
	}

	sizes := make([]uint32, count)
	if defaultSize != 0 {
		for i := range sizes {
			sizes[i] = defaultSize
		}
		return sizes, nil
	}

	offset := base + 12
	for i := uint32(0); i < count; i++ {
		size, err := binary.Read[uint32](sr, offset, "stsz sample size")
		if err != nil {
			return nil, err
		}
		sizes[i] = size
		offset += 4
	}

	return sizes, nil
}

// stscEntry is one sample-to-chunk run. FirstChunk is 1-based in the file.
type stscEntry struct {
	FirstChunk      uint32
	SamplesPerChunk uint32
}

// parseStsc reads the sample-to-chunk table. A missing stsc is not an error:
// it means one sample per chunk.
func parseStsc(sr *binary.SafeReader, stbl *Atom) ([]stscEntry, error) {
	stsc, err := findChildAtom(sr, stbl, "stsc")
	if err != nil {
		return nil, nil
	}

	base := stsc.DataOffset()
	count, err := binary.Read[uint32](sr, base+4, "stsc entry count")
	if err != nil {
		return nil, err
	}

	entries := make([]stscEntry, 0, count)
	offset := base + 8
	for i := uint32(0); i < count; i++ {
		firstChunk, err := binary.Read[uint32](sr, offset, "stsc first chunk")
		if err != nil {
			return nil, err
		}
		perChunk, err := binary.Read[uint32](sr, offset+4, "stsc samples per chunk")
		if err != nil {
			return nil, err
		}
		entries = append(entries, stscEntry{FirstChunk: firstChunk, SamplesPerChunk: perChunk})
		offset += 12
	}

	return entries, nil
}

// samplesInChunk returns the samples-per-chunk value for a 1-based chunk
// number: the last stsc entry whose FirstChunk <= chunk wins.
func samplesInChunk(entries []stscEntry, chunk int) int {
	if len(entries) == 0 {
		return 1
	}
	perChunk := entries[0].SamplesPerChunk
	for _, e := range entries {
		if e.FirstChunk > uint32(chunk) {
			break
		}
		perChunk = e.SamplesPerChunk
	}
	return int(perChunk)
}

// parseChunkOffsets reads stco (32-bit) or co64 (64-bit) chunk offsets.
// Exactly one of the two must be present.
func parseChunkOffsets(sr *binary.SafeReader, stbl *Atom) ([]uint64, error) {
	if stco, err := findChildAtom(sr, stbl, "stco"); err == nil {
		if _, err := findChildAtom(sr, stbl, "co64"); err == nil {
			return nil, &CorruptedFileError{
				Path:   sr.Path(),
				Offset: stbl.Offset,
				Reason: "sample table carries both stco and co64",
			}
		}
		base := stco.DataOffset()
		count, err := binary.Read[uint32](sr, base+4, "stco entry count")
		if err != nil {
			return nil, err
		}
		offsets := make([]uint64, count)
		offset := base + 8
		for i := uint32(0); i < count; i++ {
			v, err := binary.Read[uint32](sr, offset, "stco chunk offset")
			if err != nil {
				return nil, err
			}
			offsets[i] = uint64(v)
			offset += 4
		}
		return offsets, nil
	}

	if co64, err := findChildAtom(sr, stbl, "co64"); err == nil {
		base := co64.DataOffset()
		count, err := binary.Read[uint32](sr, base+4, "co64 entry count")
		if err != nil {
			return nil, err
		}
		offsets := make([]uint64, count)
		offset := base + 8
		for i := uint32(0); i < count; i++ {
			v, err := binary.Read[uint64](sr, offset, "co64 chunk offset")
			if err != nil {
				return nil, err
			}
			offsets[i] = v
			offset += 8
		}
		return offsets, nil
	}

	return nil, &CorruptedFileError{
		Path:   sr.Path(),
		Offset: stbl.Offset,
		Reason: "stbl without stco or co64",
	}
}
