package aax

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleTable_CoversChunksContiguously(t *testing.T) {
	f := defaultFixture()
	book := parseFixture(t, f)

	samples := book.Audio.Samples
	require.Len(t, samples, len(f.audio.sampleSizes))

	// Within a chunk, each sample starts where the previous one ended.
	perChunk := int(f.audio.perChunk)
	for i := 1; i < len(samples); i++ {
		if i%perChunk == 0 {
			continue // chunk boundary
		}
		prev := samples[i-1]
		assert.Equal(t, prev.Offset+int64(prev.Size), samples[i].Offset,
			"gap or overlap before sample %d", i)
	}

	// Sizes come straight from stsz.
	for i, s := range samples {
		assert.Equal(t, f.audio.sampleSizes[i], s.Size)
	}
}

func TestSampleTable_DurationsMatchMdhd(t *testing.T) {
	f := defaultFixture()
	book := parseFixture(t, f)

	var ticks uint64
	for _, s := range book.Audio.Samples {
		ticks += uint64(s.Duration)
	}
	assert.Equal(t, book.Audio.Duration, ticks)
}

func TestSampleTable_DefaultStszSize(t *testing.T) {
	f := defaultFixture()
	f.text = nil
	f.titles = nil
	f.audio.sampleSizes = []uint32{512, 512, 512, 512}
	data := f.build()

	// Rewrite stsz to use the default-size form: locate the stsz box and
	// set default=512, keeping the now-ignored per-sample list in place.
	idx := bytes.Index(data, []byte("stsz"))
	require.Positive(t, idx)
	copy(data[idx+8:idx+12], u32(512))

	book, err := ParseReader(bytes.NewReader(data), int64(len(data)), "fixture.aax")
	require.NoError(t, err)
	require.Len(t, book.Audio.Samples, 4)
	for _, s := range book.Audio.Samples {
		assert.Equal(t, uint32(512), s.Size)
	}
}

func TestSamplesInChunk_LastMatchingEntryWins(t *testing.T) {
	entries := []stscEntry{
		{FirstChunk: 1, SamplesPerChunk: 10},
		{FirstChunk: 3, SamplesPerChunk: 4},
		{FirstChunk: 7, SamplesPerChunk: 1},
	}

	assert.Equal(t, 10, samplesInChunk(entries, 1))
	assert.Equal(t, 10, samplesInChunk(entries, 2))
	assert.Equal(t, 4, samplesInChunk(entries, 3))
	assert.Equal(t, 4, samplesInChunk(entries, 6))
	assert.Equal(t, 1, samplesInChunk(entries, 7))
	assert.Equal(t, 1, samplesInChunk(entries, 99))
}

func TestSamplesInChunk_NoEntriesMeansOnePerChunk(t *testing.T) {
	assert.Equal(t, 1, samplesInChunk(nil, 5))
}

func TestResolveTrack_MissingSampleTableIsFatal(t *testing.T) {
	f := defaultFixture()
	f.text = nil
	f.titles = nil
	data := f.build()

	// Corrupt the stts fourcc so the resolver cannot find it.
	idx := bytes.Index(data, []byte("stts"))
	require.Positive(t, idx)
	copy(data[idx:idx+4], "free")

	_, err := ParseReader(bytes.NewReader(data), int64(len(data)), "fixture.aax")
	var corrupted *CorruptedFileError
	require.ErrorAs(t, err, &corrupted)
	assert.Contains(t, corrupted.Reason, "stts")
}
