package aax

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChapters_TitlesAndTimes(t *testing.T) {
	f := defaultFixture()
	book := parseFixture(t, f)

	require.Len(t, book.Chapters, 4)

	wantTitles := []string{"Opening Credits", "Chapter 1", "Chapter 2", "End Credits"}
	for i, ch := range book.Chapters {
		assert.Equal(t, i+1, ch.Index)
		assert.Equal(t, wantTitles[i], ch.Title)
	}

	// 30 s per chapter at timescale 1000.
	for i, ch := range book.Chapters {
		assert.Equal(t, time.Duration(i)*30*time.Second, ch.Start)
		assert.Equal(t, time.Duration(i+1)*30*time.Second, ch.End)
	}
}

func TestChapters_ContiguousPartition(t *testing.T) {
	book := parseFixture(t, defaultFixture())

	for i := 1; i < len(book.Chapters); i++ {
		assert.Equal(t, book.Chapters[i-1].End, book.Chapters[i].Start,
			"chapter %d does not start where %d ends", i+1, i)
	}
}

func TestChapters_TitleLengthClampedToSample(t *testing.T) {
	f := defaultFixture()
	f.titles = []string{"ok"}
	data := f.build()

	// Inflate the declared title length beyond the sample payload.
	// The sample is [00 02 'o' 'k']; find and break it.
	idx := len(data) - 4
	copy(data[idx:idx+2], u16(500))

	book, err := ParseReader(bytesReader(data), int64(len(data)), "fixture.aax")
	require.NoError(t, err)
	require.Len(t, book.Chapters, 1)
	assert.Equal(t, "ok", book.Chapters[0].Title)
}
