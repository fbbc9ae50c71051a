package aax

import (
	"time"

	"github.com/listenupapp/aaxconv/pkg/aax/internal/binary"
)

// readChapters materializes the chapter list from the text track: one sample
// per chapter, each sample holding a big-endian length-prefixed UTF-8 title.
// Start times accumulate sample durations in track timescale ticks.
func readChapters(sr *binary.SafeReader, text *Track) ([]Chapter, error) {
	if text.Timescale == 0 {
		return nil, &CorruptedFileError{
			Path:   sr.Path(),
			Offset: 0,
			Reason: "text track with zero timescale",
		}
	}

	chapters := make([]Chapter, 0, len(text.Samples))
	var ticks uint64

	for i, sample := range text.Samples {
		title, err := readChapterTitle(sr, sample)
		if err != nil {
			return nil, err
		}

		start := ticksToDuration(ticks, text.Timescale)
		ticks += uint64(sample.Duration)
		end := ticksToDuration(ticks, text.Timescale)

		chapters = append(chapters, Chapter{
			Index: i + 1,
			Title: title,
			Start: start,
			End:   end,
		})
	}

	return chapters, nil
}

// readChapterTitle reads one text-track sample: [u16 BE length][utf-8 bytes].
func readChapterTitle(sr *binary.SafeReader, sample SampleEntry) (string, error) {
	if sample.Size < 2 {
		return "", nil
	}

	length, err := binary.Read[uint16](sr, sample.Offset, "chapter title length")
	if err != nil {
		return "", err
	}

	// The declared title length never exceeds the sample payload.
	max := sample.Size - 2
	if uint32(length) > max {
		length = uint16(max)
	}
	if length == 0 {
		return "", nil
	}

	buf := make([]byte, length)
	if err := sr.ReadAt(buf, sample.Offset+2, "chapter title"); err != nil {
		return "", err
	}
	return string(buf), nil
}

func ticksToDuration(ticks uint64, timescale uint32) time.Duration {
	return time.Duration(float64(ticks) / float64(timescale) * float64(time.Second))
}
