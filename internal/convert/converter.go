// Package convert drives a full AAX conversion: parse, validate activation,
// derive keys, decrypt samples, and remux into a fast-start M4A/M4B.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/listenupapp/aaxconv/internal/config"
	"github.com/listenupapp/aaxconv/internal/drm"
	"github.com/listenupapp/aaxconv/internal/errors"
	"github.com/listenupapp/aaxconv/internal/logger"
	"github.com/listenupapp/aaxconv/internal/mux"
	"github.com/listenupapp/aaxconv/internal/store"
	"github.com/listenupapp/aaxconv/internal/validation"
	"github.com/listenupapp/aaxconv/pkg/aax"
)

// partialSuffix marks in-flight output files; a crash can leave one behind
// but it is never mistakable for a finished book.
const partialSuffix = ".partial"

// progressEvery is the sample-loop logging granularity.
const progressEvery = 500

// Request describes one conversion. An empty OutputDir, Format or
// ActivationCode falls back to the service's configured value; the boolean
// options are used as given (DefaultRequest seeds them from the config).
type Request struct {
	InputPath      string `json:"input_path" validate:"required"`
	OutputDir      string `json:"output_dir"`
	Format         string `json:"format" validate:"omitempty,oneof=m4a m4b"`
	ActivationCode string `json:"activation_code" validate:"activation"`

	Flat            bool `json:"flat_folder_structure"`
	SeriesInFolders bool `json:"series_title_in_folder_structure"`
	NamedChapters   bool `json:"use_named_chapters"`
	ExtractCover    bool `json:"extract_cover_image"`
	Overwrite       bool `json:"overwrite"`
}

// Result reports a finished conversion.
type Result struct {
	OutputPath string
	Skipped    bool // a previous run already produced this output
}

// Progress receives coarse sample-loop updates.
type Progress func(done, total int)

// Service performs conversions. Construct with New; safe for sequential use.
type Service struct {
	cfg       *config.Config
	logger    *slog.Logger
	validator *validation.Validator
	ledger    *store.Ledger // nil when the ledger is disabled
	progress  Progress
}

// New creates a conversion service. ledger may be nil.
func New(cfg *config.Config, ledger *store.Ledger, v *validation.Validator, log *slog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		logger:    log,
		validator: v,
		ledger:    ledger,
	}
}

// SetProgress installs a progress callback. Optional.
func (s *Service) SetProgress(p Progress) {
	s.progress = p
}

// DefaultRequest seeds a request with the configured defaults.
func (s *Service) DefaultRequest(inputPath string) Request {
	return Request{
		InputPath:       inputPath,
		OutputDir:       s.cfg.Output.Dir,
		Format:          s.cfg.Output.Format,
		ActivationCode:  s.cfg.Activation.Code,
		Flat:            s.cfg.Output.Flat,
		SeriesInFolders: s.cfg.Output.SeriesInFolders,
		NamedChapters:   s.cfg.Output.NamedChapters,
		ExtractCover:    s.cfg.Output.ExtractCover,
		Overwrite:       s.cfg.Output.Overwrite,
	}
}

// Convert runs the full pipeline for one book.
func (s *Service) Convert(ctx context.Context, req Request) (*Result, error) {
	if req.OutputDir == "" {
		req.OutputDir = s.cfg.Output.Dir
	}
	if req.Format == "" {
		req.Format = s.cfg.Output.Format
	}

	// mp3 shows up often enough to deserve its own answer: converting to it
	// would mean decoding AAC and re-encoding, which this tool does not do.
	if f := strings.ToLower(req.Format); f != config.FormatM4A && f != config.FormatM4B {
		return nil, errors.UnsupportedFormat(fmt.Sprintf("output format %q is not supported (use m4a or m4b)", req.Format))
	}
	req.Format = strings.ToLower(req.Format)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	if _, err := os.Stat(req.InputPath); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(err, errors.CodeIO, "input file %q does not exist", req.InputPath)
		}
		return nil, errors.Wrap(err, errors.CodeIO, "stat input file")
	}

	s.logger.Info("parsing input", logger.Phase(logger.PhaseParse), slog.String("path", req.InputPath))
	book, err := aax.Parse(req.InputPath)
	if err != nil {
		return nil, mapParseError(err)
	}
	if err := book.RequireEncrypted(); err != nil {
		return nil, errors.NotEncrypted(err.Error())
	}

	keys, err := s.deriveKeys(book, req.ActivationCode)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("file keys derived", logger.Phase(logger.PhaseDerive))

	outPath := outputPath(req.OutputDir, book.Metadata, req.InputPath, req.Format, req.Flat, req.SeriesInFolders)

	fingerprint, err := store.Fingerprint(req.InputPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIO, "fingerprint input file")
	}
	if !req.Overwrite && s.alreadyConverted(ctx, fingerprint, outPath) {
		s.logger.Info("already converted, skipping",
			slog.String("output", outPath))
		return &Result{OutputPath: outPath, Skipped: true}, nil
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeIO, "create output directory")
	}

	if err := s.remux(ctx, book, keys, outPath, req); err != nil {
		return nil, err
	}

	if req.ExtractCover {
		// Best effort: a failed side-file write never fails the conversion.
		if err := writeCoverFile(outPath, book.Metadata); err != nil {
			s.logger.Warn("cover image write failed", slog.Any("error", err))
		}
	}

	s.recordConversion(ctx, fingerprint, req.InputPath, outPath, book)

	s.logger.Info("conversion complete", logger.Phase(logger.PhaseFinalize), slog.String("output", outPath))
	return &Result{OutputPath: outPath}, nil
}

// deriveKeys resolves the activation code, validates it against the file,
// and unwraps the per-file keys. A failed validation is retried once with
// the lowercase textual form; nothing else is mutated.
func (s *Service) deriveKeys(book *aax.Book, code string) (drm.FileKeys, error) {
	var keys drm.FileKeys

	if code == "" {
		code = s.cfg.Activation.Code
	}
	if code == "" {
		return keys, errors.MissingActivation("no activation code given; pass one or set ACTIVATION_CODE")
	}

	activation, err := drm.ParseActivation(code)
	if err != nil {
		return keys, err
	}

	blob := book.Audio.Adrm
	if !drm.Validate(blob, activation) {
		retried := false
		if lower := strings.ToLower(code); lower != code {
			if again, err := drm.ParseActivation(lower); err == nil {
				retried = drm.Validate(blob, again)
				activation = again
			}
		}
		if !retried {
			return keys, errors.ActivationMismatch(
				"activation code does not match this file; re-fetch it from your Audible account")
		}
	}

	return drm.DeriveKeys(blob, activation)
}

// remux streams every audio sample through the decrypter into the muxer.
// The output is written under a .partial name and renamed into place only
// after a successful finalize.
func (s *Service) remux(ctx context.Context, book *aax.Book, keys drm.FileKeys, outPath string, req Request) error {
	src, err := os.Open(book.Path)
	if err != nil {
		return errors.Wrap(err, errors.CodeIO, "reopen input file")
	}
	defer src.Close()

	decrypter, err := drm.NewSampleDecrypter(keys)
	if err != nil {
		return err
	}

	brand := mux.BrandM4B
	if req.Format == config.FormatM4A {
		brand = mux.BrandM4A
	}

	partial := outPath + partialSuffix
	muxer, err := mux.New(partial, mux.Config{Brand: brand})
	if err != nil {
		return err
	}
	defer muxer.Abort() // no-op once Finalize has succeeded

	audio := book.Audio
	trackID, err := muxer.AddAudioTrack(mux.TrackConfig{
		Timescale:     audio.Timescale,
		SampleRate:    audio.SampleRate,
		Channels:      audio.Channels,
		DecoderConfig: audio.DecoderConfig,
	})
	if err != nil {
		return err
	}

	muxer.SetTags(bookTags(book.Metadata))
	muxer.SetChapters(chapterMarks(book.Chapters, req.NamedChapters))

	total := len(audio.Samples)
	timescale := float64(audio.Timescale)

	var (
		ciphertext []byte
		plaintext  []byte
		ticks      uint64
	)
	for i, sample := range audio.Samples {
		// Cancellation is checked between samples; a single sample is
		// decrypted atomically.
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.CodeIO, "conversion cancelled")
		}

		if cap(ciphertext) < int(sample.Size) {
			ciphertext = make([]byte, sample.Size)
		}
		ciphertext = ciphertext[:sample.Size]
		if _, err := src.ReadAt(ciphertext, sample.Offset); err != nil {
			return errors.Wrapf(err, errors.CodeIO, "read sample %d", i)
		}

		plaintext = decrypter.Decrypt(plaintext, ciphertext)

		err := muxer.WritePacket(trackID, mux.Packet{
			Data:      plaintext,
			Timestamp: float64(ticks) / timescale,
			Duration:  float64(sample.Duration) / timescale,
			Keyframe:  sample.Keyframe,
		})
		if err != nil {
			return err
		}
		ticks += uint64(sample.Duration)

		if (i+1)%progressEvery == 0 || i+1 == total {
			if s.progress != nil {
				s.progress(i+1, total)
			}
			s.logger.Debug("converting",
				logger.Phase(logger.PhaseMux),
				slog.Int("samples", i+1),
				slog.Int("total", total))
		}
	}

	// The source handle is released before the muxer finalizes.
	src.Close()

	if err := muxer.Finalize(); err != nil {
		return err
	}

	if err := os.Rename(partial, outPath); err != nil {
		os.Remove(partial)
		return errors.Wrap(err, errors.CodeIO, "move output into place")
	}
	return nil
}

// alreadyConverted reports whether the ledger knows this input and a file
// already exists at outPath, the path this run would write.
func (s *Service) alreadyConverted(ctx context.Context, fingerprint, outPath string) bool {
	if s.ledger == nil {
		return false
	}
	prev, err := s.ledger.Find(ctx, fingerprint)
	if err != nil {
		s.logger.Warn("ledger lookup failed", slog.Any("error", err))
		return false
	}
	if prev == nil {
		return false
	}
	if _, err := os.Stat(outPath); err != nil {
		return false
	}
	return true
}

func (s *Service) recordConversion(ctx context.Context, fingerprint, inputPath, outPath string, book *aax.Book) {
	if s.ledger == nil {
		return
	}
	_, err := s.ledger.Record(ctx, store.Conversion{
		InputPath:   inputPath,
		Fingerprint: fingerprint,
		OutputPath:  outPath,
		Title:       book.Metadata.Title,
		Author:      book.Metadata.Author,
		DurationS:   book.Audio.DurationSeconds(),
	})
	if err != nil {
		s.logger.Warn("ledger record failed", slog.Any("error", err))
	}
}

// bookTags maps parsed metadata onto the muxer's tag set.
func bookTags(meta aax.Metadata) mux.Tags {
	return mux.Tags{
		Title:       meta.Title,
		Author:      meta.Author,
		Narrator:    meta.Narrator,
		Publisher:   meta.Publisher,
		Copyright:   meta.Copyright,
		Description: meta.Description,
		Year:        meta.Year,
		Cover:       meta.Cover,
		CoverMIME:   meta.CoverMIME,
	}
}

// chapterMarks converts chapters to millisecond marks, replacing titles with
// "Chapter N" when named chapters are disabled.
func chapterMarks(chapters []aax.Chapter, named bool) []mux.ChapterMark {
	marks := make([]mux.ChapterMark, 0, len(chapters))
	for i, ch := range chapters {
		title := ch.Title
		if !named {
			title = fmt.Sprintf("Chapter %d", i+1)
		}
		marks = append(marks, mux.ChapterMark{
			Title:   title,
			StartMs: ch.Start.Milliseconds(),
		})
	}
	return marks
}

// mapParseError folds the parser's error types into the domain taxonomy.
func mapParseError(err error) error {
	var unsupported *aax.UnsupportedFormatError
	if errors.As(err, &unsupported) {
		return errors.Wrap(err, errors.CodeMalformedContainer, "input is not an Audible container")
	}
	var corrupted *aax.CorruptedFileError
	if errors.As(err, &corrupted) {
		return errors.Wrap(err, errors.CodeMalformedContainer, "input container is damaged")
	}
	if os.IsNotExist(err) {
		return errors.Wrapf(err, errors.CodeIO, "input file does not exist")
	}
	return errors.Wrap(err, errors.CodeIO, "read input file")
}
