// Package main provides the entry point for the aaxconv command-line tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/listenupapp/aaxconv/internal/convert"
	"github.com/listenupapp/aaxconv/internal/di"
	"github.com/listenupapp/aaxconv/internal/errors"
	"github.com/listenupapp/aaxconv/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Create DI container; config parses the command line as a side effect.
	injector := di.NewContainer()

	svc, err := do.Invoke[*convert.Service](injector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return errors.ExitGeneralFailure
	}
	log := do.MustInvoke[*logger.Logger](injector)
	defer shutdown(injector, log)

	input := flag.Arg(0)
	if input == "" {
		fmt.Fprintln(os.Stderr, "Usage: aaxconv [flags] <book.aax>")
		flag.PrintDefaults()
		return errors.ExitBadArguments
	}

	// Interrupts cancel between samples; the partial output is removed.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	muxLog := log.WithPhase(logger.PhaseMux)
	svc.SetProgress(func(done, total int) {
		muxLog.Info("converting", "progress", fmt.Sprintf("%d%%", done*100/total))
	})

	res, err := svc.Convert(ctx, svc.DefaultRequest(input))
	if err != nil {
		log.Error("conversion failed", "error", err)
		return exitCode(err)
	}

	if res.Skipped {
		log.Info("book already converted", "output", res.OutputPath)
	} else {
		log.Info("done", "output", res.OutputPath)
	}
	return errors.ExitOK
}

// exitCode maps a conversion error onto the documented CLI exit codes.
func exitCode(err error) int {
	if errors.Is(err, fs.ErrNotExist) {
		return errors.ExitFileNotFound
	}
	var domainErr *errors.Error
	if errors.As(err, &domainErr) {
		return domainErr.ExitCode()
	}
	return errors.ExitGeneralFailure
}

func shutdown(injector *do.RootScope, log *logger.Logger) {
	if err := injector.Shutdown(); err != nil {
		log.Error("shutdown error", "error", err)
	}
}
