// Package providers contains dependency injection providers for the AAX converter.
package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/aaxconv/internal/config"
	"github.com/listenupapp/aaxconv/internal/convert"
	"github.com/listenupapp/aaxconv/internal/logger"
	"github.com/listenupapp/aaxconv/internal/store"
	"github.com/listenupapp/aaxconv/internal/validation"
)

// ProvideConfig provides the application configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	return config.LoadConfig()
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		Environment: cfg.App.Environment,
	})

	return log, nil
}

// ProvideValidator provides the request validator.
func ProvideValidator(i do.Injector) (*validation.Validator, error) {
	return validation.New(), nil
}

// LedgerHandle wraps the conversion ledger with shutdown capability. The
// handle is present even when the ledger is disabled; Ledger is nil then.
type LedgerHandle struct {
	*store.Ledger
}

// Shutdown implements do.Shutdownable.
func (h *LedgerHandle) Shutdown() error {
	if h.Ledger == nil {
		return nil
	}
	return h.Ledger.Close()
}

// ProvideLedger provides the conversion ledger when enabled.
func ProvideLedger(i do.Injector) (*LedgerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if !cfg.Ledger.Enabled {
		log.Debug("conversion ledger disabled")
		return &LedgerHandle{}, nil
	}

	ledger, err := store.Open(cfg.Ledger.Path, log.Logger)
	if err != nil {
		// A broken ledger should not block conversions.
		log.Warn("conversion ledger unavailable", "error", err)
		return &LedgerHandle{}, nil
	}
	return &LedgerHandle{Ledger: ledger}, nil
}

// ProvideConverter provides the conversion service.
func ProvideConverter(i do.Injector) (*convert.Service, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	v := do.MustInvoke[*validation.Validator](i)
	ledger := do.MustInvoke[*LedgerHandle](i)

	return convert.New(cfg, ledger.Ledger, v, log.Logger), nil
}
