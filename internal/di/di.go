// Package di provides dependency injection configuration for the AAX converter.
package di

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/aaxconv/internal/di/providers"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideValidator)
	do.Provide(injector, providers.ProvideLedger)
	do.Provide(injector, providers.ProvideConverter)

	return injector
}
