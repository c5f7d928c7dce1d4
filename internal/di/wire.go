//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/johnayoung/go-kline-cache/internal/config"
	"github.com/johnayoung/go-kline-cache/internal/server"
)

// ProviderSet lists every provider of the application graph.
var ProviderSet = wire.NewSet(
	ProvideLoggerManager,
	ProvideLogger,
	ProvideMetrics,
	ProvideBlobStore,
	ProvideKucoinAdapter,
	ProvideKlineFetcher,
	ProvideDownloader,
	ProvideHistoryStore,
	ProvideCatalog,
	ProvideService,
	ProvideScheduler,
	ProvideHandler,
	ProvideHTTPServer,
	ProvideApp,
)

// InitializeApp builds the application from cfg. The returned cleanup
// releases resources in reverse order of creation.
func InitializeApp(cfg *config.AppConfig) (*server.App, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
