package main

import (
	"log"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/davidbz/foundrygate/internal/audit"
	"github.com/davidbz/foundrygate/internal/config"
	"github.com/davidbz/foundrygate/internal/domain"
	"github.com/davidbz/foundrygate/internal/foundry"
	"github.com/davidbz/foundrygate/internal/httpserver"
	"github.com/davidbz/foundrygate/internal/httpserver/middleware"
	"github.com/davidbz/foundrygate/internal/observability"
	"github.com/davidbz/foundrygate/internal/usage"
)

func main() {
	container := buildContainer()

	err := container.Invoke(func(_ *zap.Logger, server *httpserver.Server) {
		if err := server.Start(); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(config.Load); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}
	if err := container.Provide(config.ParseDependenciesConfig); err != nil {
		log.Fatalf("Failed to provide config dependencies: %v", err)
	}

	// Observability
	if err := container.Provide(observability.InitLogger); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}

	// Upstream agent client
	if err := container.Provide(func(cfg *foundry.Config) (domain.AgentRunner, error) {
		return foundry.NewClient(cfg)
	}); err != nil {
		log.Fatalf("Failed to provide agent client: %v", err)
	}

	// Token counting
	if err := container.Provide(func() domain.TokenCounter {
		return usage.NewCounter()
	}); err != nil {
		log.Fatalf("Failed to provide token counter: %v", err)
	}

	// Audit trail
	if err := container.Provide(func(cfg *audit.Config) domain.AuditRecorder {
		return audit.NewFileRecorder(cfg)
	}); err != nil {
		log.Fatalf("Failed to provide audit recorder: %v", err)
	}

	// Domain Services
	if err := container.Provide(domain.NewAdapterService); err != nil {
		log.Fatalf("Failed to provide adapter service: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(middleware.BuildMiddlewareChain); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(httpserver.NewHandler); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(httpserver.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}
