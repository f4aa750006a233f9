// Copyright 2026 The RVC Platform Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rvcplatform/provisioner/internal/audit"
	"github.com/rvcplatform/provisioner/internal/config"
	"github.com/rvcplatform/provisioner/internal/events"
	"github.com/rvcplatform/provisioner/internal/observability/logger"
	"github.com/rvcplatform/provisioner/internal/observability/metrics"
	"github.com/rvcplatform/provisioner/internal/observability/tracing"
	"github.com/rvcplatform/provisioner/internal/providers/clouddb"
	"github.com/rvcplatform/provisioner/internal/providers/keycloak"
	"github.com/rvcplatform/provisioner/internal/provision"
	"github.com/rvcplatform/provisioner/internal/router"
	"github.com/rvcplatform/provisioner/internal/store/memory"
	"github.com/rvcplatform/provisioner/internal/store/postgres"
	"github.com/rvcplatform/provisioner/internal/tenant"
	transportHTTP "github.com/rvcplatform/provisioner/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
		OTELEnabled: cfg.Observability.OTELEnabled,
	})
	slog.Info("starting rvc tenant provisioner")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
	})
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	} else {
		defer meter.Shutdown(ctx)
	}

	// Initialize the state store
	var store tenant.Store
	var db *postgres.DB
	if cfg.Provisioning.StoreMode == "postgres" {
		db, err = postgres.New(ctx, postgres.Config{
			Host:         cfg.Database.Host,
			Port:         cfg.Database.Port,
			User:         cfg.Database.User,
			Password:     cfg.Database.Password,
			Database:     cfg.Database.Database,
			SSLMode:      cfg.Database.SSLMode,
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			slog.Error("failed to connect to database", logger.Error(err))
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("connected to database")
		store = postgres.NewTenantStore(db)
	} else {
		slog.Warn("using in-memory state store, state is lost on restart")
		store = memory.NewTenantStore()
	}

	auditLogger := audit.NewSlogLogger()

	// Event publishers: the in-process bus always, Kafka when enabled.
	bus := events.NewBus()
	publisher := events.Multi{bus}
	var kafkaPublisher *events.KafkaPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
		defer kafkaPublisher.Close()
		publisher = append(publisher, kafkaPublisher)
	}

	tenantService := tenant.NewService(store, publisher, auditLogger)
	reporter := provision.NewStoreReporter(store, publisher, auditLogger)

	// Providers. In-memory admin APIs back the providers until real
	// cloud and Keycloak admin clients are plugged in; the orchestration
	// protocol is identical either way.
	registry := provision.NewRegistry()
	registry.RegisterDatabase(provision.ProviderCloudSQL, clouddb.New(clouddb.NewMemoryAdmin(), clouddb.Config{
		AccountID:         cfg.CloudDB.AccountID,
		AuthorizedNetwork: cfg.CloudDB.AuthorizedNetwork,
		PollInterval:      cfg.CloudDB.PollInterval,
		PollTimeout:       cfg.CloudDB.PollTimeout,
	}))
	registry.RegisterRealm(provision.ProviderKeycloak, keycloak.New(keycloak.NewMemoryAdmin(), cfg.Keycloak.BaseURL))

	generator := &provision.Generator{
		Environment:        cfg.Provisioning.Environment,
		SharedInstanceName: cfg.Provisioning.SharedInstanceName,
		SharedDatabaseName: cfg.Provisioning.SharedDatabaseName,
		DatabaseHost:       cfg.Provisioning.TenantDBHost,
		DatabasePort:       cfg.Provisioning.TenantDBPort,
	}

	pool := provision.NewWorkerPool(ctx, cfg.Provisioning.Workers, cfg.Provisioning.QueueSize)
	defer pool.Stop()

	databases := provision.NewDatabaseOrchestrator(store, registry, generator, pool, reporter, auditLogger)
	realms := provision.NewRealmOrchestrator(store, registry, pool, reporter, auditLogger)

	// Connection router
	connRouter := router.New(store, router.WithPageSize(cfg.Router.PageSize))
	defer connRouter.Close()
	if err := connRouter.Bootstrap(ctx); err != nil {
		slog.Error("failed to bootstrap connection router", logger.Error(err))
		os.Exit(1)
	}

	// The provisioning chain is event-driven: tenant creation triggers
	// the database, an active database triggers the realm, an active
	// realm brings the tenant online in the router.
	bus.Subscribe(events.TypeTenantCreated, func(ctx context.Context, e events.Event) {
		databases.Provision(ctx, provision.ProviderCloudSQL, e.TenantID, e.Realm)
	})
	bus.Subscribe(events.TypeDatabaseProvisioned, func(ctx context.Context, e events.Event) {
		realms.Provision(ctx, provision.ProviderKeycloak, e.TenantID, e.Realm)
	})
	bus.Subscribe(events.TypeRealmProvisioned, func(ctx context.Context, e events.Event) {
		if err := connRouter.Refresh(ctx, e.TenantID, e.Realm); err != nil {
			slog.ErrorContext(ctx, "failed to refresh routing entry",
				logger.TenantID(e.TenantID), logger.Realm(e.Realm), logger.Error(err))
			return
		}
		auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeRouterRefreshed,
			TenantID: e.TenantID,
			Resource: e.Realm,
		})
	})
	bus.Subscribe(events.TypeContactsNotify, func(ctx context.Context, e events.Event) {
		// Delivery is someone else's job; record that the tenant came up.
		slog.InfoContext(ctx, "tenant fully provisioned",
			logger.TenantID(e.TenantID), logger.Realm(e.Realm))
	})

	// Async updates from out-of-process providers
	var consumer *provision.UpdateConsumer
	if cfg.Kafka.Enabled {
		consumer = provision.NewUpdateConsumer(provision.UpdateConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.UpdatesTopic,
			GroupID: cfg.Kafka.GroupID,
		}, reporter)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				slog.Error("update consumer stopped", logger.Error(err))
			}
		}()
		defer consumer.Close()
	}

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		tenantService,
		provision.ProviderCloudSQL,
		provision.ProviderKeycloak,
		databases,
		realms,
		reporter,
		connRouter,
		auditLogger,
	)

	mux := transportHTTP.NewRouter(handler, rateLimiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	// Let in-flight event handlers land before pools and stores go away.
	bus.Wait()

	slog.Info("server stopped")
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
