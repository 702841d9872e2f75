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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/go-relief-ledger/internal/api"
	"github.com/mr1hm/go-relief-ledger/internal/audit"
	"github.com/mr1hm/go-relief-ledger/internal/config"
	internalgrpc "github.com/mr1hm/go-relief-ledger/internal/grpc"
	"github.com/mr1hm/go-relief-ledger/internal/ledger"
	"github.com/mr1hm/go-relief-ledger/internal/logging"
	"github.com/mr1hm/go-relief-ledger/internal/metrics"
	"github.com/mr1hm/go-relief-ledger/internal/repository"
	"github.com/mr1hm/go-relief-ledger/internal/severity"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port, "owner", cfg.Ledger.Owner)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	// Notifications fan out to the audit table, gRPC subscribers and, when
	// configured, a Kafka topic.
	broadcaster := internalgrpc.NewBroadcaster()
	sinks := []audit.Sink{audit.NewStoreSink(db), broadcaster}
	var kafkaSink *audit.KafkaSink
	if len(cfg.Audit.KafkaBrokers) > 0 {
		kafkaSink = audit.NewKafkaSink(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
		sinks = append(sinks, kafkaSink)
		slog.Info("kafka audit sink enabled", "brokers", cfg.Audit.KafkaBrokers, "topic", cfg.Audit.KafkaTopic)
	}
	dispatcher := audit.NewDispatcher(audit.Config{
		Workers:         cfg.Audit.Workers,
		BufferSize:      cfg.Audit.BufferSize,
		DeliveryTimeout: cfg.Audit.DeliveryTimeout,
	}, m, sinks...)
	dispatcher.Start(ctx)

	l, err := ledger.New(ctx, ledger.Config{
		Owner:           cfg.Ledger.Owner,
		ConflictRetries: cfg.Ledger.ConflictRetries,
		Scoring: severity.Config{
			Precision:          cfg.Ledger.ScorePrecision,
			Tolerance:          cfg.Ledger.ProbabilityTol,
			MissingFactorScore: cfg.Ledger.MissingFactorScore,
			ClassifierWeight:   cfg.Ledger.ClassifierWeight,
		},
		Metrics: m,
	}, db, dispatcher)
	if err != nil {
		logging.Fatalf("Failed to initialize ledger: %v", err)
	}

	grpcServer := internalgrpc.NewServer(broadcaster)
	go func() {
		grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
		if err := grpcServer.Start(grpcAddr); err != nil {
			logging.Fatalf("gRPC server error: %v", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(l, db, db, m, api.Config{
		JWTSecret:      cfg.Auth.JWTSecret,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	grpcServer.Stop()

	// Drain pending notifications before the sinks go away.
	dispatcher.Stop()
	cancel()
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			slog.Error("kafka writer close error", "error", err)
		}
	}

	slog.Info("shutdown complete", "audit_dropped", dispatcher.Dropped())
}
