package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/gatekeeper/internal/config"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/events"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/notify"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/service"
	"github.com/BrandonDHaskell/gatekeeper/internal/grpcapi"
	"github.com/BrandonDHaskell/gatekeeper/internal/httpapi"
	"github.com/BrandonDHaskell/gatekeeper/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC APIs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg config.Config) error {
	shutdownTracing, err := telemetry.Setup(ctx, "gatekeeper-server", cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	publisher, notifier, closeNATS, err := openMessaging(cfg)
	if err != nil {
		return err
	}
	defer closeNATS()

	// Services
	lifecycle := service.NewLifecycle(st.sessions, publisher, logger)
	ledger := service.NewLedger(st.ledger)
	otp, err := service.NewOTPService(st.challenges, notifier, publisher, service.OTPConfig{
		TTL:         cfg.OTPTTL,
		CodeLength:  cfg.OTPCodeLength,
		MaxAttempts: cfg.OTPMaxAttempts,
		Cooldown:    cfg.OTPCooldown,
		HashSecret:  cfg.OTPHashSecret,
	}, logger)
	if err != nil {
		return err
	}
	coordinator := service.NewCoordinator(lifecycle, ledger, otp, publisher, service.CoordinatorConfig{
		SkipSelfServiceVerification: cfg.SkipSelfServiceVerification,
		MinFacialConfidence:         cfg.MinFacialConfidence,
		BulkParallelism:             cfg.BulkParallelism,
	}, logger)
	aggregator := service.NewAggregator(ledger)

	// Background pruner for expired challenges
	pruner := service.NewChallengePruner(st.challenges, service.PrunerConfig{
		Retention: cfg.ChallengeRetention,
		Interval:  cfg.PruneInterval,
	}, logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	// HTTP
	httpSrv := httpapi.NewServer(httpapi.Dependencies{
		Logger:      logger,
		Addr:        cfg.HTTPAddr,
		Lifecycle:   lifecycle,
		Ledger:      ledger,
		Coordinator: coordinator,
		OTP:         otp,
		Aggregator:  aggregator,
	})

	// gRPC
	grpcSrv, health := grpcapi.NewGRPCServer(grpcapi.NewServer(grpcapi.Dependencies{
		Logger:      logger,
		Lifecycle:   lifecycle,
		Ledger:      ledger,
		Coordinator: coordinator,
		OTP:         otp,
		Aggregator:  aggregator,
	}), logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", cfg.GRPCAddr, err)
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("http server error: %v", err)
			stop()
		}
	}()
	go func() {
		logger.Printf("grpc listening on %s", cfg.GRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Printf("grpc server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")

	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}
	return nil
}

// openMessaging connects the event publisher and code notifier.  Without
// a NATS URL events are dropped, and codes are logged in dev and
// undeliverable in prod.
func openMessaging(cfg config.Config) (events.Publisher, service.Notifier, func(), error) {
	if cfg.NATSURL == "" {
		if cfg.Env == "dev" {
			return &events.NoopPublisher{}, notify.NewLogNotifier(logger), func() {}, nil
		}
		logger.Printf("no GATEKEEPER_NATS_URL: one-time codes cannot be delivered")
		return &events.NoopPublisher{}, nil, func() {}, nil
	}

	enc, err := events.ParseEncoding(cfg.EventEncoding)
	if err != nil {
		return nil, nil, nil, err
	}
	pub, err := events.NewNATSPublisher(cfg.NATSURL, enc)
	if err != nil {
		return nil, nil, nil, err
	}
	notifier, err := notify.NewNATSNotifier(cfg.NATSURL, cfg.NotifySubject, 0)
	if err != nil {
		_ = pub.Close()
		return nil, nil, nil, err
	}
	logger.Printf("nats: publishing %s events to %s", enc, cfg.NATSURL)
	return pub, notifier, func() {
		_ = notifier.Close()
		_ = pub.Close()
	}, nil
}
