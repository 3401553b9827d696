// Package main is the entry point for the unified bridge service, which routes
// cross-chain transfers across several bridge protocols with health-aware selection
// and automatic fallback.
package main

import (
	"context"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/unified-bridge/internal/bridge"
	"github.com/yourorg/unified-bridge/internal/circuitbreaker"
	"github.com/yourorg/unified-bridge/internal/config"
	"github.com/yourorg/unified-bridge/internal/export"
	tracing "github.com/yourorg/unified-bridge/internal/otel"
	"github.com/yourorg/unified-bridge/internal/registry"
	"github.com/yourorg/unified-bridge/internal/scoring"
	"github.com/yourorg/unified-bridge/internal/security"
	"github.com/yourorg/unified-bridge/internal/telemetry"
	"github.com/yourorg/unified-bridge/internal/validation"
)

// main is the entry point for the application
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	// Configure logging
	setupLogging(cfg.LogFormat, cfg.LogLevel)

	shutdownTracer := tracing.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	protocols, err := config.LoadProtocols(cfg.ProtocolsFile)
	if err != nil {
		logrus.Fatalf("Invalid protocol catalog: %v", err)
	}

	var metrics *telemetry.Metrics
	if cfg.EnableMetrics {
		metrics = telemetry.New(prometheus.DefaultRegisterer)
	}

	reg := registry.New(cfg.LoadThresholds())
	for _, p := range protocols {
		if !p.IsEnabled() {
			logrus.WithField("protocol", p.Name).Info("Protocol disabled, skipping")
			continue
		}
		reg.RegisterLoader(p.Name, p.Loader())
	}
	reg.LoadCache().WithTripCallback(func(name string, attempts int) {
		logrus.WithFields(logrus.Fields{
			"protocol": name,
			"attempts": attempts,
		}).Warn("Protocol loads cooling down")
		if metrics != nil {
			metrics.ObserveLoadState(name, circuitbreaker.StateOpen)
		}
	})

	manager := bridge.New(reg).
		WithHealthTTL(cfg.HealthTTL).
		WithScorer(scoring.New().WithLargeTransferThreshold(cfg.LargeTransferAmount())).
		WithValidation(validation.ValidationOptions{
			StrictAddresses: cfg.StrictAddresses,
			MaxAmount:       cfg.MaxAmountDecimal(),
		})
	if metrics != nil {
		manager.WithMetrics(metrics)
	}

	opts := ServerOptions{Metrics: metrics}

	if cfg.ResultWebhookURL != "" {
		exporter, err := export.New(export.Config{
			WebhookURL:    cfg.ResultWebhookURL,
			WebhookAPIKey: cfg.ResultWebhookAPIKey,
			BatchSize:     cfg.ResultExportBatchSize,
			Interval:      cfg.ResultExportInterval,
			RetryMax:      3,
		})
		if err != nil {
			logrus.Warnf("Failed to initialize result exporter: %v", err)
		} else {
			manager.WithResultSink(exporter)
			opts.Exporter = exporter
		}
	}

	if cfg.ReceiptSigning {
		signer, err := security.NewReceiptSigner(security.SignerOptions{
			PrivateKeyHex: cfg.ReceiptSigningKey,
			Validity:      cfg.ReceiptValidity,
		})
		if err != nil {
			logrus.Warnf("Failed to initialize receipt signer: %v", err)
		} else {
			opts.Signer = signer
		}
	}

	if len(cfg.PreloadProtocols) > 0 {
		manager.PreloadProtocols(context.Background(), cfg.PreloadProtocols)
	}

	server := NewServer(cfg, manager, opts)
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging(format, level string) {
	// Set log formatter based on environment
	switch strings.ToLower(format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	logrus.SetOutput(os.Stdout)

	// Set log level based on environment
	switch strings.ToLower(level) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}
