// Package main implements the devlink device agent.
// devlink waits for the network, connects to an MQTT broker over mutual TLS,
// subscribes to its topic and publishes a greeting on a fixed interval.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/arhuman/devlink/internal/certs"
	"github.com/arhuman/devlink/internal/config"
	"github.com/arhuman/devlink/internal/device"
	"github.com/arhuman/devlink/internal/fingerprint"
	"github.com/arhuman/devlink/internal/logging"
	"github.com/arhuman/devlink/internal/netif"
	"github.com/arhuman/devlink/internal/version"
)

// checkVersionFlag checks if version flag was provided and prints version if so
func checkVersionFlag(args []string) bool {
	if len(args) > 0 && (args[0] == "--version" || args[0] == "-v") {
		fmt.Printf("devlink %s\n", version.Info())
		return true
	}
	return false
}

// setupTLS materializes the device identity and builds the client TLS configuration
func setupTLS(cfg *config.DeviceConfig, logger *zap.Logger) (*tls.Config, error) {
	id, err := certs.LoadIdentity(cfg.CertDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load device identity: %w", err)
	}

	leaf, err := id.Leaf()
	if err != nil {
		return nil, fmt.Errorf("failed to parse device certificate: %w", err)
	}
	logger.Info("Device identity loaded",
		zap.String("subject", leaf.Subject.CommonName),
		zap.String("issuer", leaf.Issuer.CommonName),
		zap.Time("not_after", leaf.NotAfter),
		zap.Int("arena_bytes", certs.ProcessArena().Size()))

	opts := certs.TLSOptions{}
	if cfg.AttachSystemRoots {
		opts.AttachBundle = certs.SystemBundle
	}
	return id.TLSConfig(opts)
}

func newSession(cfg *config.DeviceConfig, tlsConfig *tls.Config, logger *zap.Logger) *device.Session {
	return device.NewSession(device.Options{
		BrokerURL:       cfg.BrokerURL(),
		ClientID:        cfg.ClientID,
		Topic:           cfg.Topic,
		QoS:             byte(cfg.QoS),
		MessagePrefix:   cfg.MessagePrefix,
		PublishInterval: cfg.PublishInterval,
		ConnectTimeout:  cfg.ConnectTimeout,
		KeepAlive:       cfg.KeepAlive,
		TLSConfig:       tlsConfig,
	}, logger)
}

// run brings the device online and publishes until ctx is cancelled or the
// session fails.
func run(ctx context.Context, cfg *config.DeviceConfig, logger *zap.Logger) error {
	waitCtx, cancel := context.WithTimeout(ctx, cfg.InterfaceTimeout)
	info, err := netif.NewWatcher(logger).WaitUp(waitCtx, cfg.Interface)
	cancel()
	if err != nil {
		return err
	}
	logger.Info("Network ready",
		zap.String("interface", info.Name),
		zap.Strings("addresses", info.Addrs))

	tlsConfig, err := setupTLS(cfg, logger)
	if err != nil {
		return err
	}

	session := newSession(cfg, tlsConfig, logger)
	if err := session.Connect(ctx); err != nil {
		return err
	}
	defer session.Stop()

	session.Start()
	if _, err := session.Subscribe(ctx); err != nil {
		return err
	}

	return session.Run(ctx)
}

func main() {
	// Check for version flag
	if checkVersionFlag(os.Args[1:]) {
		return
	}

	// Load configuration from environment, .env file, and command line flags
	cfg, err := config.LoadDeviceConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, _, err := logging.SetupLogger(cfg.Debug)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting devlink",
		zap.String("version", version.Component("devlink")),
		zap.String("target", version.Target()))

	cfg.ResolveClientID(fingerprint.NewGenerator(logger), logger)
	cfg.LogConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("devlink stopped with an error", zap.Error(err))
	}
	logger.Info("devlink stopped")
}
