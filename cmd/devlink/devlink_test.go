package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/DrmagicE/gmqtt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/arhuman/devlink/internal/certs/certtest"
	"github.com/arhuman/devlink/internal/config"
	"github.com/arhuman/devlink/internal/device"
	"github.com/arhuman/devlink/internal/netif"
)

// Helper function to check if slow tests should run
func shouldRunSlowTests() bool {
	return os.Getenv("SLOW_TESTS") != ""
}

func testConfig() *config.DeviceConfig {
	cfg := config.DefaultDeviceConfig()
	cfg.ClientID = "devlink-cmd-test"
	cfg.AttachSystemRoots = false
	cfg.Interface = "lo"
	cfg.InterfaceTimeout = time.Second
	cfg.ConnectTimeout = 5 * time.Second
	return cfg
}

func TestCheckVersionFlag(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want bool
	}{
		{"no_args", nil, false},
		{"long", []string{"--version"}, true},
		{"short", []string{"-v"}, true},
		{"other_flag", []string{"-debug"}, false},
		{"not_first", []string{"-debug", "--version"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkVersionFlag(tt.args))
		})
	}
}

func TestSetupTLSEmbeddedIdentity(t *testing.T) {
	tlsConfig, err := setupTLS(testConfig(), zap.NewNop())
	require.NoError(t, err)

	require.Len(t, tlsConfig.Certificates, 1)
	assert.NotNil(t, tlsConfig.RootCAs)
	assert.Empty(t, tlsConfig.ServerName)
}

func TestSetupTLSMissingCertDir(t *testing.T) {
	cfg := testConfig()
	cfg.CertDir = t.TempDir()

	_, err := setupTLS(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load device identity")
}

func TestNewSessionStartsDisconnected(t *testing.T) {
	s := newSession(testConfig(), nil, zap.NewNop())
	assert.False(t, s.IsConnected())
	assert.Equal(t, int64(0), s.Published())
}

func TestRunFailsWhenInterfaceNeverComesUp(t *testing.T) {
	cfg := testConfig()
	cfg.Interface = "devlink-missing0"
	cfg.InterfaceTimeout = 50 * time.Millisecond

	err := run(context.Background(), cfg, zap.NewNop())
	assert.ErrorIs(t, err, netif.ErrLinkDown)
}

func TestRunFailsWhenBrokerUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.Endpoint = "mqtts://127.0.0.1:1"
	cfg.ConnectTimeout = 2 * time.Second

	err := run(context.Background(), cfg, zap.NewNop())
	var opErr *device.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "connect", opErr.Op)
}

func TestRunAgainstBroker(t *testing.T) {
	if !shouldRunSlowTests() {
		t.Skip("Skipping broker test. Set SLOW_TESTS=1 to run it.")
	}

	ln, err := certtest.Listen()
	require.NoError(t, err)
	srv := gmqtt.NewServer(gmqtt.WithTCPListener(ln))
	srv.Run()
	defer srv.Stop(context.Background())

	cfg := testConfig()
	cfg.Endpoint = "mqtts://" + ln.Addr().String()
	cfg.PublishInterval = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	assert.NoError(t, run(ctx, cfg, zaptest.NewLogger(t)))
}
