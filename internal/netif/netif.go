// Package netif waits for the device's network link to come up.
//
// Associating with the access point is the platform's job (wpa_supplicant,
// NetworkManager, the modem firmware). devlink only waits until the
// interface is up and has an address, then reports what it got.
package netif

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/arhuman/devlink/internal/logging"
)

// ErrLinkDown is returned when the interface did not come up in time.
var ErrLinkDown = errors.New("network link is down")

// DefaultPollInterval is how often interfaces are re-examined.
const DefaultPollInterval = 500 * time.Millisecond

// Info describes an interface that is up.
type Info struct {
	Name         string
	HardwareAddr string
	Addrs        []string
}

// Iface is a snapshot of one interface.
type Iface struct {
	Name         string
	Flags        net.Flags
	HardwareAddr net.HardwareAddr
	Addrs        []net.Addr
}

// Source lists the host's interfaces.
type Source interface {
	Interfaces() ([]Iface, error)
}

type hostSource struct{}

func (hostSource) Interfaces() ([]Iface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Iface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			addrs = nil
		}
		out = append(out, Iface{
			Name:         iface.Name,
			Flags:        iface.Flags,
			HardwareAddr: iface.HardwareAddr,
			Addrs:        addrs,
		})
	}
	return out, nil
}

// Watcher polls a Source until the wanted interface is ready.
type Watcher struct {
	source       Source
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewWatcher watches the host's interfaces.
func NewWatcher(logger *zap.Logger) *Watcher {
	return NewWatcherWithSource(hostSource{}, DefaultPollInterval, logger)
}

// NewWatcherWithSource watches the interfaces reported by source.
func NewWatcherWithSource(source Source, pollInterval time.Duration, logger *zap.Logger) *Watcher {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Watcher{
		source:       source,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// WaitUp blocks until the named interface is up with at least one address.
// An empty name accepts the first such interface that is not a loopback.
// An interface that does not exist yet is waited for, since the platform
// may create it late.
func (w *Watcher) WaitUp(ctx context.Context, name string) (*Info, error) {
	logger, start := logging.FuncLogger(w.logger, "Watcher.WaitUp")
	defer logging.FuncExit(logger, start)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++
		info, err := w.check(name)
		if err != nil {
			logger.Debug("Failed to list interfaces", zap.Error(err))
		}
		if info != nil {
			logger.Info("Network interface up",
				zap.String("interface", info.Name),
				zap.String("hardware_addr", info.HardwareAddr),
				zap.Strings("addrs", info.Addrs),
				zap.Int("attempts", attempts))
			return info, nil
		}

		select {
		case <-ctx.Done():
			target := name
			if target == "" {
				target = "any"
			}
			return nil, fmt.Errorf("%w: interface %s: %w", ErrLinkDown, target, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (w *Watcher) check(name string) (*Info, error) {
	ifaces, err := w.source.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if name != "" && iface.Name != name {
			continue
		}
		if name == "" && iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || len(iface.Addrs) == 0 {
			continue
		}
		info := &Info{
			Name:         iface.Name,
			HardwareAddr: iface.HardwareAddr.String(),
		}
		for _, addr := range iface.Addrs {
			info.Addrs = append(info.Addrs, addr.String())
		}
		return info, nil
	}
	return nil, nil
}
