// Package fingerprint derives a stable identifier for the device from its
// hardware, used as the default MQTT client identifier.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ErrNoIdentifiers is returned when no hardware identifier could be read.
var ErrNoIdentifiers = errors.New("no hardware identifiers found")

// identifierFiles are read in order; missing files are skipped.
var identifierFiles = []string{
	"/etc/machine-id",
	"/sys/class/dmi/id/product_uuid",
	"/sys/class/dmi/id/board_serial",
	"/proc/device-tree/serial-number",
}

// Generator handles hardware fingerprint generation
type Generator struct {
	logger *zap.Logger

	files         []string
	readFile      func(string) ([]byte, error)
	hostname      func() (string, error)
	hardwareAddrs func() ([]string, error)
}

// NewGenerator creates a new fingerprint generator
func NewGenerator(logger *zap.Logger) *Generator {
	return &Generator{
		logger:        logger,
		files:         identifierFiles,
		readFile:      os.ReadFile,
		hostname:      os.Hostname,
		hardwareAddrs: interfaceHardwareAddrs,
	}
}

// Generate creates a unique hardware fingerprint
func (g *Generator) Generate() (string, error) {
	g.logger.Debug("Generating hardware fingerprint")

	var identifiers []string
	for _, path := range g.files {
		data, err := g.readFile(path)
		if err != nil {
			continue
		}
		// device-tree strings are NUL-terminated
		if id := strings.TrimSpace(strings.TrimRight(string(data), "\x00")); id != "" {
			identifiers = append(identifiers, id)
		}
	}

	if addrs, err := g.hardwareAddrs(); err != nil {
		g.logger.Warn("Failed to list hardware addresses", zap.Error(err))
	} else {
		identifiers = append(identifiers, addrs...)
	}

	if host, err := g.hostname(); err == nil && host != "" {
		identifiers = append(identifiers, host)
	}

	if len(identifiers) == 0 {
		return "", ErrNoIdentifiers
	}

	hash := sha256.New()
	for _, id := range identifiers {
		hash.Write([]byte(id))
	}

	fingerprint := hex.EncodeToString(hash.Sum(nil))
	g.logger.Debug("Generated hardware fingerprint",
		zap.String("fingerprint", fingerprint),
		zap.Int("identifiers", len(identifiers)))

	return fingerprint, nil
}

// ClientID returns prefix-<first 12 hex digits of the fingerprint>.
func (g *Generator) ClientID(prefix string) (string, error) {
	fp, err := g.Generate()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", prefix, fp[:12]), nil
}

// interfaceHardwareAddrs lists the MAC addresses of non-loopback interfaces
// in a stable order.
func interfaceHardwareAddrs() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var addrs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		addrs = append(addrs, iface.HardwareAddr.String())
	}
	sort.Strings(addrs)
	return addrs, nil
}
