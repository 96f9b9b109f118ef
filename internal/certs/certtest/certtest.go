// Package certtest provides the broker side of the test PKI: a server
// certificate for localhost and 127.0.0.1 signed by the embedded CA.
package certtest

import (
	"crypto/tls"
	"crypto/x509"
	_ "embed"
	"net"

	"github.com/arhuman/devlink/internal/certs"
)

var (
	//go:embed files/broker.crt
	BrokerCertPEM []byte

	//go:embed files/broker.key
	BrokerKeyPEM []byte
)

// ServerTLSConfig returns a configuration that requires client certificates
// signed by the embedded CA.
func ServerTLSConfig() (*tls.Config, error) {
	cert, err := tls.X509KeyPair(BrokerCertPEM, BrokerKeyPEM)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(certs.CAPem)
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Listen opens a mutual TLS listener on a random loopback port.
func Listen() (net.Listener, error) {
	cfg, err := ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", "127.0.0.1:0", cfg)
}
