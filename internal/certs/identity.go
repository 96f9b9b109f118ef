package certs

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// ErrNoRootCertificates is returned when the root CA view holds no usable
// certificate.
var ErrNoRootCertificates = errors.New("no root CA certificates found")

// BundleAttacher returns the base pool the root CA is added to. It stands in
// for the platform certificate bundle a device firmware would attach.
type BundleAttacher func() (*x509.CertPool, error)

// SystemBundle attaches the host trust store.
func SystemBundle() (*x509.CertPool, error) {
	return x509.SystemCertPool()
}

// TLSOptions tune the client TLS configuration built from an Identity.
type TLSOptions struct {
	// ServerName overrides the name verified against the broker certificate.
	// Empty means the dialer derives it from the endpoint host.
	ServerName string
	// AttachBundle is optional. When nil the pool only holds the root CA.
	AttachBundle BundleAttacher
}

// Identity is the device's TLS identity as three materialized views.
type Identity struct {
	RootCA      View
	Certificate View
	PrivateKey  View
}

// NewIdentity materializes the three blobs, in order CA, certificate, key.
// Ownership of each blob passes to the process arena.
func NewIdentity(ca, cert, key []byte) Identity {
	return Identity{
		RootCA:      Materialize(ca),
		Certificate: Materialize(cert),
		PrivateKey:  Materialize(key),
	}
}

// LoadIdentity builds the identity from the provisioning directory, or from
// the embedded credentials when dir is empty.
func LoadIdentity(dir string) (Identity, error) {
	blobs := EmbeddedBlobs()
	if dir != "" {
		var err error
		blobs, err = LoadBlobs(dir)
		if err != nil {
			return Identity{}, err
		}
	}
	return NewIdentity(blobs.CA, blobs.Cert, blobs.Key), nil
}

// TLSConfig builds a client configuration presenting the device certificate
// and trusting the root CA.
func (id Identity) TLSConfig(opts TLSOptions) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(id.Certificate.PEM(), id.PrivateKey.PEM())
	if err != nil {
		return nil, fmt.Errorf("failed to load device key pair: %w", err)
	}

	pool := x509.NewCertPool()
	if opts.AttachBundle != nil {
		base, err := opts.AttachBundle()
		if err != nil {
			return nil, fmt.Errorf("failed to attach certificate bundle: %w", err)
		}
		if base != nil {
			pool = base
		}
	}
	if !pool.AppendCertsFromPEM(id.RootCA.PEM()) {
		return nil, ErrNoRootCertificates
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   opts.ServerName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Leaf parses the device certificate.
func (id Identity) Leaf() (*x509.Certificate, error) {
	block, _ := pem.Decode(id.Certificate.PEM())
	if block == nil {
		return nil, errors.New("failed to decode device certificate PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}
