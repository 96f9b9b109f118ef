package certs

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

// Static credential files embedded at build time.
// These give every build the same device identity until a provisioning
// directory overrides them.

var (
	// Root Certificate Authority the broker certificate chains to
	//go:embed files/ca.crt
	CAPem []byte

	// Device Certificate (signed by CA)
	//go:embed files/device.crt
	DeviceCertPEM []byte

	//go:embed files/device.key
	DeviceKeyPEM []byte
)

// File names looked up inside a provisioning directory
const (
	CAFile         = "ca.crt"
	DeviceCertFile = "device.crt"
	DeviceKeyFile  = "device.key"
)

// Blobs holds the three raw credential buffers in the order they are
// materialized.
type Blobs struct {
	CA   []byte
	Cert []byte
	Key  []byte
}

// EmbeddedBlobs returns fresh owned copies of the embedded credentials.
// Each call allocates; the copies may be handed to Materialize.
func EmbeddedBlobs() Blobs {
	return Blobs{
		CA:   clone(CAPem),
		Cert: clone(DeviceCertPEM),
		Key:  clone(DeviceKeyPEM),
	}
}

// LoadBlobs reads the credentials from a provisioning directory.
func LoadBlobs(dir string) (Blobs, error) {
	var b Blobs
	for _, f := range []struct {
		name string
		dst  *[]byte
	}{
		{CAFile, &b.CA},
		{DeviceCertFile, &b.Cert},
		{DeviceKeyFile, &b.Key},
	} {
		data, err := os.ReadFile(filepath.Join(dir, f.name))
		if err != nil {
			return Blobs{}, fmt.Errorf("failed to read %s: %w", f.name, err)
		}
		*f.dst = data
	}
	return b, nil
}

func clone(src []byte) []byte {
	// one spare byte so the terminator fits without growing
	dst := make([]byte, len(src), len(src)+1)
	copy(dst, src)
	return dst
}
