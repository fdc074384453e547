package transport

import (
	"crypto/tls"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// loadPKCS12Bundle reads a PKCS#12 bundle (service.cert/service.cert_password)
// and returns it as a tls.Certificate suitable for tls.Config.Certificates,
// the client-certificate path the original's transport.cpp performs before
// the component handshake.
func loadPKCS12Bundle(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read %s: %w", path, err)
	}

	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode pkcs12: %w", err)
	}
	if cert == nil {
		return tls.Certificate{}, fmt.Errorf("pkcs12 bundle %s contains no certificate", path)
	}

	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}
