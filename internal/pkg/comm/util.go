/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"

	"github.com/pkg/errors"
)

// AddPemToCertPool adds PEM-encoded certs to a cert pool
func AddPemToCertPool(pemCerts []byte, pool *x509.CertPool) error {
	certs, err := pemToX509Certs(pemCerts)
	if err != nil {
		return err
	}
	if len(certs) == 0 {
		return errors.New("no certificates found in PEM data")
	}
	for _, cert := range certs {
		pool.AddCert(cert)
	}
	return nil
}

// parse PEM-encoded certs
func pemToX509Certs(pemCerts []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	// it's possible that multiple certs are encoded
	for len(pemCerts) > 0 {
		var block *pem.Block
		block, pemCerts = pem.Decode(pemCerts)
		if block == nil {
			break
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}

		certs = append(certs, cert)
	}

	return certs, nil
}

// CertificateHash returns the SHA-256 hash of the leaf certificate of a TLS
// client certificate, or nil when there is none.
func CertificateHash(cert tls.Certificate) []byte {
	if len(cert.Certificate) == 0 {
		return nil
	}
	h := sha256.Sum256(cert.Certificate[0])
	return h[:]
}
