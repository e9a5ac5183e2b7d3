/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cryptogen

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"io"
	"math/big"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// PrivateKeyFile is the keystore file name used for generated keys.
const PrivateKeyFile = "priv_sk"

// GeneratePrivateKey creates an EC private key using a P-256 curve. When
// keystorePath is not empty the key is stored there as keystorePath/priv_sk.
func GeneratePrivateKey(keystorePath string) (*ecdsa.PrivateKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to generate private key")
	}
	if keystorePath == "" {
		return priv, nil
	}

	pemEncoded, err := EncodePrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(keystorePath, 0o755); err != nil {
		return nil, err
	}
	keyFile := filepath.Join(keystorePath, PrivateKeyFile)
	if err := os.WriteFile(keyFile, pemEncoded, 0o600); err != nil {
		return nil, errors.WithMessagef(err, "failed to save private key to file %s", keyFile)
	}
	return priv, nil
}

// EncodePrivateKey returns the PKCS#8 PEM encoding of priv.
func EncodePrivateKey(priv *ecdsa.PrivateKey) ([]byte, error) {
	pkcs8Encoded, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to marshal private key")
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8Encoded}), nil
}

// ECDSASigner implements crypto.Signer for ECDSA keys and always produces
// low-S signatures, the only form Fabric accepts.
type ECDSASigner struct {
	PrivateKey *ecdsa.PrivateKey
}

// Public returns the ecdsa.PublicKey associated with PrivateKey.
func (e *ECDSASigner) Public() crypto.PublicKey {
	return &e.PrivateKey.PublicKey
}

// Sign signs the digest and ensures that signatures use the Low S value.
func (e *ECDSASigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand, e.PrivateKey, digest)
	if err != nil {
		return nil, err
	}

	halfOrder := new(big.Int).Rsh(e.PrivateKey.Params().N, 1)
	if s.Cmp(halfOrder) == 1 {
		s.Sub(e.PrivateKey.Params().N, s)
	}
	return asn1.Marshal(ecdsaSignature{R: r, S: s})
}

type ecdsaSignature struct {
	R, S *big.Int
}
