/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package cryptosuite creates the software crypto providers used for
// enrollment keys, hashing and signing.
package cryptosuite

import (
	"encoding/pem"

	"github.com/hyperledger/fabric-lib-go/bccsp"
	"github.com/hyperledger/fabric-lib-go/bccsp/sw"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/pkg/errors"
)

var logger = flogging.MustGetLogger("cryptosuite")

// Defaults used when Options leaves a field unset.
const (
	DefaultSecurityLevel = 256
	DefaultHashFamily    = "SHA2"
)

// Options configures the software crypto provider.
type Options struct {
	// KeyStorePath is the directory holding private keys. An empty path
	// selects an in-memory key store.
	KeyStorePath string `mapstructure:"keystore" yaml:"KeyStore"`
	Security     int    `mapstructure:"security" yaml:"Security"`
	Hash         string `mapstructure:"hash" yaml:"Hash"`
}

// New returns a software BCCSP configured by opts.
func New(opts Options) (bccsp.BCCSP, error) {
	if opts.Security == 0 {
		opts.Security = DefaultSecurityLevel
	}
	if opts.Hash == "" {
		opts.Hash = DefaultHashFamily
	}

	var ks bccsp.KeyStore
	if opts.KeyStorePath != "" {
		fks, err := sw.NewFileBasedKeyStore(nil, opts.KeyStorePath, false)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to initialize software key store at %s", opts.KeyStorePath)
		}
		ks = fks
	} else {
		ks = NewMemKeyStore()
	}

	csp, err := sw.NewWithParams(opts.Security, opts.Hash, ks)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to initialize software crypto provider (security %d, hash %s)", opts.Security, opts.Hash)
	}
	logger.Debugf("initialized software crypto suite with key store %q", opts.KeyStorePath)
	return csp, nil
}

// GenerateKey creates a new P-256 private key. Non ephemeral keys are kept in
// the provider's key store.
func GenerateKey(csp bccsp.BCCSP, ephemeral bool) (bccsp.Key, error) {
	key, err := csp.KeyGen(&bccsp.ECDSAP256KeyGenOpts{Temporary: ephemeral})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to generate ECDSA P-256 key")
	}
	return key, nil
}

// ImportPrivateKey imports a PEM encoded EC private key (PKCS#8 or SEC 1)
// into the provider's key store.
func ImportPrivateKey(csp bccsp.BCCSP, keyPEM []byte) (bccsp.Key, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("private key is not PEM encoded")
	}
	key, err := csp.KeyImport(block.Bytes, &bccsp.ECDSAPrivateKeyImportOpts{Temporary: false})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to import private key")
	}
	return key, nil
}

// Sign hashes msg with SHA-256 and signs the digest with key.
func Sign(csp bccsp.BCCSP, key bccsp.Key, msg []byte) ([]byte, error) {
	if key == nil {
		return nil, errors.New("signing key is nil")
	}
	digest, err := csp.Hash(msg, &bccsp.SHA256Opts{})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to hash message")
	}
	return csp.Sign(key, digest, nil)
}

// Verify checks a signature produced by Sign.
func Verify(csp bccsp.BCCSP, key bccsp.Key, signature, msg []byte) (bool, error) {
	digest, err := csp.Hash(msg, &bccsp.SHA256Opts{})
	if err != nil {
		return false, errors.WithMessage(err, "failed to hash message")
	}
	return csp.Verify(key, signature, digest, nil)
}
