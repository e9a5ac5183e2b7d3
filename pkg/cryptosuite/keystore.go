/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cryptosuite

import (
	"encoding/hex"
	"sync"

	"github.com/hyperledger/fabric-lib-go/bccsp"
	"github.com/pkg/errors"
)

// NewMemKeyStore returns a key store that keeps keys in memory for the life
// of the process.
func NewMemKeyStore() bccsp.KeyStore {
	return &memKeyStore{keys: map[string]bccsp.Key{}}
}

type memKeyStore struct {
	// keys maps hex-encoded SKIs to keys
	keys  map[string]bccsp.Key
	mutex sync.RWMutex
}

// ReadOnly returns false.
func (ks *memKeyStore) ReadOnly() bool {
	return false
}

// GetKey returns the key with the given SKI.
func (ks *memKeyStore) GetKey(ski []byte) (bccsp.Key, error) {
	if len(ski) == 0 {
		return nil, errors.New("ski is nil or empty")
	}

	ks.mutex.RLock()
	defer ks.mutex.RUnlock()
	if key, found := ks.keys[hex.EncodeToString(ski)]; found {
		return key, nil
	}
	return nil, errors.Errorf("no key found for ski %x", ski)
}

// StoreKey stores k. Storing a key whose SKI is already present replaces it,
// matching the file based key store that overwrites the key file.
func (ks *memKeyStore) StoreKey(k bccsp.Key) error {
	if k == nil {
		return errors.New("key is nil")
	}

	ks.mutex.Lock()
	defer ks.mutex.Unlock()
	ks.keys[hex.EncodeToString(k.SKI())] = k
	return nil
}
