/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package cryptoconfig locates certificates and keys in a crypto-config tree
// laid out the way cryptogen writes it.
package cryptoconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/tebon/fabrictest/internal/fileutil"
	"github.com/tebon/fabrictest/pkg/properties"
)

// Endpoint types.
const (
	PeerType    = "peer"
	OrdererType = "orderer"
)

// Layout resolves paths below a crypto-config root.
type Layout struct {
	Root string
}

// New returns the layout rooted at root.
func New(root string) *Layout {
	return &Layout{Root: root}
}

// DomainName returns the text after the first dot of name.
func DomainName(name string) (string, bool) {
	dot := strings.Index(name, ".")
	if dot < 0 {
		return "", false
	}
	return name[dot+1:], true
}

func adminName(domain string) string {
	return "Admin@" + domain
}

func (l *Layout) orgDir(typ, domain string) string {
	return filepath.Join(l.Root, typ+"Organizations", domain)
}

func (l *Layout) adminDir(typ, domain string) string {
	return filepath.Join(l.orgDir(typ, domain), "users", adminName(domain))
}

// CACertPath returns the peer organization's CA certificate path.
func (l *Layout) CACertPath(domain string) string {
	return filepath.Join(l.orgDir(PeerType, domain), "ca", "ca."+domain+"-cert.pem")
}

// AdminCertPath returns the peer organization admin's signing certificate.
func (l *Layout) AdminCertPath(domain string) string {
	return filepath.Join(l.adminDir(PeerType, domain), "msp", "signcerts", adminName(domain)+"-cert.pem")
}

// AdminKeyPath returns the peer organization admin's private key. The
// Admin@<domain>.key file is preferred; otherwise the first *_sk file of the
// keystore is used.
func (l *Layout) AdminKeyPath(domain string) (string, error) {
	keystore := filepath.Join(l.adminDir(PeerType, domain), "msp", "keystore")
	named := filepath.Join(keystore, adminName(domain)+".key")
	if exists, _, err := fileutil.FileExists(named); err == nil && exists {
		return named, nil
	}

	matches, err := filepath.Glob(filepath.Join(keystore, "*_sk"))
	if err != nil {
		return "", errors.Wrapf(err, "failed to search keystore %s", keystore)
	}
	if len(matches) == 0 {
		return "", errors.Errorf("no private key found for %s in %s", adminName(domain), keystore)
	}
	sort.Strings(matches)
	return matches[0], nil
}

// RequireFile fails when path does not name an existing regular file.
func RequireFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	exists, _, err := fileutil.FileExists(abs)
	if err != nil || !exists {
		return errors.Errorf("TEST is missing cert file %s", abs)
	}
	return nil
}

// EndpointProperties returns the TLS properties of a peer or orderer named
// <host>.<domain>: the node's server certificate as trust anchor and the
// organization admin's TLS key pair for mutual TLS.
func (l *Layout) EndpointProperties(typ, name string) (properties.Properties, error) {
	if typ != PeerType && typ != OrdererType {
		return nil, errors.Errorf("unknown endpoint type %q: expected %s or %s", typ, PeerType, OrdererType)
	}
	domain, ok := DomainName(name)
	if !ok || domain == "" {
		return nil, errors.Errorf("endpoint name %s has no domain", name)
	}

	orgDir := l.orgDir(typ, domain)
	cert, err := filepath.Abs(filepath.Join(orgDir, typ+"s", name, "tls", "server.crt"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve cert path for %s", name)
	}
	if !isFile(cert) {
		return nil, errors.Errorf("Missing cert file for: %s. Could not find at location: %s", name, cert)
	}

	tlsDir, err := filepath.Abs(filepath.Join(l.adminDir(typ, domain), "tls"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve admin TLS dir for %s", name)
	}
	clientCert := firstFile(filepath.Join(tlsDir, "server.crt"), filepath.Join(tlsDir, "client.crt"))
	if clientCert == "" {
		return nil, errors.Errorf("Missing  client cert file for: %s. Could not find at location: %s", name, filepath.Join(tlsDir, "server.crt"))
	}
	clientKey := firstFile(filepath.Join(tlsDir, "server.key"), filepath.Join(tlsDir, "client.key"))
	if clientKey == "" {
		return nil, errors.Errorf("Missing  client key file for: %s. Could not find at location: %s", name, filepath.Join(tlsDir, "server.key"))
	}

	return properties.New().
		Set(properties.PemFile, cert).
		Set(properties.ClientCertFile, clientCert).
		Set(properties.ClientKeyFile, clientKey).
		Set(properties.HostnameOverride, name).
		Set(properties.SSLProvider, properties.SSLProviderOpenSSL).
		Set(properties.NegotiationType, properties.NegotiationTLS), nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func firstFile(paths ...string) string {
	for _, p := range paths {
		if isFile(p) {
			return p
		}
	}
	return ""
}

// String describes the layout.
func (l *Layout) String() string {
	return fmt.Sprintf("crypto-config at %s", l.Root)
}
