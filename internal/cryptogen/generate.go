/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cryptogen

import (
	"crypto/x509"
	"os"
	"path/filepath"

	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/pkg/errors"
)

var logger = flogging.MustGetLogger("cryptogen")

// NodeType selects the organization subtree a spec is generated into.
type NodeType string

const (
	PeerNode    NodeType = "peer"
	OrdererNode NodeType = "orderer"
)

// OrgSpec describes the crypto material for one organization.
type OrgSpec struct {
	// Domain of the organization, e.g. tebon.com
	Domain string
	// Type is the kind of nodes the organization runs
	Type NodeType
	// Nodes are the fully qualified node names, e.g. peer0.tebon.com
	Nodes []string
	// AdminTLSName is the file stem of the admin user's TLS key pair.
	// cryptogen writes "client"; some hand-made trees use "server".
	AdminTLSName string
	// AdminKeyName, when set, renames the admin's keystore file from
	// priv_sk to this name.
	AdminKeyName string
}

// Org is the result of generating an organization.
type Org struct {
	Dir   string
	CA    *CA
	TLSCA *CA
}

// AdminName returns the admin user name for a domain.
func AdminName(domain string) string {
	return "Admin@" + domain
}

// GenerateOrg writes the crypto material for spec under
// root/<type>Organizations/<domain>.
func GenerateOrg(root string, spec OrgSpec) (*Org, error) {
	if spec.Domain == "" {
		return nil, errors.New("organization domain is required")
	}
	if spec.Type != PeerNode && spec.Type != OrdererNode {
		return nil, errors.Errorf("unknown node type %q", spec.Type)
	}
	adminTLSName := spec.AdminTLSName
	if adminTLSName == "" {
		adminTLSName = "client"
	}

	orgDir := filepath.Join(root, string(spec.Type)+"Organizations", spec.Domain)
	logger.Debugf("Generating %s organization %s in %s", spec.Type, spec.Domain, orgDir)

	signCA, err := NewCA(filepath.Join(orgDir, "ca"), spec.Domain, "ca."+spec.Domain)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create CA for %s", spec.Domain)
	}
	tlsCA, err := NewCA(filepath.Join(orgDir, "tlsca"), spec.Domain, "tlsca."+spec.Domain)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create TLS CA for %s", spec.Domain)
	}

	for _, node := range spec.Nodes {
		nodeDir := filepath.Join(orgDir, string(spec.Type)+"s", node)
		if err := generateLocalIdentity(nodeDir, node, []string{node}, signCA, tlsCA, "server", ""); err != nil {
			return nil, errors.WithMessagef(err, "failed to generate crypto material for %s", node)
		}
	}

	admin := AdminName(spec.Domain)
	adminDir := filepath.Join(orgDir, "users", admin)
	if err := generateLocalIdentity(adminDir, admin, nil, signCA, tlsCA, adminTLSName, spec.AdminKeyName); err != nil {
		return nil, errors.WithMessagef(err, "failed to generate crypto material for %s", admin)
	}

	return &Org{Dir: orgDir, CA: signCA, TLSCA: tlsCA}, nil
}

// generateLocalIdentity writes msp/{keystore,signcerts,cacerts} and
// tls/{<tlsName>.crt,<tlsName>.key,ca.crt} below baseDir.
func generateLocalIdentity(baseDir, name string, sans []string, signCA, tlsCA *CA, tlsName, keyName string) error {
	mspDir := filepath.Join(baseDir, "msp")
	tlsDir := filepath.Join(baseDir, "tls")
	keystore := filepath.Join(mspDir, "keystore")

	priv, err := GeneratePrivateKey(keystore)
	if err != nil {
		return err
	}
	if keyName != "" {
		if err := os.Rename(filepath.Join(keystore, PrivateKeyFile), filepath.Join(keystore, keyName)); err != nil {
			return err
		}
	}

	_, err = signCA.SignCertificate(
		filepath.Join(mspDir, "signcerts"),
		name,
		nil,
		nil,
		&priv.PublicKey,
		x509.KeyUsageDigitalSignature,
		[]x509.ExtKeyUsage{},
	)
	if err != nil {
		return err
	}
	if err := pemExport(filepath.Join(mspDir, "cacerts", x509Filename(signCA.Name)), "CERTIFICATE", signCA.SignCert.Raw); err != nil {
		return err
	}

	tlsPriv, err := GeneratePrivateKey("")
	if err != nil {
		return err
	}
	tlsCert, err := tlsCA.SignCertificate(
		"",
		name,
		nil,
		sans,
		&tlsPriv.PublicKey,
		x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment,
		[]x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
	)
	if err != nil {
		return err
	}
	if err := pemExport(filepath.Join(tlsDir, tlsName+".crt"), "CERTIFICATE", tlsCert.Raw); err != nil {
		return err
	}
	keyPEM, err := EncodePrivateKey(tlsPriv)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(tlsDir, tlsName+".key"), keyPEM, 0o600); err != nil {
		return err
	}
	return pemExport(filepath.Join(tlsDir, "ca.crt"), "CERTIFICATE", tlsCA.SignCert.Raw)
}
