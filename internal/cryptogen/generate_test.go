/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cryptogen

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeneratePeerOrg(t *testing.T) {
	root := t.TempDir()
	org, err := GenerateOrg(root, OrgSpec{
		Domain: "tebon.com",
		Type:   PeerNode,
		Nodes:  []string{"peer0.tebon.com"},
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "peerOrganizations", "tebon.com"), org.Dir)

	for _, f := range []string{
		"ca/ca.tebon.com-cert.pem",
		"ca/priv_sk",
		"tlsca/tlsca.tebon.com-cert.pem",
		"peers/peer0.tebon.com/tls/server.crt",
		"peers/peer0.tebon.com/tls/server.key",
		"peers/peer0.tebon.com/tls/ca.crt",
		"peers/peer0.tebon.com/msp/keystore/priv_sk",
		"peers/peer0.tebon.com/msp/signcerts/peer0.tebon.com-cert.pem",
		"users/Admin@tebon.com/msp/keystore/priv_sk",
		"users/Admin@tebon.com/msp/signcerts/Admin@tebon.com-cert.pem",
		"users/Admin@tebon.com/msp/cacerts/ca.tebon.com-cert.pem",
		"users/Admin@tebon.com/tls/client.crt",
		"users/Admin@tebon.com/tls/client.key",
	} {
		_, err := os.Stat(filepath.Join(org.Dir, f))
		require.NoError(t, err, "missing %s", f)
	}

	certPEM, err := os.ReadFile(filepath.Join(org.Dir, "peers/peer0.tebon.com/tls/server.crt"))
	require.NoError(t, err)
	block, _ := pem.Decode(certPEM)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	require.Equal(t, []string{"peer0.tebon.com"}, cert.DNSNames)
	require.NoError(t, cert.CheckSignatureFrom(org.TLSCA.SignCert))
}

func TestGenerateOrdererOrgWithCustomAdminNames(t *testing.T) {
	root := t.TempDir()
	org, err := GenerateOrg(root, OrgSpec{
		Domain:       "tebon.com",
		Type:         OrdererNode,
		Nodes:        []string{"orderer.tebon.com"},
		AdminTLSName: "server",
		AdminKeyName: "Admin@tebon.com.key",
	})
	require.NoError(t, err)

	for _, f := range []string{
		"orderers/orderer.tebon.com/tls/server.crt",
		"users/Admin@tebon.com/tls/server.crt",
		"users/Admin@tebon.com/tls/server.key",
		"users/Admin@tebon.com/msp/keystore/Admin@tebon.com.key",
	} {
		_, err := os.Stat(filepath.Join(org.Dir, f))
		require.NoError(t, err, "missing %s", f)
	}
}

func TestGenerateOrgErrors(t *testing.T) {
	_, err := GenerateOrg(t.TempDir(), OrgSpec{Type: PeerNode})
	require.EqualError(t, err, "organization domain is required")

	_, err = GenerateOrg(t.TempDir(), OrgSpec{Domain: "tebon.com", Type: "client"})
	require.EqualError(t, err, `unknown node type "client"`)
}

func TestSignCSR(t *testing.T) {
	ca, err := NewCA("", "tebon.com", "ca.tebon.com")
	require.NoError(t, err)

	priv, err := GeneratePrivateKey("")
	require.NoError(t, err)
	signer := &ECDSASigner{PrivateKey: priv}
	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{}, signer)
	require.NoError(t, err)

	certPEM, err := ca.SignCSR(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER}))
	require.NoError(t, err)
	block, _ := pem.Decode(certPEM)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	require.True(t, priv.PublicKey.Equal(cert.PublicKey))

	_, err = ca.SignCSR([]byte("garbage"))
	require.EqualError(t, err, "certificate request is not PEM encoded")
}

func TestECDSASignerProducesLowS(t *testing.T) {
	priv, err := GeneratePrivateKey("")
	require.NoError(t, err)
	signer := &ECDSASigner{PrivateKey: priv}
	digest := sha256.Sum256([]byte("tebon"))

	for i := 0; i < 20; i++ {
		sig, err := signer.Sign(rand.Reader, digest[:], nil)
		require.NoError(t, err)
		require.True(t, ecdsa.VerifyASN1(&priv.PublicKey, digest[:], sig))

		var parsed ecdsaSignature
		_, err = asn1.Unmarshal(sig, &parsed)
		require.NoError(t, err)
		halfOrder := new(big.Int).Rsh(priv.Params().N, 1)
		require.True(t, parsed.S.Cmp(halfOrder) <= 0)
	}
}
