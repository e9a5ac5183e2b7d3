/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tebon/fabrictest/internal/cryptogen"
	"github.com/tebon/fabrictest/internal/pkg/testnet"
	"github.com/tebon/fabrictest/pkg/cryptosuite"
	"github.com/tebon/fabrictest/pkg/user"
)

const testChannel = "cwjtestcc"

type testEnv struct {
	network *testnet.Network
	client  *Client
	user    *user.User
}

func enrolledUser(t *testing.T, ca *cryptogen.CA) *user.User {
	csp, err := cryptosuite.New(cryptosuite.Options{})
	require.NoError(t, err)

	priv, err := cryptogen.GeneratePrivateKey("")
	require.NoError(t, err)
	cert, err := ca.SignCertificate("", "Admin@tebon.com", nil, nil, &priv.PublicKey, x509.KeyUsageDigitalSignature, nil)
	require.NoError(t, err)
	keyPEM, err := cryptogen.EncodePrivateKey(priv)
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})

	enrollment, err := user.LoadEnrollment(csp, keyPEM, certPEM)
	require.NoError(t, err)
	u := user.New("tebonAdmin", "tebon", csp)
	u.MSPID = "Tebon"
	u.Enrollment = enrollment
	return u
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	ca, err := cryptogen.NewCA("", "tebon.com", "ca.tebon.com")
	require.NoError(t, err)
	u := enrolledUser(t, ca)

	network, err := testnet.New(testnet.Config{
		Orgs: []testnet.Org{{Name: "tebon", MSPID: "Tebon", RootCert: ca.CertBytes()}},
	})
	require.NoError(t, err)
	network.Start()
	t.Cleanup(network.Stop)

	client, err := NewClient(u.CryptoSuite(), opts...)
	require.NoError(t, err)
	require.NoError(t, client.SetUserContext(u))

	return &testEnv{network: network, client: client, user: u}
}

func (e *testEnv) peer(t *testing.T, name string) *Peer {
	p, err := e.client.NewPeer(name, e.network.URL(), nil)
	require.NoError(t, err)
	return p
}

func (e *testEnv) orderer(t *testing.T, name string) *Orderer {
	o, err := e.client.NewOrderer(name, e.network.URL(), nil)
	require.NoError(t, err)
	return o
}

func (e *testEnv) eventHub(t *testing.T, name string) *EventHub {
	eh, err := e.client.NewEventHub(name, e.network.URL(), nil)
	require.NoError(t, err)
	return eh
}

// joinedChannel returns a channel whose ledger exists and which peer0
// already joined, with one orderer and one peer added.
func (e *testEnv) joinedChannel(t *testing.T, roles RoleSet) (*Channel, *Peer) {
	e.network.CreateChannel(testChannel)
	e.network.Join(testChannel)

	ch, err := e.client.NewChannel(testChannel)
	require.NoError(t, err)
	require.NoError(t, ch.AddOrderer(e.orderer(t, "orderer.tebon.com")))
	p := e.peer(t, "peer0.tebon.com")
	require.NoError(t, ch.AddPeer(p, PeerOptions{Roles: roles}))
	t.Cleanup(func() { ch.Shutdown(true) })
	return ch, p
}

func (e *testEnv) initializedChannel(t *testing.T, roles RoleSet) (*Channel, *Peer) {
	ch, p := e.joinedChannel(t, roles)
	require.NoError(t, ch.Initialize(context.Background()))
	return ch, p
}
