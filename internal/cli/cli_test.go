/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/onsi/gomega"
	"github.com/stretchr/testify/require"
	"github.com/tebon/fabrictest/common/metadata"
	"github.com/tebon/fabrictest/internal/cryptogen"
	"github.com/tebon/fabrictest/internal/pkg/testca"
	"github.com/tebon/fabrictest/internal/pkg/testnet"
)

const channelName = "cwjtestcc"

type network struct {
	root    string
	ca      *testca.Server
	network *testnet.Network
	config  string
}

func newNetwork(t *testing.T) *network {
	root := t.TempDir()
	peerOrg, err := cryptogen.GenerateOrg(root, cryptogen.OrgSpec{Domain: "tebon.com", Type: cryptogen.PeerNode, Nodes: []string{"peer0.tebon.com"}})
	require.NoError(t, err)
	_, err = cryptogen.GenerateOrg(root, cryptogen.OrgSpec{Domain: "tebon.com", Type: cryptogen.OrdererNode, Nodes: []string{"orderer.tebon.com"}})
	require.NoError(t, err)

	srv := testca.New("tebon", peerOrg.CA, map[string]string{"admin": "adminpw"})
	srv.Start()
	t.Cleanup(srv.Close)

	n, err := testnet.New(testnet.Config{
		Orgs: []testnet.Org{{Name: "tebon", MSPID: "Tebon", RootCert: peerOrg.CA.CertBytes()}},
	})
	require.NoError(t, err)
	n.Start()
	t.Cleanup(n.Stop)
	n.CreateChannel(channelName)

	doc := fmt.Sprintf(`
logging:
  spec: warning
org:
  orderers:
  - name: orderer.tebon.com
    url: %[1]s
  peers:
  - name: peer0.tebon.com
    url: %[1]s
  eventhubs:
  - name: peer0.tebon.com
    url: %[1]s
ca:
  url: %[2]s
cryptoconfig:
  root: %[3]s
store:
  path: %[4]s
grpc:
  dialtimeout: 2s
operations:
  listenaddress: 127.0.0.1:0
`, n.URL(), srv.URL, root, filepath.Join(root, "store"))
	path := filepath.Join(root, "fabrictest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	return &network{root: root, ca: srv, network: n, config: path}
}

func execute(t *testing.T, args ...string) (string, error) {
	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Equal(t, GetInfo(), out)
	require.Contains(t, out, "Version: "+metadata.Version)
	require.Contains(t, out, fmt.Sprintf("OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH))
}

func TestVersionTrailingArgs(t *testing.T) {
	_, err := execute(t, "version", "foo")
	require.EqualError(t, err, "trailing args detected")
}

func TestTrailingArgs(t *testing.T) {
	for _, sub := range []string{"run", "cainfo", "enroll", "invoke", "chaininfo", "events", "generate"} {
		t.Run(sub, func(t *testing.T) {
			_, err := execute(t, sub, "extra")
			require.EqualError(t, err, "trailing args detected")
		})
	}
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "crypto-config")
	out, err := execute(t, "generate", "--output", output, "--domain", "example.com", "--peers", "peer0,peer1", "--sample-config")
	require.NoError(t, err)
	require.Contains(t, out, "Generated peer organization example.com")
	require.Contains(t, out, "Generated orderer organization example.com")

	peerOrg := filepath.Join(output, "peerOrganizations", "example.com")
	require.FileExists(t, filepath.Join(peerOrg, "ca", "ca.example.com-cert.pem"))
	require.DirExists(t, filepath.Join(peerOrg, "peers", "peer1.example.com", "tls"))
	require.FileExists(t, filepath.Join(peerOrg, "users", "Admin@example.com", "msp", "keystore", "Admin@example.com.key"))
	require.FileExists(t, filepath.Join(peerOrg, "users", "Admin@example.com", "tls", "server.key"))
	require.DirExists(t, filepath.Join(output, "ordererOrganizations", "example.com", "orderers", "orderer.example.com"))

	sample, err := os.ReadFile(filepath.Join(dir, "fabrictest.yaml"))
	require.NoError(t, err)
	require.Contains(t, string(sample), "cwjtestcc")
}

func TestGenerateRequiresDomain(t *testing.T) {
	_, err := execute(t, "generate", "--output", t.TempDir(), "--domain", "")
	require.EqualError(t, err, "domain is required")
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read configuration")
}

func TestCAInfo(t *testing.T) {
	n := newNetwork(t)
	out, err := execute(t, "cainfo", "--config", n.config)
	require.NoError(t, err)
	require.Contains(t, out, "CA name: tebon\n")
	require.Contains(t, out, "CA certificate subject: ")
}

func TestEnroll(t *testing.T) {
	n := newNetwork(t)
	out, err := execute(t, "enroll", "--config", n.config)
	require.NoError(t, err)
	require.Contains(t, out, "CA admin admin enrolled with MSP ID Tebon")
	require.Len(t, n.ca.Enrollments(), 1)

	_, err = execute(t, "enroll", "--config", n.config)
	require.NoError(t, err)
	require.Len(t, n.ca.Enrollments(), 1)

	_, err = execute(t, "enroll", "--config", n.config, "--force")
	require.NoError(t, err)
	require.Len(t, n.ca.Enrollments(), 2)
}

func TestRun(t *testing.T) {
	n := newNetwork(t)
	out, err := execute(t, "run", "--config", n.config)
	require.NoError(t, err)
	require.Contains(t, out, "Channel cwjtestcc initialized\n")
	require.Contains(t, out, "Organizations: Tebon\n")
	require.Contains(t, out, "Channel info for : cwjtestcc\n")
	require.Contains(t, out, "Channel height: 1\n")
	require.True(t, n.network.Joined(channelName))
}

func TestChainInfo(t *testing.T) {
	n := newNetwork(t)
	out, err := execute(t, "chaininfo", "--config", n.config)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "Blockchain info: {"), out)
	require.Contains(t, out, `"height":1`)
}

func TestInvokeCommand(t *testing.T) {
	n := newNetwork(t)
	out, err := execute(t, "invoke", "--config", n.config)
	require.NoError(t, err)
	require.Contains(t, out, "Successful transaction proposal response Txid: ")
	require.Contains(t, out, "from peer peer0.tebon.com")

	invocations := n.network.Invocations()
	require.Len(t, invocations, 1)
	require.Equal(t, "example_cc_go", invocations[0].Chaincode)
	require.Equal(t, "move", string(invocations[0].Args[0]))
	require.Equal(t, []byte("300"), n.network.State(channelName, "example_cc_go", "b"))
}

func TestInvokeCommandFailure(t *testing.T) {
	n := newNetwork(t)
	out, err := execute(t, "invoke", "--config", n.config, "--fcn", "query", "--args", "z")
	require.Error(t, err)
	require.Contains(t, err.Error(), `{"Error":"Nil amount for z"}`)
	require.Contains(t, out, `Failed transaction proposal response from peer peer0.tebon.com: {"Error":"Nil amount for z"}`)
	invocations := n.network.Invocations()
	require.Len(t, invocations, 1)
	require.Equal(t, [][]byte{[]byte("query"), []byte("z")}, invocations[0].Args)
}

func TestRunTwiceFailsToJoin(t *testing.T) {
	n := newNetwork(t)
	_, err := execute(t, "run", "--config", n.config)
	require.NoError(t, err)

	_, err = execute(t, "run", "--config", n.config)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")
}

func TestEvents(t *testing.T) {
	n := newNetwork(t)

	errCh := make(chan error, 1)
	outCh := make(chan string, 1)
	go func() {
		out, err := execute(t, "events", "--config", n.config, "--max-blocks", "2", "--timeout", "10s")
		outCh <- out
		errCh <- err
	}()

	g := gomega.NewGomegaWithT(t)
	done := false
	g.Eventually(func() bool {
		select {
		case err := <-errCh:
			require.NoError(t, err)
			done = true
		default:
			_, err := n.network.CommitBlock(channelName, "tx-events")
			require.NoError(t, err)
		}
		return done
	}, 10*time.Second, 200*time.Millisecond).Should(gomega.BeTrue())

	out := <-outCh
	require.Contains(t, out, "on channel cwjtestcc")
	require.Equal(t, 2, strings.Count(out, "Block "))
}
