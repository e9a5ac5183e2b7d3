/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tebon/fabrictest/internal/cryptogen"
	"github.com/tebon/fabrictest/pkg/properties"
	"gopkg.in/yaml.v2"
)

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "fabrictest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FABRIC_CFG_PATH", t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "tebon", cfg.Org.Name)
	require.Equal(t, "Tebon", cfg.Org.MSPID)
	require.Equal(t, "tebon.com", cfg.Org.Domain)
	require.Equal(t, []Endpoint{{Name: "orderer.tebon.com", URL: "grpcs://99.13.43.6:7050"}}, cfg.Org.Orderers)
	require.Equal(t, []Endpoint{{Name: "peer0.tebon.com", URL: "grpcs://99.13.43.6:7051"}}, cfg.Org.Peers)
	require.Equal(t, []Endpoint{{Name: "peer0.tebon.com", URL: "grpcs://99.13.43.6:7053"}}, cfg.Org.EventHubs)
	require.Equal(t, "http://ca.tebon.com:7054", cfg.CA.URL)
	require.Empty(t, cfg.CA.Name, "requests go to the server's default CA")
	require.Equal(t, "admin", cfg.CA.Admin)
	require.Equal(t, "adminpw", cfg.CA.AdminSecret)
	require.Equal(t, "cwjtestcc", cfg.Channel.Name)
	require.Equal(t, 20*time.Second, cfg.Channel.ProposalWaitTime)
	require.Equal(t, []string{"a", "b", "100"}, cfg.Chaincode.Args)
	require.Equal(t, 5*time.Minute, cfg.GRPC.KeepAliveTime)
	require.Equal(t, 8*time.Second, cfg.GRPC.KeepAliveTimeout)
	require.True(t, cfg.GRPC.KeepAliveWithoutCalls)
	require.Equal(t, uint32(9000000), cfg.GRPC.MaxInboundMessageSize)
	require.Equal(t, 256, cfg.BCCSP.Security)
	require.Equal(t, "SHA2", cfg.BCCSP.Hash)
	require.False(t, cfg.RunningAgainstFabric10())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
org:
  name: acme
  mspid: AcmeMSP
  domain: acme.example.com
  peers:
  - name: peer0.acme.example.com
    url: grpc://127.0.0.1:7051
  - name: peer1.acme.example.com
    url: grpc://127.0.0.1:8051
channel:
  name: mychannel
  proposalwaittime: 3s
  peereventing: true
chaincode:
  args: x,y,7
fabric:
  version: 1.0.6
grpc:
  maxinboundmessagesize: 1 MB
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "acme", cfg.Org.Name)
	require.Len(t, cfg.Org.Peers, 2)
	require.Equal(t, "peer1.acme.example.com", cfg.Org.Peers[1].Name)
	require.Equal(t, "mychannel", cfg.Channel.Name)
	require.Equal(t, 3*time.Second, cfg.Channel.ProposalWaitTime)
	require.True(t, cfg.Channel.PeerEventing)
	require.Equal(t, []string{"x", "y", "7"}, cfg.Chaincode.Args)
	require.Equal(t, uint32(1024*1024), cfg.GRPC.MaxInboundMessageSize)
	require.True(t, cfg.RunningAgainstFabric10())
	// untouched sections keep their defaults
	require.Equal(t, "http://ca.tebon.com:7054", cfg.CA.URL)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	path := writeConfig(t, "channel:\n  name: fromfile\n")
	t.Setenv("FABRICTEST_CHANNEL_NAME", "fromenv")
	t.Setenv("FABRICTEST_ORG_MSPID", "EnvMSP")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "fromenv", cfg.Channel.Name)
	require.Equal(t, "EnvMSP", cfg.Org.MSPID)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		errMsg   string
	}{
		{name: "unknown key", contents: "org:\n  color: blue\n", errMsg: "failed to decode configuration"},
		{name: "empty channel", contents: "channel:\n  name: \"\"\n", errMsg: "channel.name is required"},
		{name: "bad version", contents: "fabric:\n  version: banana\n", errMsg: `invalid fabric.version "banana"`},
		{name: "bad endpoint", contents: "org:\n  peers:\n  - name: peer0\n", errMsg: `endpoint "peer0" needs both a name and a URL`},
		{name: "bad metrics provider", contents: "metrics:\n  provider: statsd\n", errMsg: `unknown metrics.provider "statsd"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.contents))
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "failed to read configuration")
}

func TestSampleRoundTrip(t *testing.T) {
	sample, err := Sample()
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal(sample, &doc))
	require.Contains(t, doc, "org")
	require.Contains(t, doc, "grpc")

	cfg, err := Load(writeConfig(t, string(sample)))
	require.NoError(t, err)
	require.Equal(t, "cwjtestcc", cfg.Channel.Name)
}

func TestBuildOrg(t *testing.T) {
	root := t.TempDir()
	_, err := cryptogen.GenerateOrg(root, cryptogen.OrgSpec{
		Domain: "tebon.com",
		Type:   cryptogen.PeerNode,
		Nodes:  []string{"peer0.tebon.com"},
	})
	require.NoError(t, err)

	path := writeConfig(t, "cryptoconfig:\n  root: "+root+"\nca:\n  allowallhostnames: true\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	o, err := cfg.BuildOrg()
	require.NoError(t, err)
	require.Equal(t, "tebon", o.Name)
	require.Equal(t, "Tebon", o.MSPID)
	require.Equal(t, "tebon.com", o.DomainName)
	require.Equal(t, []string{"orderer.tebon.com"}, o.OrdererNames())
	require.Equal(t, []string{"grpcs://99.13.43.6:7051"}, o.PeerLocations())
	require.Equal(t, []string{"peer0.tebon.com"}, o.EventHubNames())
	require.Equal(t, "tebon", o.CAName)

	pemFile := o.CAProperties.String(properties.PemFile)
	require.True(t, filepath.IsAbs(pemFile))
	require.FileExists(t, pemFile)
	allow, err := o.CAProperties.Bool(properties.AllowAllHostNames)
	require.NoError(t, err)
	require.True(t, allow)

	cfg.CA.Name = "ca.tebon.com"
	o, err = cfg.BuildOrg()
	require.NoError(t, err)
	require.Equal(t, "ca.tebon.com", o.CAName)
}

func TestBuildOrgTLSCertsFromFile(t *testing.T) {
	ca, err := cryptogen.NewCA(t.TempDir(), "tebon.com", "ca.tebon.com")
	require.NoError(t, err)
	certFile := filepath.Join(t.TempDir(), "extra.pem")
	require.NoError(t, os.WriteFile(certFile, ca.CertBytes(), 0o644))

	cfg, err := Load(writeConfig(t, "ca:\n  tlscerts:\n    file: "+certFile+"\n"))
	require.NoError(t, err)
	require.Equal(t, []string{string(ca.CertBytes())}, cfg.CA.TLSCerts)

	o, err := cfg.BuildOrg()
	require.NoError(t, err)
	require.Equal(t, ca.CertBytes(), o.CAProperties.Bytes(properties.PemBytes))
}
