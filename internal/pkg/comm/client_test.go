/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"testing"
	"time"

	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/hyperledger/fabric-lib-go/common/metrics/disabled"
	"github.com/stretchr/testify/require"
	"github.com/tebon/fabrictest/internal/cryptogen"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type tlsServer struct {
	address string
	ca      *cryptogen.CA
	server  *grpc.Server
}

func newTLSServer(t *testing.T, requireClientCert bool) *tlsServer {
	ca, err := cryptogen.NewCA("", "tebon.com", "tlsca.tebon.com")
	require.NoError(t, err)
	serverPair, err := ca.NewServerCertKeyPair("peer0.tebon.com", "127.0.0.1")
	require.NoError(t, err)
	cert, err := tls.X509KeyPair(serverPair.Cert, serverPair.Key)
	require.NoError(t, err)

	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}}
	if requireClientCert {
		pool := x509.NewCertPool()
		require.NoError(t, AddPemToCertPool(ca.CertBytes(), pool))
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := grpc.NewServer(grpc.Creds(credentials.NewTLS(tlsConfig)))
	healthpb.RegisterHealthServer(server, health.NewServer())
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	return &tlsServer{address: lis.Addr().String(), ca: ca, server: server}
}

func TestNewConnectionTLS(t *testing.T) {
	srv := newTLSServer(t, false)

	client, err := NewGRPCClient(ClientConfig{
		SecOpts: SecureOptions{
			UseTLS:             true,
			ServerRootCAs:      [][]byte{srv.ca.CertBytes()},
			ServerNameOverride: "peer0.tebon.com",
		},
		KaOpts:      DefaultKeepaliveOptions,
		DialTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	require.True(t, client.TLSEnabled())

	conn, err := client.NewConnection(context.Background(), srv.address)
	require.NoError(t, err)
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestNewConnectionMutualTLS(t *testing.T) {
	srv := newTLSServer(t, true)
	clientPair, err := srv.ca.NewClientCertKeyPair()
	require.NoError(t, err)

	client, err := NewGRPCClient(ClientConfig{
		SecOpts: SecureOptions{
			UseTLS:             true,
			RequireClientCert:  true,
			Certificate:        clientPair.Cert,
			Key:                clientPair.Key,
			ServerRootCAs:      [][]byte{srv.ca.CertBytes()},
			ServerNameOverride: "peer0.tebon.com",
		},
		KaOpts:       DefaultKeepaliveOptions,
		DialTimeout:  5 * time.Second,
		Interceptors: NewClientInterceptors(flogging.MustGetLogger("comm.test"), &disabled.Provider{}),
	})
	require.NoError(t, err)
	require.NotNil(t, CertificateHash(client.Certificate()))

	conn, err := client.NewConnection(context.Background(), srv.address)
	require.NoError(t, err)
	defer conn.Close()

	_, err = healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
}

func TestNewConnectionUntrustedServer(t *testing.T) {
	srv := newTLSServer(t, false)
	otherCA, err := cryptogen.NewCA("", "other.com", "tlsca.other.com")
	require.NoError(t, err)

	client, err := NewGRPCClient(ClientConfig{
		SecOpts: SecureOptions{
			UseTLS:             true,
			ServerRootCAs:      [][]byte{otherCA.CertBytes()},
			ServerNameOverride: "peer0.tebon.com",
		},
		KaOpts:      DefaultKeepaliveOptions,
		DialTimeout: time.Second,
	})
	require.NoError(t, err)

	_, err = client.NewConnection(context.Background(), srv.address)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to create new connection to "+srv.address)

	// the server name override option replaces the configured one
	client, err = NewGRPCClient(ClientConfig{
		SecOpts: SecureOptions{
			UseTLS:        true,
			ServerRootCAs: [][]byte{srv.ca.CertBytes()},
		},
		KaOpts:      DefaultKeepaliveOptions,
		DialTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	conn, err := client.NewConnection(context.Background(), srv.address, ServerNameOverride("peer0.tebon.com"))
	require.NoError(t, err)
	conn.Close()
}

func TestServiceMethod(t *testing.T) {
	service, method := serviceMethod("/protos.Endorser/ProcessProposal")
	require.Equal(t, "protos_Endorser", service)
	require.Equal(t, "ProcessProposal", method)

	service, method = serviceMethod("garbage")
	require.Equal(t, "unknown", service)
	require.Equal(t, "unknown", method)
}
