/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

// GRPCClient creates connections to a single kind of endpoint using a fixed
// set of dial options.
type GRPCClient struct {
	// TLS configuration used by the grpc.ClientConn
	tlsConfig *tls.Config
	// Options for setting up new connections
	dialOpts []grpc.DialOption
	// Duration for which to block while established a new connection
	timeout time.Duration
}

// NewGRPCClient creates a new implementation of GRPCClient given an address
// and client configuration
func NewGRPCClient(config ClientConfig) (*GRPCClient, error) {
	tlsConfig, err := config.SecOpts.TLSConfig()
	if err != nil {
		return nil, err
	}

	dialOpts, err := config.DialOptions()
	if err != nil {
		return nil, err
	}

	timeout := config.DialTimeout
	if timeout == 0 {
		timeout = DefaultConnectionTimeout
	}

	return &GRPCClient{
		tlsConfig: tlsConfig,
		dialOpts:  dialOpts,
		timeout:   timeout,
	}, nil
}

// TLSEnabled reports whether connections from this client use TLS.
func (client *GRPCClient) TLSEnabled() bool {
	return client.tlsConfig != nil
}

// Certificate returns the client certificate presented for mutual TLS, if any.
func (client *GRPCClient) Certificate() tls.Certificate {
	if client.tlsConfig == nil || len(client.tlsConfig.Certificates) == 0 {
		return tls.Certificate{}
	}
	return client.tlsConfig.Certificates[0]
}

type TLSOption func(tlsConfig *tls.Config)

func ServerNameOverride(name string) TLSOption {
	return func(tlsConfig *tls.Config) {
		tlsConfig.ServerName = name
	}
}

func CertPoolOverride(pool *x509.CertPool) TLSOption {
	return func(tlsConfig *tls.Config) {
		tlsConfig.RootCAs = pool
	}
}

// NewConnection returns a grpc.ClientConn for the target address. TLS
// options are applied on top of the client's TLS configuration.
func (client *GRPCClient) NewConnection(ctx context.Context, address string, tlsOptions ...TLSOption) (*grpc.ClientConn, error) {
	var dialOpts []grpc.DialOption
	dialOpts = append(dialOpts, client.dialOpts...)

	if client.tlsConfig != nil && len(tlsOptions) > 0 {
		tlsConfig := client.tlsConfig.Clone()
		for _, opt := range tlsOptions {
			opt(tlsConfig)
		}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(&DynamicClientCredentials{TLSConfig: tlsConfig}))
	}

	ctx, cancel := context.WithTimeout(ctx, client.timeout)
	defer cancel()
	conn, err := grpc.DialContext(ctx, address, dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create new connection to %s", address)
	}
	return conn, nil
}
