/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/tebon/fabrictest/internal/pkg/comm"
	"github.com/tebon/fabrictest/pkg/properties"
	"google.golang.org/grpc"
)

// endpoint is the connection state shared by peers, orderers and event hubs.
type endpoint struct {
	kind    string
	name    string
	url     string
	address string
	props   properties.Properties
	client  *comm.GRPCClient

	mutex   sync.Mutex
	conn    *grpc.ClientConn
	channel string
}

// Name returns the endpoint name.
func (e *endpoint) Name() string { return e.name }

// URL returns the endpoint URL as configured.
func (e *endpoint) URL() string { return e.url }

// Address returns the host:port dialed for the endpoint.
func (e *endpoint) Address() string { return e.address }

// Properties returns a copy of the endpoint properties.
func (e *endpoint) Properties() properties.Properties { return e.props.Clone() }

// ChannelName returns the channel the endpoint belongs to, if any.
func (e *endpoint) ChannelName() string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.channel
}

func (e *endpoint) bind(channel string) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.channel != "" && e.channel != channel {
		return errors.Errorf("%s %s already belongs to channel %s", e.kind, e.name, e.channel)
	}
	e.channel = channel
	return nil
}

func (e *endpoint) unbind() {
	e.mutex.Lock()
	e.channel = ""
	e.mutex.Unlock()
}

// connection returns the cached connection, dialing on first use.
func (e *endpoint) connection(ctx context.Context) (*grpc.ClientConn, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.conn != nil {
		return e.conn, nil
	}
	conn, err := e.client.NewConnection(ctx, e.address)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to connect to %s %s at %s", e.kind, e.name, e.address)
	}
	e.conn = conn
	return conn, nil
}

// tlsCertHash binds deliver requests to the client certificate when mutual
// TLS is in use.
func (e *endpoint) tlsCertHash() []byte {
	return comm.CertificateHash(e.client.Certificate())
}

func (e *endpoint) close() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}
