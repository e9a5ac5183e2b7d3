/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"net"
	"net/url"
	"os"

	"github.com/pkg/errors"
	"github.com/tebon/fabrictest/pkg/properties"
)

// Endpoint URL schemes.
const (
	SchemeGRPC  = "grpc"
	SchemeGRPCS = "grpcs"
)

// ParseEndpointURL validates a grpc(s)://host:port URL and returns its
// address and whether the scheme asks for TLS.
func ParseEndpointURL(rawURL string) (address string, secure bool, err error) {
	if rawURL == "" {
		return "", false, errors.New("endpoint URL is empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false, errors.Wrapf(err, "invalid endpoint URL %s", rawURL)
	}
	switch u.Scheme {
	case SchemeGRPC:
	case SchemeGRPCS:
		secure = true
	default:
		return "", false, errors.Errorf("invalid endpoint URL %s: protocol must be %s or %s", rawURL, SchemeGRPC, SchemeGRPCS)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		return "", false, errors.Wrapf(err, "invalid endpoint URL %s", rawURL)
	}
	if host == "" || port == "" {
		return "", false, errors.Errorf("invalid endpoint URL %s: host and port are required", rawURL)
	}
	return u.Host, secure, nil
}

// ClientConfigFromProperties resolves an endpoint URL and its property bag
// into a dial address and a client configuration derived from base.
func ClientConfigFromProperties(rawURL string, props properties.Properties, base ClientConfig) (string, ClientConfig, error) {
	address, secure, err := ParseEndpointURL(rawURL)
	if err != nil {
		return "", ClientConfig{}, err
	}
	if err := props.Validate(); err != nil {
		return "", ClientConfig{}, errors.WithMessagef(err, "invalid properties for %s", rawURL)
	}

	cc := base.Clone()
	cc.SecOpts.UseTLS = secure && props.String(properties.NegotiationType) != properties.NegotiationPlainText

	if cc.SecOpts.UseTLS {
		rootCA, err := readPropertyPEM(props, properties.PemBytes, properties.PemFile)
		if err != nil {
			return "", ClientConfig{}, err
		}
		if rootCA != nil {
			cc.SecOpts.ServerRootCAs = [][]byte{rootCA}
		}

		cert, err := readPropertyPEM(props, properties.ClientCertBytes, properties.ClientCertFile)
		if err != nil {
			return "", ClientConfig{}, err
		}
		key, err := readPropertyPEM(props, properties.ClientKeyBytes, properties.ClientKeyFile)
		if err != nil {
			return "", ClientConfig{}, err
		}
		if (cert == nil) != (key == nil) {
			return "", ClientConfig{}, errors.Errorf("properties for %s must set both client certificate and client key", rawURL)
		}
		if cert != nil {
			cc.SecOpts.Certificate = cert
			cc.SecOpts.Key = key
			cc.SecOpts.RequireClientCert = true
		}
		cc.SecOpts.ServerNameOverride = props.String(properties.HostnameOverride)
	}

	if props.Has(properties.KeepAliveTime) {
		cc.KaOpts.ClientInterval, _ = props.Duration(properties.KeepAliveTime)
	}
	if props.Has(properties.KeepAliveTimeout) {
		cc.KaOpts.ClientTimeout, _ = props.Duration(properties.KeepAliveTimeout)
	}
	if props.Has(properties.KeepAliveWithoutCalls) {
		cc.KaOpts.ClientPermitWithoutStream, _ = props.Bool(properties.KeepAliveWithoutCalls)
	}
	if props.Has(properties.MaxInboundMessageSize) {
		cc.MaxRecvMsgSize, _ = props.Int(properties.MaxInboundMessageSize)
	}
	if props.Has(properties.MaxOutboundMessageSize) {
		cc.MaxSendMsgSize, _ = props.Int(properties.MaxOutboundMessageSize)
	}

	return address, cc, nil
}

// readPropertyPEM prefers inline bytes over a file reference.
func readPropertyPEM(props properties.Properties, bytesKey, fileKey string) ([]byte, error) {
	if b := props.Bytes(bytesKey); len(b) > 0 {
		return b, nil
	}
	path := props.String(fileKey)
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s %s", fileKey, path)
	}
	return b, nil
}
