/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package properties holds the string-keyed option bags that describe how to
// reach a network endpoint (peer, orderer, event hub or CA).
package properties

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Well known endpoint property keys.
const (
	PemFile           = "pemFile"
	PemBytes          = "pemBytes"
	ClientCertFile    = "clientCertFile"
	ClientKeyFile     = "clientKeyFile"
	ClientCertBytes   = "clientCertBytes"
	ClientKeyBytes    = "clientKeyBytes"
	HostnameOverride  = "hostnameOverride"
	SSLProvider       = "sslProvider"
	NegotiationType   = "negotiationType"
	AllowAllHostNames = "allowAllHostNames"

	KeepAliveTime          = "grpc.keepAliveTime"
	KeepAliveTimeout       = "grpc.keepAliveTimeout"
	KeepAliveWithoutCalls  = "grpc.keepAliveWithoutCalls"
	MaxInboundMessageSize  = "grpc.maxInboundMessageSize"
	MaxOutboundMessageSize = "grpc.maxOutboundMessageSize"
)

// Values accepted for NegotiationType and SSLProvider.
const (
	NegotiationTLS       = "TLS"
	NegotiationPlainText = "plainText"
	SSLProviderOpenSSL   = "openSSL"
	SSLProviderJDK       = "JDK"
)

// Properties is a bag of endpoint options. Values are either native Go values
// (string, bool, int, time.Duration, []byte) or their string encodings.
type Properties map[string]interface{}

// New returns an empty property bag.
func New() Properties {
	return Properties{}
}

// Clone returns a shallow copy of p. Byte slices are copied.
func (p Properties) Clone() Properties {
	c := make(Properties, len(p))
	for k, v := range p {
		if b, ok := v.([]byte); ok {
			v = append([]byte(nil), b...)
		}
		c[k] = v
	}
	return c
}

// Set stores value under key and returns p so calls can be chained.
func (p Properties) Set(key string, value interface{}) Properties {
	p[key] = value
	return p
}

// Has reports whether key is present.
func (p Properties) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Keys returns the keys of p in lexical order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the value of key as a string. Missing keys yield "".
func (p Properties) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Bytes returns the value of key as bytes. Missing keys yield nil.
func (p Properties) Bytes(key string) []byte {
	v, ok := p[key]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	default:
		return []byte(fmt.Sprintf("%v", t))
	}
}

// Bool returns the value of key as a bool. Missing keys yield false.
func (p Properties) Bool(key string) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return false, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, errors.Wrapf(err, "property %s is not a boolean", key)
		}
		return b, nil
	default:
		return false, errors.Errorf("property %s has unsupported type %T for a boolean", key, v)
	}
}

// Int returns the value of key as an int. Missing keys yield 0.
func (p Properties) Int(key string) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case uint32:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, errors.Wrapf(err, "property %s is not an integer", key)
		}
		return i, nil
	default:
		return 0, errors.Errorf("property %s has unsupported type %T for an integer", key, v)
	}
}

// Duration returns the value of key as a time.Duration. Integers are read as
// milliseconds and strings are parsed with time.ParseDuration.
func (p Properties) Duration(key string) (time.Duration, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch t := v.(type) {
	case time.Duration:
		return t, nil
	case int:
		return time.Duration(t) * time.Millisecond, nil
	case int64:
		return time.Duration(t) * time.Millisecond, nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(t))
		if err != nil {
			return 0, errors.Wrapf(err, "property %s is not a duration", key)
		}
		return d, nil
	default:
		return 0, errors.Errorf("property %s has unsupported type %T for a duration", key, v)
	}
}

// Validate checks the enumerated properties carry supported values.
func (p Properties) Validate() error {
	if p.Has(NegotiationType) {
		switch nt := p.String(NegotiationType); nt {
		case NegotiationTLS, NegotiationPlainText:
		default:
			return errors.Errorf("invalid %s %q: expected %s or %s", NegotiationType, nt, NegotiationTLS, NegotiationPlainText)
		}
	}
	if p.Has(SSLProvider) {
		switch sp := p.String(SSLProvider); sp {
		case SSLProviderOpenSSL, SSLProviderJDK:
		default:
			return errors.Errorf("invalid %s %q: expected %s or %s", SSLProvider, sp, SSLProviderOpenSSL, SSLProviderJDK)
		}
	}
	for _, key := range []string{KeepAliveTime, KeepAliveTimeout} {
		if _, err := p.Duration(key); err != nil {
			return err
		}
	}
	for _, key := range []string{MaxInboundMessageSize, MaxOutboundMessageSize} {
		if _, err := p.Int(key); err != nil {
			return err
		}
	}
	if _, err := p.Bool(KeepAliveWithoutCalls); err != nil {
		return err
	}
	_, err := p.Bool(AllowAllHostNames)
	return err
}
