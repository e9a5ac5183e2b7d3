/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ca_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperledger/fabric-lib-go/common/metrics/metricsfakes"
	"github.com/stretchr/testify/require"
	"github.com/tebon/fabrictest/internal/cryptogen"
	"github.com/tebon/fabrictest/internal/pkg/testca"
	"github.com/tebon/fabrictest/pkg/ca"
	"github.com/tebon/fabrictest/pkg/cryptosuite"
	"github.com/tebon/fabrictest/pkg/properties"
	"github.com/tebon/fabrictest/pkg/user"
)

func newServer(t *testing.T) *testca.Server {
	signer, err := cryptogen.NewCA("", "tebon.com", "ca.tebon.com")
	require.NoError(t, err)
	srv := testca.New("tebon", signer, map[string]string{"admin": "adminpw"})
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, url string, props properties.Properties, opts ...ca.Option) *ca.Client {
	csp, err := cryptosuite.New(cryptosuite.Options{})
	require.NoError(t, err)
	client, err := ca.New("tebon", url, props, csp, opts...)
	require.NoError(t, err)
	return client
}

func TestInfo(t *testing.T) {
	srv := newServer(t)
	client := newClient(t, srv.URL, nil)

	info, err := client.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tebon", info.CAName)
	require.Equal(t, srv.CA.CertBytes(), info.CAChain)
	require.Equal(t, "1.5.7", info.Version)
}

func TestInfoUnknownCA(t *testing.T) {
	srv := newServer(t)
	csp, err := cryptosuite.New(cryptosuite.Options{})
	require.NoError(t, err)
	client, err := ca.New("other", srv.URL, nil, csp)
	require.NoError(t, err)

	_, err = client.Info(context.Background())
	require.EqualError(t, err, "failed to get info from CA "+srv.URL+": CA responded with status 404: code 19: CA 'other' does not exist")
}

func TestEnroll(t *testing.T) {
	srv := newServer(t)
	fakeCounter := &metricsfakes.Counter{}
	fakeCounter.WithReturns(fakeCounter)
	fakeProvider := &metricsfakes.Provider{}
	fakeProvider.NewCounterReturns(fakeCounter)
	client := newClient(t, srv.URL, nil, ca.WithMetricsProvider(fakeProvider))

	enrollment, err := client.Enroll(context.Background(), "admin", "adminpw", ca.WithHosts("peer0.tebon.com"), ca.WithProfile("tls"))
	require.NoError(t, err)
	require.NotNil(t, enrollment.Key)

	cert, err := user.ParseCertificate(enrollment.Cert)
	require.NoError(t, err)
	require.Equal(t, "admin", cert.Subject.CommonName)
	require.Equal(t, []string{"peer0.tebon.com"}, cert.DNSNames)
	require.NoError(t, cert.CheckSignatureFrom(srv.CA.SignCert))

	require.Equal(t, []testca.Enrollment{{ID: "admin", Profile: "tls", Hosts: []string{"peer0.tebon.com"}}}, srv.Enrollments())

	require.Equal(t, 1, fakeCounter.AddCallCount())
	require.Equal(t, []string{"ca", "tebon", "outcome", "success"}, fakeCounter.WithArgsForCall(0))
}

func TestEnrollFailures(t *testing.T) {
	srv := newServer(t)
	client := newClient(t, srv.URL, nil)

	_, err := client.Enroll(context.Background(), "", "adminpw")
	require.EqualError(t, err, "enrollment ID is required")

	_, err = client.Enroll(context.Background(), "admin", "")
	require.EqualError(t, err, "enrollment secret is required for admin")

	_, err = client.Enroll(context.Background(), "admin", "wrong")
	require.EqualError(t, err, "failed to enroll admin: CA responded with status 401: code 20: Authentication failure")
}

func TestEnrollOverTLS(t *testing.T) {
	signer, err := cryptogen.NewCA("", "tebon.com", "ca.tebon.com")
	require.NoError(t, err)
	srv := testca.New("tebon", signer, map[string]string{"admin": "adminpw"})
	srv.StartTLS()
	defer srv.Close()

	pemFile := filepath.Join(t.TempDir(), "tls-ca.pem")
	require.NoError(t, os.WriteFile(pemFile, pemEncode(srv.Certificate().Raw), 0o644))

	client := newClient(t, srv.URL, properties.New().Set(properties.PemFile, pemFile).Set(properties.AllowAllHostNames, "true"))
	_, err = client.Enroll(context.Background(), "admin", "adminpw")
	require.NoError(t, err)

	untrusting := newClient(t, srv.URL, nil)
	_, err = untrusting.Info(context.Background())
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	csp, err := cryptosuite.New(cryptosuite.Options{})
	require.NoError(t, err)

	_, err = ca.New("tebon", "grpc://ca.tebon.com:7054", nil, csp)
	require.EqualError(t, err, "invalid CA URL grpc://ca.tebon.com:7054: protocol must be http or https")

	_, err = ca.New("tebon", "http://ca.tebon.com:7054", nil, nil)
	require.EqualError(t, err, "crypto suite is required")

	_, err = ca.New("tebon", "https://ca.tebon.com:7054", properties.New().Set(properties.PemFile, "/missing.pem"), csp)
	require.Error(t, err)

	client, err := ca.New("tebon", "http://ca.tebon.com:7054/", nil, csp, ca.WithHTTPClient(http.DefaultClient))
	require.NoError(t, err)
	require.Equal(t, "http://ca.tebon.com:7054", client.URL())
	require.Equal(t, "tebon", client.CAName())
}

func TestInfoOverTLSWithPemBytes(t *testing.T) {
	signer, err := cryptogen.NewCA("", "tebon.com", "ca.tebon.com")
	require.NoError(t, err)
	srv := testca.New("tebon", signer, map[string]string{"admin": "adminpw"})
	srv.StartTLS()
	defer srv.Close()

	props := properties.New().
		Set(properties.PemBytes, pemEncode(srv.Certificate().Raw)).
		Set(properties.AllowAllHostNames, "true")
	client := newClient(t, srv.URL, props)

	info, err := client.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tebon", info.CAName)

	csp, err := cryptosuite.New(cryptosuite.Options{})
	require.NoError(t, err)
	_, err = ca.New("tebon", srv.URL, properties.New().Set(properties.PemBytes, "not a certificate"), csp)
	require.EqualError(t, err, "no certificates found in pemBytes")
}

func TestDefaultCAName(t *testing.T) {
	signer, err := cryptogen.NewCA("", "tebon.com", "ca.tebon.com")
	require.NoError(t, err)
	srv := testca.New("ca.tebon.com", signer, map[string]string{"admin": "adminpw"})
	srv.Start()
	defer srv.Close()

	csp, err := cryptosuite.New(cryptosuite.Options{})
	require.NoError(t, err)
	client, err := ca.New("", srv.URL, nil, csp)
	require.NoError(t, err)

	info, err := client.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ca.tebon.com", info.CAName)

	_, err = client.Enroll(context.Background(), "admin", "adminpw")
	require.NoError(t, err)
}
