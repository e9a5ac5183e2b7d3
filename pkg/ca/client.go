/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ca is a client for the Fabric CA REST API. It covers the calls a
// harness needs: server information and enrollment of preregistered
// identities.
package ca

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hyperledger/fabric-lib-go/bccsp"
	"github.com/hyperledger/fabric-lib-go/bccsp/signer"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/hyperledger/fabric-lib-go/common/metrics"
	"github.com/hyperledger/fabric-lib-go/common/metrics/disabled"
	"github.com/pkg/errors"
	"github.com/tebon/fabrictest/pkg/cryptosuite"
	"github.com/tebon/fabrictest/pkg/properties"
	"github.com/tebon/fabrictest/pkg/user"
)

var logger = flogging.MustGetLogger("ca")

var enrollmentsCounter = metrics.CounterOpts{
	Namespace:    "fabrictest",
	Subsystem:    "ca",
	Name:         "enrollments",
	Help:         "The number of enrollment requests sent to a CA, by outcome.",
	LabelNames:   []string{"ca", "outcome"},
	StatsdFormat: "%{#fqname}.%{ca}.%{outcome}",
}

// DefaultTimeout bounds every request to the CA.
const DefaultTimeout = 30 * time.Second

// Info describes a CA as returned by the cainfo endpoint.
type Info struct {
	CAName                    string
	CAChain                   []byte
	Version                   string
	IssuerPublicKey           []byte
	IssuerRevocationPublicKey []byte
}

// Client talks to a single CA.
type Client struct {
	caName      string
	baseURL     string
	csp         bccsp.BCCSP
	httpClient  *http.Client
	enrollments metrics.Counter
}

// Option configures a Client.
type Option func(*Client)

// WithMetricsProvider reports enrollment outcomes to provider.
func WithMetricsProvider(provider metrics.Provider) Option {
	return func(c *Client) {
		c.enrollments = provider.NewCounter(enrollmentsCounter)
	}
}

// WithHTTPClient replaces the HTTP client used to reach the CA.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client for the CA at rawURL. An empty caName addresses the
// server's default CA. For https URLs the pemBytes and pemFile properties
// hold the trusted CA certificates and allowAllHostNames disables host name
// verification.
func New(caName, rawURL string, props properties.Properties, csp bccsp.BCCSP, opts ...Option) (*Client, error) {
	if csp == nil {
		return nil, errors.New("crypto suite is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid CA URL %s", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("invalid CA URL %s: protocol must be http or https", rawURL)
	}
	if u.Host == "" {
		return nil, errors.Errorf("invalid CA URL %s: host is required", rawURL)
	}
	if props == nil {
		props = properties.New()
	}
	if err := props.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid properties for CA %s", rawURL)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if u.Scheme == "https" {
		tlsConfig, err := tlsConfigFromProperties(props)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	c := &Client{
		caName:      caName,
		baseURL:     strings.TrimSuffix(u.String(), "/"),
		csp:         csp,
		httpClient:  &http.Client{Transport: transport, Timeout: DefaultTimeout},
		enrollments: (&disabled.Provider{}).NewCounter(enrollmentsCounter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func tlsConfigFromProperties(props properties.Properties) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	var roots *x509.CertPool
	addRoots := func(pemBytes []byte, source string) error {
		if roots == nil {
			roots = x509.NewCertPool()
		}
		if !roots.AppendCertsFromPEM(pemBytes) {
			return errors.Errorf("no certificates found in %s", source)
		}
		return nil
	}
	if pemBytes := props.Bytes(properties.PemBytes); len(pemBytes) > 0 {
		if err := addRoots(pemBytes, properties.PemBytes); err != nil {
			return nil, err
		}
	}
	if pemFile := props.String(properties.PemFile); pemFile != "" {
		pemBytes, err := os.ReadFile(pemFile)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read CA TLS certificate %s", pemFile)
		}
		if err := addRoots(pemBytes, pemFile); err != nil {
			return nil, err
		}
	}
	tlsConfig.RootCAs = roots

	allowAll, err := props.Bool(properties.AllowAllHostNames)
	if err != nil {
		return nil, err
	}
	if allowAll {
		// chain verification is kept, host names are not checked
		tlsConfig.InsecureSkipVerify = true
		tlsConfig.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return errors.New("CA presented no certificate")
			}
			intermediates := x509.NewCertPool()
			for _, cert := range cs.PeerCertificates[1:] {
				intermediates.AddCert(cert)
			}
			_, err := cs.PeerCertificates[0].Verify(x509.VerifyOptions{
				Roots:         roots,
				Intermediates: intermediates,
			})
			return err
		}
	}
	return tlsConfig, nil
}

// CAName returns the configured CA name. Empty means the server's default CA.
func (c *Client) CAName() string {
	return c.caName
}

// URL returns the CA base URL.
func (c *Client) URL() string {
	return c.baseURL
}

type caError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type caResponse struct {
	Success  bool            `json:"success"`
	Result   json.RawMessage `json:"result"`
	Errors   []caError       `json:"errors"`
	Messages []caError       `json:"messages"`
}

type infoRequest struct {
	CAName string `json:"caname,omitempty"`
}

type infoResult struct {
	CAName                    string `json:"CAName"`
	CAChain                   string `json:"CAChain"`
	IssuerPublicKey           string `json:"IssuerPublicKey"`
	IssuerRevocationPublicKey string `json:"IssuerRevocationPublicKey"`
	Version                   string `json:"Version"`
}

type enrollmentRequest struct {
	CertificateRequest string   `json:"certificate_request"`
	CAName             string   `json:"caname,omitempty"`
	Profile            string   `json:"profile,omitempty"`
	Label              string   `json:"label,omitempty"`
	Hosts              []string `json:"hosts,omitempty"`
}

type enrollmentResult struct {
	Cert       string     `json:"Cert"`
	ServerInfo infoResult `json:"ServerInfo"`
}

// Info returns the CA's name, certificate chain and version.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	result := &infoResult{}
	if err := c.post(ctx, "cainfo", infoRequest{CAName: c.caName}, nil, result); err != nil {
		return nil, errors.WithMessagef(err, "failed to get info from CA %s", c.baseURL)
	}
	return result.toInfo()
}

func (r *infoResult) toInfo() (*Info, error) {
	info := &Info{CAName: r.CAName, Version: r.Version}
	var err error
	if info.CAChain, err = decodeBase64(r.CAChain); err != nil {
		return nil, errors.WithMessage(err, "invalid CA chain")
	}
	if info.IssuerPublicKey, err = decodeBase64(r.IssuerPublicKey); err != nil {
		return nil, errors.WithMessage(err, "invalid issuer public key")
	}
	if info.IssuerRevocationPublicKey, err = decodeBase64(r.IssuerRevocationPublicKey); err != nil {
		return nil, errors.WithMessage(err, "invalid issuer revocation public key")
	}
	return info, nil
}

// EnrollOption customizes an enrollment request.
type EnrollOption func(*enrollmentRequest)

// WithHosts adds subject alternative names to the certificate request.
func WithHosts(hosts ...string) EnrollOption {
	return func(r *enrollmentRequest) {
		r.Hosts = append(r.Hosts, hosts...)
	}
}

// WithProfile selects a CA signing profile, e.g. "tls".
func WithProfile(profile string) EnrollOption {
	return func(r *enrollmentRequest) {
		r.Profile = profile
	}
}

// WithLabel selects the HSM label of the signing key.
func WithLabel(label string) EnrollOption {
	return func(r *enrollmentRequest) {
		r.Label = label
	}
}

// Enroll generates a key pair in the crypto suite and asks the CA to certify
// it for the identity id.
func (c *Client) Enroll(ctx context.Context, id, secret string, opts ...EnrollOption) (*user.Enrollment, error) {
	if id == "" {
		return nil, errors.New("enrollment ID is required")
	}
	if secret == "" {
		return nil, errors.Errorf("enrollment secret is required for %s", id)
	}

	enrollment, err := c.enroll(ctx, id, secret, opts...)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.enrollments.With("ca", c.caName, "outcome", outcome).Add(1)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to enroll %s", id)
	}
	logger.Infof("Enrolled %s with CA %s", id, c.baseURL)
	return enrollment, nil
}

func (c *Client) enroll(ctx context.Context, id, secret string, opts ...EnrollOption) (*user.Enrollment, error) {
	req := enrollmentRequest{CAName: c.caName}
	for _, opt := range opts {
		opt(&req)
	}

	key, err := cryptosuite.GenerateKey(c.csp, false)
	if err != nil {
		return nil, err
	}
	csr, err := c.certificateRequest(key, id, req.Hosts)
	if err != nil {
		return nil, err
	}
	req.CertificateRequest = string(csr)

	result := &enrollmentResult{}
	if err := c.post(ctx, "enroll", req, &basicAuth{id: id, secret: secret}, result); err != nil {
		return nil, err
	}
	cert, err := decodeBase64(result.Cert)
	if err != nil {
		return nil, errors.WithMessage(err, "invalid enrollment certificate")
	}
	if _, err := user.ParseCertificate(cert); err != nil {
		return nil, errors.WithMessage(err, "invalid enrollment certificate")
	}
	return &user.Enrollment{Key: key, Cert: cert}, nil
}

func (c *Client) certificateRequest(key bccsp.Key, cn string, hosts []string) ([]byte, error) {
	s, err := signer.New(c.csp, key)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create CSR signer")
	}
	template := &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: cn},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		DNSNames:           hosts,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, s)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create certificate request")
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}), nil
}

type basicAuth struct {
	id     string
	secret string
}

func (c *Client) post(ctx context.Context, endpoint string, body interface{}, auth *basicAuth, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to encode request")
	}
	endpointURL := fmt.Sprintf("%s/api/v1/%s", c.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrapf(err, "failed to create request for %s", endpointURL)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != nil {
		req.SetBasicAuth(auth.id, auth.secret)
	}

	logger.Debugf("POST %s", endpointURL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "POST %s failed", endpointURL)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "failed to read response from %s", endpointURL)
	}

	caResp := &caResponse{}
	if err := json.Unmarshal(respBody, caResp); err != nil {
		if resp.StatusCode/100 != 2 {
			return errors.Errorf("CA responded with status %d", resp.StatusCode)
		}
		return errors.Wrap(err, "malformed CA response")
	}
	if resp.StatusCode/100 != 2 || !caResp.Success {
		return errors.Errorf("CA responded with status %d: %s", resp.StatusCode, formatErrors(caResp.Errors))
	}
	if err := json.Unmarshal(caResp.Result, result); err != nil {
		return errors.Wrap(err, "malformed CA result")
	}
	return nil
}

func formatErrors(errs []caError) string {
	if len(errs) == 0 {
		return "no error details"
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, fmt.Sprintf("code %d: %s", e.Code, e.Message))
	}
	return strings.Join(msgs, "; ")
}

func decodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "malformed base64")
	}
	return b, nil
}
