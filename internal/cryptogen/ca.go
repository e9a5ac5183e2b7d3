/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cryptogen

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// CA is a certificate authority able to issue node, user and TLS
// certificates for one organization.
type CA struct {
	Name     string
	Org      string
	Signer   crypto.Signer
	SignCert *x509.Certificate
}

// CertKeyPair is a PEM encoded certificate and its PEM encoded private key.
type CertKeyPair struct {
	Cert []byte
	Key  []byte
}

// NewCA creates a self-signed CA. When baseDir is not empty the key and the
// certificate are written to baseDir/priv_sk and baseDir/<name>-cert.pem.
func NewCA(baseDir, org, name string) (*CA, error) {
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, err
		}
	}

	priv, err := GeneratePrivateKey(baseDir)
	if err != nil {
		return nil, err
	}

	template := x509Template()
	template.IsCA = true
	template.KeyUsage |= x509.KeyUsageDigitalSignature |
		x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign |
		x509.KeyUsageCRLSign
	template.ExtKeyUsage = []x509.ExtKeyUsage{
		x509.ExtKeyUsageClientAuth,
		x509.ExtKeyUsageServerAuth,
	}
	template.Subject = subjectTemplate()
	template.Subject.Organization = []string{org}
	template.Subject.CommonName = name
	template.SubjectKeyId = computeSKI(&priv.PublicKey)

	cert, err := genCertificateECDSA(baseDir, name, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, err
	}

	return &CA{
		Name:     name,
		Org:      org,
		Signer:   &ECDSASigner{PrivateKey: priv},
		SignCert: cert,
	}, nil
}

// CertBytes returns the PEM encoded CA certificate.
func (ca *CA) CertBytes() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.SignCert.Raw})
}

// SignCertificate issues a certificate for pub. When baseDir is not empty the
// certificate is written to baseDir/<name>-cert.pem.
func (ca *CA) SignCertificate(
	baseDir,
	name string,
	orgUnits,
	alternateNames []string,
	pub *ecdsa.PublicKey,
	ku x509.KeyUsage,
	eku []x509.ExtKeyUsage,
) (*x509.Certificate, error) {
	template := x509Template()
	template.KeyUsage = ku
	template.ExtKeyUsage = eku

	subject := subjectTemplate()
	subject.CommonName = name
	subject.OrganizationalUnit = append(subject.OrganizationalUnit, orgUnits...)
	template.Subject = subject
	template.AuthorityKeyId = ca.SignCert.SubjectKeyId

	for _, san := range alternateNames {
		if ip := net.ParseIP(san); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, san)
		}
	}

	return genCertificateECDSA(baseDir, name, &template, ca.SignCert, pub, ca.Signer)
}

// NewServerCertKeyPair issues an in-memory TLS server certificate valid for host.
func (ca *CA) NewServerCertKeyPair(hosts ...string) (*CertKeyPair, error) {
	return ca.newCertKeyPair(hosts, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth})
}

// NewClientCertKeyPair issues an in-memory TLS client certificate.
func (ca *CA) NewClientCertKeyPair() (*CertKeyPair, error) {
	return ca.newCertKeyPair(nil, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth})
}

func (ca *CA) newCertKeyPair(hosts []string, eku []x509.ExtKeyUsage) (*CertKeyPair, error) {
	priv, err := GeneratePrivateKey("")
	if err != nil {
		return nil, err
	}
	name := "client"
	if len(hosts) > 0 {
		name = hosts[0]
	}
	cert, err := ca.SignCertificate("", name, nil, hosts, &priv.PublicKey,
		x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment, eku)
	if err != nil {
		return nil, err
	}
	keyPEM, err := EncodePrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return &CertKeyPair{
		Cert: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}),
		Key:  keyPEM,
	}, nil
}

// SignCSR issues an enrollment certificate for a PEM encoded certificate
// signing request and returns it PEM encoded.
func (ca *CA) SignCSR(csrPEM []byte) ([]byte, error) {
	block, _ := pem.Decode(csrPEM)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, errors.New("certificate request is not PEM encoded")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse certificate request")
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, errors.Wrap(err, "invalid certificate request signature")
	}
	pub, ok := csr.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.Errorf("unsupported public key type %T", csr.PublicKey)
	}
	cert, err := ca.SignCertificate("", csr.Subject.CommonName, nil, csr.DNSNames, pub,
		x509.KeyUsageDigitalSignature, nil)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}), nil
}

// compute Subject Key Identifier using RFC 7093, Section 2, Method 4
func computeSKI(pub *ecdsa.PublicKey) []byte {
	raw := elliptic.Marshal(pub.Curve, pub.X, pub.Y)
	hash := sha256.Sum256(raw)
	return hash[:]
}

// default template for X509 subject
func subjectTemplate() pkix.Name {
	return pkix.Name{
		Country:  []string{"US"},
		Locality: []string{"San Francisco"},
		Province: []string{"California"},
	}
}

// default template for X509 certificates
func x509Template() x509.Certificate {
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, _ := rand.Int(rand.Reader, serialNumberLimit)

	// set expiry to around 10 years, backdated 5 minutes
	expiry := 3650 * 24 * time.Hour
	notBefore := time.Now().Round(time.Minute).Add(-5 * time.Minute).UTC()

	return x509.Certificate{
		SerialNumber:          serialNumber,
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(expiry).UTC(),
		BasicConstraintsValid: true,
	}
}

func genCertificateECDSA(
	baseDir,
	name string,
	template,
	parent *x509.Certificate,
	pub *ecdsa.PublicKey,
	priv interface{},
) (*x509.Certificate, error) {
	certBytes, err := x509.CreateCertificate(rand.Reader, template, parent, pub, priv)
	if err != nil {
		return nil, err
	}

	if baseDir != "" {
		if err := pemExport(filepath.Join(baseDir, x509Filename(name)), "CERTIFICATE", certBytes); err != nil {
			return nil, err
		}
	}

	return x509.ParseCertificate(certBytes)
}

func x509Filename(name string) string {
	return name + "-cert.pem"
}

func pemExport(path, pemType string, bytes []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return pem.Encode(file, &pem.Block{Type: pemType, Bytes: bytes})
}
