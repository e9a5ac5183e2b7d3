/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package user models a network member: its identity attributes and the
// enrollment (private key and certificate) it signs with.
package user

import (
	"crypto/x509"
	"encoding/pem"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-lib-go/bccsp"
	"github.com/hyperledger/fabric-protos-go/msp"
	"github.com/pkg/errors"
	"github.com/tebon/fabrictest/pkg/cryptosuite"
)

// Enrollment is the key and PEM certificate issued to a member.
type Enrollment struct {
	Key  bccsp.Key
	Cert []byte
}

// User is a member of an organization.
type User struct {
	Name             string
	Roles            []string
	Account          string
	Affiliation      string
	Organization     string
	MSPID            string
	EnrollmentSecret string
	Enrollment       *Enrollment

	csp bccsp.BCCSP
}

// New returns an unenrolled user that signs with csp.
func New(name, org string, csp bccsp.BCCSP) *User {
	return &User{Name: name, Organization: org, csp: csp}
}

// CryptoSuite returns the provider the user signs with.
func (u *User) CryptoSuite() bccsp.BCCSP {
	return u.csp
}

// SetCryptoSuite replaces the provider the user signs with.
func (u *User) SetCryptoSuite(csp bccsp.BCCSP) {
	u.csp = csp
}

// IsEnrolled reports whether the user holds a key and a certificate.
func (u *User) IsEnrolled() bool {
	return u.Enrollment != nil && u.Enrollment.Key != nil && len(u.Enrollment.Cert) > 0
}

// Validate checks the user can act as a client's signing identity.
func (u *User) Validate() error {
	switch {
	case u == nil:
		return errors.New("user context is nil")
	case u.Name == "":
		return errors.New("user context must have a name")
	case !u.IsEnrolled():
		return errors.Errorf("user %s is not enrolled", u.Name)
	case u.MSPID == "":
		return errors.Errorf("user %s has no MSP ID", u.Name)
	case u.csp == nil:
		return errors.Errorf("user %s has no crypto suite", u.Name)
	}
	return nil
}

// Serialize returns the marshaled msp.SerializedIdentity of the user.
func (u *User) Serialize() ([]byte, error) {
	if !u.IsEnrolled() {
		return nil, errors.Errorf("user %s is not enrolled", u.Name)
	}
	if u.MSPID == "" {
		return nil, errors.Errorf("user %s has no MSP ID", u.Name)
	}
	sid := &msp.SerializedIdentity{Mspid: u.MSPID, IdBytes: u.Enrollment.Cert}
	b, err := proto.Marshal(sid)
	if err != nil {
		return nil, errors.Wrap(err, "error marshaling SerializedIdentity")
	}
	return b, nil
}

// Sign signs the SHA-256 digest of msg with the enrollment key.
func (u *User) Sign(msg []byte) ([]byte, error) {
	if !u.IsEnrolled() {
		return nil, errors.Errorf("user %s is not enrolled", u.Name)
	}
	if u.csp == nil {
		return nil, errors.Errorf("user %s has no crypto suite", u.Name)
	}
	return cryptosuite.Sign(u.csp, u.Enrollment.Key, msg)
}

// Certificate parses the enrollment certificate.
func (u *User) Certificate() (*x509.Certificate, error) {
	if !u.IsEnrolled() {
		return nil, errors.Errorf("user %s is not enrolled", u.Name)
	}
	return ParseCertificate(u.Enrollment.Cert)
}

// LoadEnrollment imports a PEM private key into csp and pairs it with a PEM
// certificate.
func LoadEnrollment(csp bccsp.BCCSP, keyPEM, certPEM []byte) (*Enrollment, error) {
	if _, err := ParseCertificate(certPEM); err != nil {
		return nil, err
	}
	key, err := cryptosuite.ImportPrivateKey(csp, keyPEM)
	if err != nil {
		return nil, err
	}
	return &Enrollment{Key: key, Cert: certPEM}, nil
}

// ParseCertificate decodes the first PEM certificate in certPEM.
func ParseCertificate(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("certificate is not PEM encoded")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse certificate")
	}
	return cert, nil
}
