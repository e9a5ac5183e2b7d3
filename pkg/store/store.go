/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package store persists network members and their enrollments between runs.
package store

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperledger/fabric-lib-go/bccsp"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/pkg/errors"
	"github.com/tebon/fabrictest/common/leveldbhelper"
	"github.com/tebon/fabrictest/pkg/cryptosuite"
	"github.com/tebon/fabrictest/pkg/user"
)

var logger = flogging.MustGetLogger("store")

const (
	// DefaultDirName is the directory created under the system temporary
	// directory when no store path is configured.
	DefaultDirName = "HFCSampletest"

	keyPrefix = "user."
)

// DefaultPath returns <tmp>/HFCSampletest.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), DefaultDirName)
}

// KeyStorePath returns the key store directory kept next to the members of
// a store at dir.
func KeyStorePath(dir string) string {
	return filepath.Join(dir, "keystore")
}

type enrollmentRecord struct {
	KeySKI string `json:"key_ski"`
	Cert   string `json:"cert"`
}

type memberRecord struct {
	Name             string            `json:"name"`
	Roles            []string          `json:"roles,omitempty"`
	Account          string            `json:"account,omitempty"`
	Affiliation      string            `json:"affiliation,omitempty"`
	Organization     string            `json:"organization"`
	MSPID            string            `json:"msp_id,omitempty"`
	EnrollmentSecret string            `json:"enrollment_secret,omitempty"`
	Enrollment       *enrollmentRecord `json:"enrollment,omitempty"`
}

// Store keeps members in a leveldb database. Enrollment keys are referenced
// by SKI and held in the crypto suite's key store.
type Store struct {
	dir     string
	db      *leveldbhelper.DB
	csp     bccsp.BCCSP
	mutex   sync.Mutex
	members map[string]*user.User
}

// New opens or creates the store at dir. When csp is nil a software suite
// with a file key store under dir/keystore is created.
func New(dir string, csp bccsp.BCCSP) (*Store, error) {
	if dir == "" {
		dir = DefaultPath()
	}
	if csp == nil {
		var err error
		csp, err = cryptosuite.New(cryptosuite.Options{KeyStorePath: KeyStorePath(dir)})
		if err != nil {
			return nil, err
		}
	}

	db := leveldbhelper.CreateDB(&leveldbhelper.Conf{DBPath: filepath.Join(dir, "members")})
	if err := db.Open(); err != nil {
		return nil, errors.WithMessagef(err, "failed to open member store at %s", dir)
	}
	logger.Infof("Opened member store at %s", dir)

	return &Store{
		dir:     dir,
		db:      db,
		csp:     csp,
		members: map[string]*user.User{},
	}, nil
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// CryptoSuite returns the suite that holds the members' keys.
func (s *Store) CryptoSuite() bccsp.BCCSP {
	return s.csp
}

// Close releases the database.
func (s *Store) Close() {
	s.db.Close()
}

func memberKey(name, org string) []byte {
	return []byte(keyPrefix + name + org)
}

// HasMember reports whether a member is cached or stored.
func (s *Store) HasMember(name, org string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.members[string(memberKey(name, org))]; ok {
		return true
	}
	value, err := s.db.Get(memberKey(name, org))
	return err == nil && value != nil
}

// GetMember returns the named member, creating and storing a new unenrolled
// one when it does not exist yet.
func (s *Store) GetMember(name, org string) (*user.User, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	u, err := s.lookup(name, org)
	if err != nil || u != nil {
		return u, err
	}

	u = user.New(name, org, s.csp)
	if err := s.save(u); err != nil {
		return nil, err
	}
	return u, nil
}

// GetMemberFromFiles returns the named member, creating an enrolled member
// from a PEM private key file and a PEM certificate file when it does not
// exist yet.
func (s *Store) GetMemberFromFiles(name, org, mspID, keyFile, certFile string) (*user.User, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	u, err := s.lookup(name, org)
	if err != nil || u != nil {
		return u, err
	}

	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read private key for %s", name)
	}
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read certificate for %s", name)
	}
	enrollment, err := user.LoadEnrollment(s.csp, keyPEM, certPEM)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load enrollment of %s", name)
	}

	u = user.New(name, org, s.csp)
	u.MSPID = mspID
	u.Enrollment = enrollment
	if err := s.save(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Save writes the member's current state.
func (s *Store) Save(u *user.User) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.save(u)
}

// Members returns every stored member.
func (s *Store) Members() ([]*user.User, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	itr, err := s.db.GetPrefixIterator([]byte(keyPrefix))
	if err != nil {
		return nil, err
	}
	defer itr.Release()

	var members []*user.User
	for itr.Next() {
		u, err := s.decode(itr.Value())
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to decode member %s", itr.Key())
		}
		members = append(members, u)
	}
	return members, errors.Wrap(itr.Error(), "failed to iterate members")
}

func (s *Store) lookup(name, org string) (*user.User, error) {
	key := memberKey(name, org)
	if u, ok := s.members[string(key)]; ok {
		return u, nil
	}
	value, err := s.db.Get(key)
	if err != nil || value == nil {
		return nil, err
	}
	u, err := s.decode(value)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to decode member %s of %s", name, org)
	}
	s.members[string(key)] = u
	return u, nil
}

func (s *Store) save(u *user.User) error {
	if u == nil || u.Name == "" {
		return errors.New("member must have a name")
	}
	rec := memberRecord{
		Name:             u.Name,
		Roles:            u.Roles,
		Account:          u.Account,
		Affiliation:      u.Affiliation,
		Organization:     u.Organization,
		MSPID:            u.MSPID,
		EnrollmentSecret: u.EnrollmentSecret,
	}
	if u.IsEnrolled() {
		rec.Enrollment = &enrollmentRecord{
			KeySKI: hex.EncodeToString(u.Enrollment.Key.SKI()),
			Cert:   string(u.Enrollment.Cert),
		}
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrapf(err, "failed to encode member %s", u.Name)
	}

	key := memberKey(u.Name, u.Organization)
	if err := s.db.Put(key, value, true); err != nil {
		return err
	}
	if u.CryptoSuite() == nil {
		u.SetCryptoSuite(s.csp)
	}
	s.members[string(key)] = u
	logger.Debugf("Saved member %s of %s (enrolled: %t)", u.Name, u.Organization, u.IsEnrolled())
	return nil
}

func (s *Store) decode(value []byte) (*user.User, error) {
	rec := memberRecord{}
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, errors.Wrap(err, "malformed member record")
	}
	u := user.New(rec.Name, rec.Organization, s.csp)
	u.Roles = rec.Roles
	u.Account = rec.Account
	u.Affiliation = rec.Affiliation
	u.MSPID = rec.MSPID
	u.EnrollmentSecret = rec.EnrollmentSecret

	if rec.Enrollment != nil {
		ski, err := hex.DecodeString(rec.Enrollment.KeySKI)
		if err != nil {
			return nil, errors.Wrap(err, "malformed key identifier")
		}
		key, err := s.csp.GetKey(ski)
		if err != nil {
			return nil, errors.WithMessagef(err, "enrollment key %s of %s is not in the key store", rec.Enrollment.KeySKI, rec.Name)
		}
		u.Enrollment = &user.Enrollment{Key: key, Cert: []byte(rec.Enrollment.Cert)}
	}
	return u, nil
}
