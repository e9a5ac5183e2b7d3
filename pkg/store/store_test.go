/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tebon/fabrictest/internal/cryptogen"
	"github.com/tebon/fabrictest/pkg/cryptosuite"
	"github.com/tebon/fabrictest/pkg/store"
	"github.com/tebon/fabrictest/pkg/user"
)

func TestGetMemberCreatesUnenrolledMember(t *testing.T) {
	s, err := store.New(t.TempDir(), nil)
	require.NoError(t, err)
	defer s.Close()

	require.False(t, s.HasMember("admin", "tebon"))
	admin, err := s.GetMember("admin", "tebon")
	require.NoError(t, err)
	require.Equal(t, "admin", admin.Name)
	require.Equal(t, "tebon", admin.Organization)
	require.False(t, admin.IsEnrolled())
	require.True(t, s.HasMember("admin", "tebon"))

	again, err := s.GetMember("admin", "tebon")
	require.NoError(t, err)
	require.Same(t, admin, again)
}

func TestEnrollmentSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	s, err := store.New(dir, nil)
	require.NoError(t, err)

	admin, err := s.GetMember("admin", "tebon")
	require.NoError(t, err)

	key, err := cryptosuite.GenerateKey(s.CryptoSuite(), false)
	require.NoError(t, err)
	ca, err := cryptogen.NewCA("", "tebon.com", "ca.tebon.com")
	require.NoError(t, err)
	admin.MSPID = "Tebon"
	admin.Enrollment = &user.Enrollment{Key: key, Cert: ca.CertBytes()}
	require.NoError(t, s.Save(admin))
	s.Close()

	reopened, err := store.New(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.GetMember("admin", "tebon")
	require.NoError(t, err)
	require.True(t, loaded.IsEnrolled())
	require.Equal(t, "Tebon", loaded.MSPID)
	require.Equal(t, key.SKI(), loaded.Enrollment.Key.SKI())
	require.Equal(t, ca.CertBytes(), loaded.Enrollment.Cert)

	_, err = loaded.Sign([]byte("message"))
	require.NoError(t, err)

	members, err := reopened.Members()
	require.NoError(t, err)
	require.Len(t, members, 1)
}

func TestGetMemberFromFiles(t *testing.T) {
	root := t.TempDir()
	_, err := cryptogen.GenerateOrg(root, cryptogen.OrgSpec{Domain: "tebon.com", Type: cryptogen.PeerNode, Nodes: []string{"peer0"}})
	require.NoError(t, err)

	userDir := filepath.Join(root, "peerOrganizations", "tebon.com", "users", "Admin@tebon.com", "msp")
	keyFile := filepath.Join(userDir, "keystore", cryptogen.PrivateKeyFile)
	certFile := filepath.Join(userDir, "signcerts", "Admin@tebon.com-cert.pem")

	s, err := store.New(filepath.Join(root, "store"), nil)
	require.NoError(t, err)
	defer s.Close()

	peerAdmin, err := s.GetMemberFromFiles("tebonAdmin", "tebon", "Tebon", keyFile, certFile)
	require.NoError(t, err)
	require.True(t, peerAdmin.IsEnrolled())
	require.NoError(t, peerAdmin.Validate())

	// the stored member wins over the files
	again, err := s.GetMemberFromFiles("tebonAdmin", "tebon", "Other", "/missing", "/missing")
	require.NoError(t, err)
	require.Equal(t, "Tebon", again.MSPID)

	_, err = s.GetMemberFromFiles("other", "tebon", "Tebon", "/missing.key", certFile)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read private key for other")
}

func TestSaveRequiresName(t *testing.T) {
	s, err := store.New(t.TempDir(), nil)
	require.NoError(t, err)
	defer s.Close()

	require.EqualError(t, s.Save(&user.User{}), "member must have a name")
}

func TestDefaultPath(t *testing.T) {
	require.Equal(t, store.DefaultDirName, filepath.Base(store.DefaultPath()))
}
