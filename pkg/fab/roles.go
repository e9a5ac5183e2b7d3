/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

import (
	"sort"
	"strings"
)

// PeerRole is a duty a peer performs for a channel.
type PeerRole string

const (
	// EndorsingPeer receives transaction proposals.
	EndorsingPeer PeerRole = "endorsingPeer"
	// ChaincodeQuery answers chaincode queries.
	ChaincodeQuery PeerRole = "chaincodeQuery"
	// LedgerQuery answers ledger queries (qscc).
	LedgerQuery PeerRole = "ledgerQuery"
	// EventSource delivers block events.
	EventSource PeerRole = "eventSource"
)

// RoleSet is a set of peer roles.
type RoleSet map[PeerRole]struct{}

// NewRoleSet returns a set holding roles.
func NewRoleSet(roles ...PeerRole) RoleSet {
	rs := RoleSet{}
	for _, r := range roles {
		rs[r] = struct{}{}
	}
	return rs
}

// AllRoles returns every peer role.
func AllRoles() RoleSet {
	return NewRoleSet(EndorsingPeer, ChaincodeQuery, LedgerQuery, EventSource)
}

// NoEventSource returns every peer role except EventSource.
func NoEventSource() RoleSet {
	return NewRoleSet(EndorsingPeer, ChaincodeQuery, LedgerQuery)
}

// Has reports whether r is in the set.
func (rs RoleSet) Has(r PeerRole) bool {
	_, ok := rs[r]
	return ok
}

// HasAny reports whether any of roles is in the set.
func (rs RoleSet) HasAny(roles ...PeerRole) bool {
	for _, r := range roles {
		if rs.Has(r) {
			return true
		}
	}
	return false
}

// Clone copies the set.
func (rs RoleSet) Clone() RoleSet {
	c := make(RoleSet, len(rs))
	for r := range rs {
		c[r] = struct{}{}
	}
	return c
}

func (rs RoleSet) String() string {
	names := make([]string, 0, len(rs))
	for r := range rs {
		names = append(names, string(r))
	}
	sort.Strings(names)
	return "[" + strings.Join(names, ", ") + "]"
}

// PeerOptions describe how a peer participates in a channel.
type PeerOptions struct {
	Roles RoleSet
}

// DefaultPeerOptions gives a peer every role.
func DefaultPeerOptions() PeerOptions {
	return PeerOptions{Roles: AllRoles()}
}
