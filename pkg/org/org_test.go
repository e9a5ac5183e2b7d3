/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package org_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tebon/fabrictest/pkg/org"
	"github.com/tebon/fabrictest/pkg/user"
)

func TestLocationsKeepInsertionOrder(t *testing.T) {
	o := org.New("tebon", "Tebon")
	o.AddPeerLocation("peer1.tebon.com", "grpcs://99.13.43.6:8051")
	o.AddPeerLocation("peer0.tebon.com", "grpcs://99.13.43.6:7051")
	o.AddPeerLocation("peer1.tebon.com", "grpcs://99.13.43.7:8051")

	require.Equal(t, []string{"peer1.tebon.com", "peer0.tebon.com"}, o.PeerNames())
	require.Equal(t, []string{"grpcs://99.13.43.7:8051", "grpcs://99.13.43.6:7051"}, o.PeerLocations())

	url, ok := o.PeerLocation("peer0.tebon.com")
	require.True(t, ok)
	require.Equal(t, "grpcs://99.13.43.6:7051", url)
	_, ok = o.PeerLocation("peer9.tebon.com")
	require.False(t, ok)

	o.AddOrdererLocation("orderer.tebon.com", "grpcs://99.13.43.6:7050")
	require.Equal(t, []string{"orderer.tebon.com"}, o.OrdererNames())
	require.Equal(t, []string{"grpcs://99.13.43.6:7050"}, o.OrdererLocations())
	url, ok = o.OrdererLocation("orderer.tebon.com")
	require.True(t, ok)
	require.Equal(t, "grpcs://99.13.43.6:7050", url)

	o.AddEventHubLocation("peer0.tebon.com", "grpcs://99.13.43.6:7053")
	require.Equal(t, []string{"peer0.tebon.com"}, o.EventHubNames())
	require.Equal(t, []string{"grpcs://99.13.43.6:7053"}, o.EventHubLocations())
	_, ok = o.EventHubLocation("peer0.tebon.com")
	require.True(t, ok)
}

func TestValidate(t *testing.T) {
	o := org.New("", "Tebon")
	require.EqualError(t, o.Validate(), "organization name is required")

	o = org.New("tebon", "")
	require.EqualError(t, o.Validate(), "organization tebon has no MSP ID")

	o = org.New("tebon", "Tebon")
	require.EqualError(t, o.Validate(), "organization tebon has no domain name")
	o.DomainName = "tebon.com"
	require.EqualError(t, o.Validate(), "organization tebon has no orderer locations")
	o.AddOrdererLocation("orderer.tebon.com", "grpcs://99.13.43.6:7050")
	require.EqualError(t, o.Validate(), "organization tebon has no peer locations")
	o.AddPeerLocation("peer0.tebon.com", "grpcs://99.13.43.6:7051")
	require.NoError(t, o.Validate())
}

func TestUsers(t *testing.T) {
	o := org.New("tebon", "Tebon")
	require.Nil(t, o.User("user1"))

	u1 := user.New("user1", "tebon", nil)
	u2 := user.New("user2", "tebon", nil)
	o.AddUser(u1)
	o.AddUser(u2)
	o.AddUser(u1)

	require.Same(t, u1, o.User("user1"))
	require.Equal(t, []*user.User{u1, u2}, o.Users())
}
