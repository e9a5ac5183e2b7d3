/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package org describes one organization of the network: its MSP, the
// locations of its orderers, peers and event hubs, its CA and the members
// acting on its behalf.
package org

import (
	"github.com/pkg/errors"
	"github.com/tebon/fabrictest/pkg/ca"
	"github.com/tebon/fabrictest/pkg/properties"
	"github.com/tebon/fabrictest/pkg/user"
)

// Locations maps endpoint names to URLs and remembers insertion order.
type Locations struct {
	names []string
	urls  map[string]string
}

func (l *Locations) add(name, url string) {
	if l.urls == nil {
		l.urls = map[string]string{}
	}
	if _, ok := l.urls[name]; !ok {
		l.names = append(l.names, name)
	}
	l.urls[name] = url
}

// Names returns the endpoint names in insertion order.
func (l *Locations) Names() []string {
	return append([]string(nil), l.names...)
}

// Location returns the URL of name.
func (l *Locations) Location(name string) (string, bool) {
	url, ok := l.urls[name]
	return url, ok
}

// URLs returns the URLs in insertion order.
func (l *Locations) URLs() []string {
	urls := make([]string, 0, len(l.names))
	for _, n := range l.names {
		urls = append(urls, l.urls[n])
	}
	return urls
}

// Len returns the number of locations.
func (l *Locations) Len() int {
	return len(l.names)
}

// Org is an organization of the network.
type Org struct {
	Name         string
	MSPID        string
	DomainName   string
	CALocation   string
	CAName       string
	CAProperties properties.Properties

	CAClient  *ca.Client
	Admin     *user.User
	PeerAdmin *user.User
	users     map[string]*user.User
	userOrder []string

	orderers  Locations
	peers     Locations
	eventHubs Locations
}

// New returns an organization with the given name and MSP ID.
func New(name, mspID string) *Org {
	return &Org{Name: name, MSPID: mspID, users: map[string]*user.User{}}
}

// Validate checks the organization is complete enough to build a channel.
func (o *Org) Validate() error {
	switch {
	case o.Name == "":
		return errors.New("organization name is required")
	case o.MSPID == "":
		return errors.Errorf("organization %s has no MSP ID", o.Name)
	case o.DomainName == "":
		return errors.Errorf("organization %s has no domain name", o.Name)
	case o.orderers.Len() == 0:
		return errors.Errorf("organization %s has no orderer locations", o.Name)
	case o.peers.Len() == 0:
		return errors.Errorf("organization %s has no peer locations", o.Name)
	}
	return nil
}

// AddOrdererLocation records the URL of an orderer.
func (o *Org) AddOrdererLocation(name, url string) { o.orderers.add(name, url) }

// OrdererLocation returns the URL of an orderer.
func (o *Org) OrdererLocation(name string) (string, bool) { return o.orderers.Location(name) }

// OrdererNames returns the orderer names in insertion order.
func (o *Org) OrdererNames() []string { return o.orderers.Names() }

// OrdererLocations returns the orderer URLs in insertion order.
func (o *Org) OrdererLocations() []string { return o.orderers.URLs() }

// AddPeerLocation records the URL of a peer.
func (o *Org) AddPeerLocation(name, url string) { o.peers.add(name, url) }

// PeerLocation returns the URL of a peer.
func (o *Org) PeerLocation(name string) (string, bool) { return o.peers.Location(name) }

// PeerNames returns the peer names in insertion order.
func (o *Org) PeerNames() []string { return o.peers.Names() }

// PeerLocations returns the peer URLs in insertion order.
func (o *Org) PeerLocations() []string { return o.peers.URLs() }

// AddEventHubLocation records the URL of an event hub.
func (o *Org) AddEventHubLocation(name, url string) { o.eventHubs.add(name, url) }

// EventHubLocation returns the URL of an event hub.
func (o *Org) EventHubLocation(name string) (string, bool) { return o.eventHubs.Location(name) }

// EventHubNames returns the event hub names in insertion order.
func (o *Org) EventHubNames() []string { return o.eventHubs.Names() }

// EventHubLocations returns the event hub URLs in insertion order.
func (o *Org) EventHubLocations() []string { return o.eventHubs.URLs() }

// AddUser records an additional member of the organization.
func (o *Org) AddUser(u *user.User) {
	if o.users == nil {
		o.users = map[string]*user.User{}
	}
	if _, ok := o.users[u.Name]; !ok {
		o.userOrder = append(o.userOrder, u.Name)
	}
	o.users[u.Name] = u
}

// User returns a member recorded with AddUser.
func (o *Org) User(name string) *user.User {
	return o.users[name]
}

// Users returns the recorded members in insertion order.
func (o *Org) Users() []*user.User {
	users := make([]*user.User, 0, len(o.userOrder))
	for _, n := range o.userOrder {
		users = append(users, o.users[n])
	}
	return users
}
