/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package scenario drives the harness flow: set up the organization and its
// identities, then construct and initialize a channel on the network.
package scenario

import (
	"context"
	"time"

	"github.com/hyperledger/fabric-lib-go/bccsp"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/pkg/errors"
	"github.com/tebon/fabrictest/internal/config"
	"github.com/tebon/fabrictest/pkg/ca"
	"github.com/tebon/fabrictest/pkg/cryptoconfig"
	"github.com/tebon/fabrictest/pkg/fab"
	"github.com/tebon/fabrictest/pkg/org"
	"github.com/tebon/fabrictest/pkg/properties"
	"github.com/tebon/fabrictest/pkg/store"
)

var logger = flogging.MustGetLogger("scenario")

// SetupOrg builds the configured organization, enrolls its CA admin unless
// the stored admin is already enrolled, and loads the peer admin from the
// crypto material tree.
func SetupOrg(ctx context.Context, cfg *config.Config, csp bccsp.BCCSP, st *store.Store, opts ...ca.Option) (*org.Org, error) {
	o, err := cfg.BuildOrg()
	if err != nil {
		return nil, err
	}
	layout := cfg.Layout()
	if err := cryptoconfig.RequireFile(layout.CACertPath(o.DomainName)); err != nil {
		return nil, err
	}

	o.CAClient, err = ca.New(cfg.CA.Name, o.CALocation, o.CAProperties, csp, opts...)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create CA client for %s", o.Name)
	}
	info, err := o.CAClient.Info(ctx)
	if err != nil {
		return nil, err
	}
	logger.Infof("Connected to CA %s (version %s)", info.CAName, info.Version)

	admin, err := st.GetMember(cfg.CA.Admin, o.Name)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load %s from the store", cfg.CA.Admin)
	}
	if !admin.IsEnrolled() {
		enrollment, err := o.CAClient.Enroll(ctx, cfg.CA.Admin, cfg.CA.AdminSecret)
		if err != nil {
			return nil, err
		}
		admin.Enrollment = enrollment
		admin.MSPID = o.MSPID
		if err := st.Save(admin); err != nil {
			return nil, err
		}
		logger.Infof("Enrolled %s with CA %s", admin.Name, o.CAName)
	}
	o.Admin = admin

	keyFile, err := layout.AdminKeyPath(o.DomainName)
	if err != nil {
		return nil, err
	}
	peerAdmin, err := st.GetMemberFromFiles(PeerAdminName(o.Name), o.Name, o.MSPID, keyFile, layout.AdminCertPath(o.DomainName))
	if err != nil {
		return nil, err
	}
	o.PeerAdmin = peerAdmin
	return o, nil
}

// PeerAdminName is the store name of an organization's peer admin.
func PeerAdminName(orgName string) string {
	return orgName + "Admin"
}

// ChannelOptions controls how ConstructChannel builds a channel.
type ChannelOptions struct {
	Name string
	// PeerEventing gives every other peer the event source role.
	PeerEventing bool
	// TxFile, when set, is a channel creation transaction broadcast to the
	// first orderer before the peers join.
	TxFile string

	KeepAliveTime         time.Duration
	KeepAliveTimeout      time.Duration
	KeepAliveWithoutCalls bool
	MaxInboundMessageSize int

	Layout *cryptoconfig.Layout
}

// ChannelOptionsFromConfig returns the channel options of cfg.
func ChannelOptionsFromConfig(cfg *config.Config) ChannelOptions {
	return ChannelOptions{
		Name:                  cfg.Channel.Name,
		PeerEventing:          DoPeerEventing(cfg),
		TxFile:                cfg.Channel.TxFile,
		KeepAliveTime:         cfg.GRPC.KeepAliveTime,
		KeepAliveTimeout:      cfg.GRPC.KeepAliveTimeout,
		KeepAliveWithoutCalls: cfg.GRPC.KeepAliveWithoutCalls,
		MaxInboundMessageSize: int(cfg.GRPC.MaxInboundMessageSize),
		Layout:                cfg.Layout(),
	}
}

// DoPeerEventing reports whether peers should deliver block events.
// Networks older than Fabric 1.1 only have event hubs.
func DoPeerEventing(cfg *config.Config) bool {
	return cfg.Channel.PeerEventing && !cfg.RunningAgainstFabric10()
}

// ConstructChannel creates the channel's orderers, peers and event hubs as
// the organization's peer admin, joins the peers and initializes the
// channel.
func ConstructChannel(ctx context.Context, client *fab.Client, o *org.Org, opts ChannelOptions) (*fab.Channel, error) {
	if opts.Layout == nil {
		return nil, errors.New("crypto material layout is required")
	}
	if err := client.SetUserContext(o.PeerAdmin); err != nil {
		return nil, err
	}

	var orderers []*fab.Orderer
	for _, name := range o.OrdererNames() {
		props, err := opts.Layout.EndpointProperties(cryptoconfig.OrdererType, name)
		if err != nil {
			return nil, err
		}
		props.Set(properties.KeepAliveTime, opts.KeepAliveTime).
			Set(properties.KeepAliveTimeout, opts.KeepAliveTimeout).
			Set(properties.KeepAliveWithoutCalls, opts.KeepAliveWithoutCalls)
		location, _ := o.OrdererLocation(name)
		orderer, err := client.NewOrderer(name, location, props)
		if err != nil {
			return nil, err
		}
		orderers = append(orderers, orderer)
	}
	if len(orderers) == 0 {
		return nil, errors.Errorf("organization %s has no orderers", o.Name)
	}

	ch, err := newChannel(ctx, client, o, orderers, opts)
	if err != nil {
		return nil, err
	}

	everyOther := true
	for _, name := range o.PeerNames() {
		props, err := opts.Layout.EndpointProperties(cryptoconfig.PeerType, name)
		if err != nil {
			return nil, err
		}
		if opts.MaxInboundMessageSize > 0 {
			props.Set(properties.MaxInboundMessageSize, opts.MaxInboundMessageSize)
		}
		location, _ := o.PeerLocation(name)
		peer, err := client.NewPeer(name, location, props)
		if err != nil {
			return nil, err
		}

		roles := fab.NoEventSource()
		if opts.PeerEventing && everyOther {
			roles = fab.AllRoles()
		}
		if err := ch.JoinPeer(ctx, peer, fab.PeerOptions{Roles: roles}); err != nil {
			return nil, err
		}
		logger.Infof("Peer %s joined channel %s", name, opts.Name)
		everyOther = !everyOther
	}

	if opts.PeerEventing {
		if len(ch.Peers(fab.EventSource)) == 0 {
			return nil, errors.Errorf("channel %s has no event source peers", opts.Name)
		}
		if len(ch.Peers(fab.EndorsingPeer, fab.LedgerQuery, fab.ChaincodeQuery)) == 0 {
			return nil, errors.Errorf("channel %s has no peers without the event source role", opts.Name)
		}
	}

	for _, name := range o.EventHubNames() {
		props, err := opts.Layout.EndpointProperties(cryptoconfig.PeerType, name)
		if err != nil {
			return nil, err
		}
		props.Set(properties.KeepAliveTime, opts.KeepAliveTime).
			Set(properties.KeepAliveTimeout, opts.KeepAliveTimeout)
		location, _ := o.EventHubLocation(name)
		eh, err := client.NewEventHub(name, location, props)
		if err != nil {
			return nil, err
		}
		if err := ch.AddEventHub(eh); err != nil {
			return nil, err
		}
	}

	if err := ch.Initialize(ctx); err != nil {
		return nil, err
	}
	logger.Infof("Finished initialization of channel %s", opts.Name)
	return ch, nil
}

func newChannel(ctx context.Context, client *fab.Client, o *org.Org, orderers []*fab.Orderer, opts ChannelOptions) (*fab.Channel, error) {
	var (
		ch  *fab.Channel
		err error
	)
	rest := orderers
	if opts.TxFile != "" {
		cfg, err := fab.NewChannelConfigurationFromFile(opts.TxFile)
		if err != nil {
			return nil, err
		}
		sig, err := client.ChannelConfigurationSignature(cfg, o.PeerAdmin)
		if err != nil {
			return nil, err
		}
		ch, err = client.CreateChannel(ctx, opts.Name, orderers[0], cfg, sig)
		if err != nil {
			return nil, err
		}
		logger.Infof("Created channel %s", opts.Name)
		rest = orderers[1:]
	} else if ch, err = client.NewChannel(opts.Name); err != nil {
		return nil, err
	}

	for _, orderer := range rest {
		if err := ch.AddOrderer(orderer); err != nil {
			return nil, err
		}
	}
	return ch, nil
}
