/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-config/configtx"
	cb "github.com/hyperledger/fabric-protos-go/common"
	ab "github.com/hyperledger/fabric-protos-go/orderer"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	"github.com/tebon/fabrictest/pkg/user"
	"github.com/tebon/fabrictest/protoutil"
)

// maxSeenBlocks bounds the block numbers remembered for de-duplication.
const maxSeenBlocks = 1024

// BlockEvent is a block delivered by one of the channel's event sources.
type BlockEvent struct {
	ChannelID string
	Number    uint64
	Source    string
	Block     *pb.FilteredBlock
}

// TransactionIDs returns the IDs of the transactions in the block.
func (be *BlockEvent) TransactionIDs() []string {
	if be.Block == nil {
		return nil
	}
	var ids []string
	for _, tx := range be.Block.FilteredTransactions {
		ids = append(ids, tx.Txid)
	}
	return ids
}

// BlockListener is called once for every new block of a channel.
type BlockListener func(*BlockEvent)

// Channel groups the orderers, peers and event hubs serving one channel.
type Channel struct {
	name   string
	client *Client

	initMutex sync.Mutex
	inflight  sync.WaitGroup

	mutex       sync.RWMutex
	orderers    []*Orderer
	peers       []*Peer
	roles       map[*Peer]RoleSet
	eventHubs   []*EventHub
	peerHubs    map[*Peer]*EventHub
	initialized bool
	shutdown    bool

	mspIDs           []string
	ordererAddresses []string
	configBlock      uint64

	listeners   map[string]BlockListener
	listenerSeq int
	seen        map[uint64]struct{}
	seenOrder   []uint64
}

func newChannel(name string, client *Client) *Channel {
	return &Channel{
		name:      name,
		client:    client,
		roles:     map[*Peer]RoleSet{},
		peerHubs:  map[*Peer]*EventHub{},
		listeners: map[string]BlockListener{},
		seen:      map[uint64]struct{}{},
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

func (c *Channel) checkShutdownLocked() error {
	if c.shutdown {
		return errors.Errorf("channel %s has been shutdown", c.name)
	}
	return nil
}

// AddOrderer adds an orderer to the channel.
func (c *Channel) AddOrderer(o *Orderer) error {
	if o == nil {
		return errors.New("orderer is nil")
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.checkShutdownLocked(); err != nil {
		return err
	}
	for _, existing := range c.orderers {
		if existing.name == o.name {
			return errors.Errorf("orderer %s already added to channel %s", o.name, c.name)
		}
	}
	if err := o.bind(c.name); err != nil {
		return err
	}
	c.orderers = append(c.orderers, o)
	logger.Debugf("Added orderer %s to channel %s", o.name, c.name)
	return nil
}

// AddPeer adds a peer that has already joined the channel.
func (c *Channel) AddPeer(p *Peer, opts PeerOptions) error {
	if p == nil {
		return errors.New("peer is nil")
	}
	if len(opts.Roles) == 0 {
		return errors.Errorf("peer %s must have at least one role", p.name)
	}

	// Initialize connects the event sources present when it runs.
	c.initMutex.Lock()
	defer c.initMutex.Unlock()

	c.mutex.Lock()
	if err := c.checkShutdownLocked(); err != nil {
		c.mutex.Unlock()
		return err
	}
	for _, existing := range c.peers {
		if existing.name == p.name {
			c.mutex.Unlock()
			return errors.Errorf("peer %s already added to channel %s", p.name, c.name)
		}
	}
	if err := p.bind(c.name); err != nil {
		c.mutex.Unlock()
		return err
	}
	c.peers = append(c.peers, p)
	c.roles[p] = opts.Roles.Clone()
	initialized := c.initialized
	c.mutex.Unlock()

	logger.Debugf("Added peer %s to channel %s with roles %s", p.name, c.name, opts.Roles)
	if initialized && opts.Roles.Has(EventSource) {
		return c.connectPeerEvents(context.Background(), p)
	}
	return nil
}

// JoinPeer asks the peer to join the channel using the genesis block held
// by the channel's orderers, then adds it.
func (c *Channel) JoinPeer(ctx context.Context, p *Peer, opts PeerOptions) error {
	if p == nil {
		return errors.New("peer is nil")
	}
	if len(opts.Roles) == 0 {
		return errors.Errorf("peer %s must have at least one role", p.name)
	}
	c.mutex.RLock()
	err := c.checkShutdownLocked()
	c.mutex.RUnlock()
	if err != nil {
		return err
	}

	u, err := c.client.requireUserContext()
	if err != nil {
		return err
	}
	genesis, err := c.fetchBlock(ctx, u, protoutil.SeekSpecified(0))
	if err != nil {
		return errors.WithMessagef(err, "failed to fetch genesis block of channel %s", c.name)
	}
	creator, err := u.Serialize()
	if err != nil {
		return err
	}
	prop, _, err := protoutil.CreateSystemChaincodeProposal("", "cscc", creator, []byte("JoinChain"), protoutil.MarshalOrPanic(genesis))
	if err != nil {
		return errors.WithMessage(err, "failed to create join proposal")
	}
	signed, err := protoutil.GetSignedProposal(prop, u)
	if err != nil {
		return err
	}
	resp, err := p.ProcessProposal(ctx, signed)
	if err != nil {
		return errors.WithMessagef(err, "peer %s failed to join channel %s", p.name, c.name)
	}
	if resp.Response == nil || resp.Response.Status >= 400 {
		status, msg := int32(0), "no response"
		if resp.Response != nil {
			status, msg = resp.Response.Status, resp.Response.Message
		}
		return errors.Errorf("peer %s failed to join channel %s: status %d %s", p.name, c.name, status, msg)
	}
	logger.Infof("Peer %s joined channel %s", p.name, c.name)

	return c.AddPeer(p, opts)
}

// AddEventHub adds an event hub to the channel.
func (c *Channel) AddEventHub(eh *EventHub) error {
	if eh == nil {
		return errors.New("event hub is nil")
	}

	c.initMutex.Lock()
	defer c.initMutex.Unlock()

	c.mutex.Lock()
	if err := c.checkShutdownLocked(); err != nil {
		c.mutex.Unlock()
		return err
	}
	for _, existing := range c.eventHubs {
		if existing.name == eh.name {
			c.mutex.Unlock()
			return errors.Errorf("event hub %s already added to channel %s", eh.name, c.name)
		}
	}
	if err := eh.bind(c.name); err != nil {
		c.mutex.Unlock()
		return err
	}
	c.eventHubs = append(c.eventHubs, eh)
	initialized := c.initialized
	c.mutex.Unlock()

	logger.Debugf("Added event hub %s to channel %s", eh.name, c.name)
	if initialized {
		u, err := c.client.requireUserContext()
		if err != nil {
			return err
		}
		return eh.connect(context.Background(), c.name, u, c.handleBlock)
	}
	return nil
}

// Orderers returns the channel's orderers in the order they were added.
func (c *Channel) Orderers() []*Orderer {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return append([]*Orderer(nil), c.orderers...)
}

// Peers returns the peers having any of roles, in join order. Without roles
// every peer is returned.
func (c *Channel) Peers(roles ...PeerRole) []*Peer {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	var peers []*Peer
	for _, p := range c.peers {
		if len(roles) == 0 || c.roles[p].HasAny(roles...) {
			peers = append(peers, p)
		}
	}
	return peers
}

// PeerRoles returns the roles a peer was added with.
func (c *Channel) PeerRoles(p *Peer) RoleSet {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.roles[p].Clone()
}

// EventHubs returns the channel's event hubs.
func (c *Channel) EventHubs() []*EventHub {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return append([]*EventHub(nil), c.eventHubs...)
}

// Initialize reads the channel configuration from the orderers and starts
// the event sources. Calling it again is a no-op.
func (c *Channel) Initialize(ctx context.Context) error {
	c.initMutex.Lock()
	defer c.initMutex.Unlock()

	c.mutex.RLock()
	err := c.checkShutdownLocked()
	initialized := c.initialized
	peers, orderers := len(c.peers), len(c.orderers)
	c.mutex.RUnlock()
	if err != nil {
		return err
	}
	if initialized {
		return nil
	}

	u, err := c.client.requireUserContext()
	if err != nil {
		return err
	}
	if peers == 0 {
		return errors.Errorf("channel %s has no peers", c.name)
	}
	if orderers == 0 {
		return errors.Errorf("channel %s has no orderers", c.name)
	}

	configBlock, err := c.fetchConfigBlock(ctx, u)
	if err != nil {
		return err
	}
	config, err := protoutil.ConfigFromBlock(configBlock)
	if err != nil {
		return errors.WithMessagef(err, "failed to read configuration of channel %s", c.name)
	}
	mspIDs, addresses, err := parseChannelConfig(config)
	if err != nil {
		return errors.WithMessagef(err, "failed to parse configuration of channel %s", c.name)
	}

	c.mutex.Lock()
	c.mspIDs = mspIDs
	c.ordererAddresses = addresses
	c.configBlock = configBlock.Header.Number
	c.mutex.Unlock()

	if err := c.connectEventSources(ctx, u); err != nil {
		c.stopEventSources()
		return err
	}

	c.mutex.Lock()
	c.initialized = true
	c.mutex.Unlock()
	logger.Infof("Channel %s initialized from config block %d (organizations %v)", c.name, configBlock.Header.Number, mspIDs)
	return nil
}

func (c *Channel) fetchBlock(ctx context.Context, u *user.User, position *ab.SeekPosition) (*cb.Block, error) {
	var lastErr error
	for _, o := range c.Orderers() {
		block, err := o.FetchBlock(ctx, c.name, u, position)
		if err == nil {
			return block, nil
		}
		logger.Warningf("Failed to fetch block from orderer %s: %s", o.name, err)
		lastErr = err
	}
	if lastErr == nil {
		return nil, errors.Errorf("channel %s has no orderers", c.name)
	}
	return nil, lastErr
}

func (c *Channel) fetchConfigBlock(ctx context.Context, u *user.User) (*cb.Block, error) {
	newest, err := c.fetchBlock(ctx, u, protoutil.SeekNewest())
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to fetch newest block of channel %s", c.name)
	}
	index, err := protoutil.GetLastConfigIndexFromBlock(newest)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to find last config block of channel %s", c.name)
	}
	if index == newest.Header.Number {
		return newest, nil
	}
	block, err := c.fetchBlock(ctx, u, protoutil.SeekSpecified(index))
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to fetch config block %d of channel %s", index, c.name)
	}
	return block, nil
}

// parseChannelConfig returns the MSP IDs of the application organizations
// and the orderer endpoints named by the configuration.
func parseChannelConfig(config *cb.Config) ([]string, []string, error) {
	if config.ChannelGroup == nil {
		return nil, nil, errors.New("config has no channel group")
	}

	var mspIDs []string
	if appGroup, ok := config.ChannelGroup.Groups[configtx.ApplicationGroupKey]; ok {
		var names []string
		for name := range appGroup.Groups {
			names = append(names, name)
		}
		sort.Strings(names)

		ctx := configtx.New(config)
		app := ctx.Application()
		for _, name := range names {
			org := app.Organization(name)
			if org == nil {
				continue
			}
			msp, err := org.MSP().Configuration()
			if err != nil {
				return nil, nil, errors.WithMessagef(err, "failed to read MSP of organization %s", name)
			}
			mspIDs = append(mspIDs, msp.Name)
		}
	}

	var addresses []string
	seen := map[string]bool{}
	add := func(values map[string]*cb.ConfigValue, key string) error {
		v, ok := values[key]
		if !ok {
			return nil
		}
		oa := &cb.OrdererAddresses{}
		if err := proto.Unmarshal(v.Value, oa); err != nil {
			return errors.Wrapf(err, "failed to unmarshal %s", key)
		}
		for _, a := range oa.Addresses {
			if !seen[a] {
				seen[a] = true
				addresses = append(addresses, a)
			}
		}
		return nil
	}
	if err := add(config.ChannelGroup.Values, configtx.OrdererAddressesKey); err != nil {
		return nil, nil, err
	}
	if ordererGroup, ok := config.ChannelGroup.Groups[configtx.OrdererGroupKey]; ok {
		var names []string
		for name := range ordererGroup.Groups {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := add(ordererGroup.Groups[name].Values, configtx.EndpointsKey); err != nil {
				return nil, nil, err
			}
		}
	}

	return mspIDs, addresses, nil
}

func (c *Channel) connectEventSources(ctx context.Context, u *user.User) error {
	for _, eh := range c.EventHubs() {
		if err := eh.connect(ctx, c.name, u, c.handleBlock); err != nil {
			return errors.WithMessagef(err, "failed to connect event hub %s", eh.name)
		}
	}
	for _, p := range c.Peers(EventSource) {
		if err := c.connectPeerEventsAs(ctx, p, u); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) connectPeerEvents(ctx context.Context, p *Peer) error {
	u, err := c.client.requireUserContext()
	if err != nil {
		return err
	}
	return c.connectPeerEventsAs(ctx, p, u)
}

func (c *Channel) connectPeerEventsAs(ctx context.Context, p *Peer, u *user.User) error {
	c.mutex.Lock()
	hub, ok := c.peerHubs[p]
	if !ok {
		hub = newEventHub(p.endpoint, c.client.clock, c.client.metrics)
		c.peerHubs[p] = hub
	}
	c.mutex.Unlock()

	if err := hub.connect(ctx, c.name, u, c.handleBlock); err != nil {
		return errors.WithMessagef(err, "failed to connect event source peer %s", p.name)
	}
	return nil
}

func (c *Channel) stopEventSources() {
	c.mutex.RLock()
	hubs := append([]*EventHub(nil), c.eventHubs...)
	for _, hub := range c.peerHubs {
		hubs = append(hubs, hub)
	}
	c.mutex.RUnlock()

	for _, hub := range hubs {
		hub.stop()
	}
}

// handleBlock forwards a block to the listeners unless another event source
// already delivered it.
func (c *Channel) handleBlock(source string, block *pb.FilteredBlock) {
	c.mutex.Lock()
	if _, dup := c.seen[block.Number]; dup {
		c.mutex.Unlock()
		return
	}
	c.seen[block.Number] = struct{}{}
	c.seenOrder = append(c.seenOrder, block.Number)
	if len(c.seenOrder) > maxSeenBlocks {
		delete(c.seen, c.seenOrder[0])
		c.seenOrder = c.seenOrder[1:]
	}
	listeners := make([]BlockListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mutex.Unlock()

	event := &BlockEvent{
		ChannelID: c.name,
		Number:    block.Number,
		Source:    source,
		Block:     block,
	}
	for _, l := range listeners {
		l(event)
	}
}

// RegisterBlockListener adds a listener and returns its handle.
func (c *Channel) RegisterBlockListener(l BlockListener) (string, error) {
	if l == nil {
		return "", errors.New("block listener is nil")
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.checkShutdownLocked(); err != nil {
		return "", err
	}
	c.listenerSeq++
	handle := fmt.Sprintf("BLOCK_LISTENER_HANDLE%d", c.listenerSeq)
	c.listeners[handle] = l
	return handle, nil
}

// UnregisterBlockListener removes a listener. It reports whether the handle
// was registered.
func (c *Channel) UnregisterBlockListener(handle string) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.checkShutdownLocked(); err != nil {
		return false, err
	}
	if _, ok := c.listeners[handle]; !ok {
		return false, nil
	}
	delete(c.listeners, handle)
	return true, nil
}

// SendTransactionProposal sends the proposal to every peer concurrently and
// returns one response per peer, in the order given.
func (c *Channel) SendTransactionProposal(ctx context.Context, req *TransactionProposalRequest, peers []*Peer) ([]*ProposalResponse, error) {
	c.mutex.RLock()
	if err := c.checkShutdownLocked(); err != nil {
		c.mutex.RUnlock()
		return nil, err
	}
	if !c.initialized {
		c.mutex.RUnlock()
		return nil, errors.Errorf("channel %s has not been initialized", c.name)
	}
	c.inflight.Add(1)
	c.mutex.RUnlock()
	defer c.inflight.Done()

	if err := req.validate(); err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		return nil, errors.New("no peers to send the proposal to")
	}
	u, err := c.client.requireUserContext()
	if err != nil {
		return nil, err
	}
	creator, err := u.Serialize()
	if err != nil {
		return nil, err
	}
	prop, txID, err := protoutil.CreateChaincodeProposalWithTransient(cb.HeaderType_ENDORSER_TRANSACTION, c.name, req.invocationSpec(), creator, req.TransientMap)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create proposal")
	}
	signed, err := protoutil.GetSignedProposal(prop, u)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to sign proposal")
	}

	ctx, cancel := context.WithTimeout(ctx, req.waitTime())
	defer cancel()

	responses := make([]*ProposalResponse, len(peers))
	var wg sync.WaitGroup
	for i, p := range peers {
		wg.Add(1)
		go func(i int, p *Peer) {
			defer wg.Done()
			responses[i] = c.sendProposal(ctx, p, txID, signed)
		}(i, p)
	}
	wg.Wait()

	logger.Debugf("Proposal %s sent to %d peers on channel %s", txID, len(peers), c.name)
	return responses, nil
}

func (c *Channel) sendProposal(ctx context.Context, p *Peer, txID string, signed *pb.SignedProposal) *ProposalResponse {
	start := time.Now()
	resp, err := p.ProcessProposal(ctx, signed)
	c.client.metrics.ProposalDuration.With("channel", c.name, "peer", p.name).Observe(time.Since(start).Seconds())

	pr := &ProposalResponse{Peer: p, TxID: txID, Response: resp, Err: err}
	switch {
	case err != nil:
		pr.Status = ResponseFailure
		pr.Message = err.Error()
	case resp.Response == nil:
		pr.Status = ResponseFailure
		pr.Message = "peer returned no response"
	case resp.Response.Status >= 400:
		pr.Status = ResponseFailure
		pr.Message = resp.Response.Message
	default:
		pr.Status = ResponseSuccess
		pr.Message = resp.Response.Message
	}
	c.client.metrics.ProposalsSent.With("channel", c.name, "peer", p.name, "status", pr.Status.String()).Add(1)
	return pr
}

// QueryBlockchainInfo asks the ledger query peers for the channel height
// and current block hash, returning the first successful answer.
func (c *Channel) QueryBlockchainInfo(ctx context.Context) (*cb.BlockchainInfo, error) {
	c.mutex.RLock()
	err := c.checkShutdownLocked()
	c.mutex.RUnlock()
	if err != nil {
		return nil, err
	}
	peers := c.Peers(LedgerQuery)
	if len(peers) == 0 {
		return nil, errors.Errorf("channel %s has no ledger query peers", c.name)
	}

	u, err := c.client.requireUserContext()
	if err != nil {
		return nil, err
	}
	creator, err := u.Serialize()
	if err != nil {
		return nil, err
	}
	prop, _, err := protoutil.CreateSystemChaincodeProposal(c.name, "qscc", creator, []byte("GetChainInfo"), []byte(c.name))
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create query proposal")
	}
	signed, err := protoutil.GetSignedProposal(prop, u)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, p := range peers {
		resp, err := p.ProcessProposal(ctx, signed)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Response == nil || resp.Response.Status >= 400 {
			lastErr = errors.Errorf("peer %s answered GetChainInfo with %v", p.name, resp.Response)
			continue
		}
		info := &cb.BlockchainInfo{}
		if err := proto.Unmarshal(resp.Response.Payload, info); err != nil {
			lastErr = errors.Wrapf(err, "peer %s returned an invalid BlockchainInfo", p.name)
			continue
		}
		return info, nil
	}
	return nil, errors.WithMessagef(lastErr, "failed to query blockchain info of channel %s", c.name)
}

// MSPIDs returns the MSP IDs of the channel's application organizations.
func (c *Channel) MSPIDs() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return append([]string(nil), c.mspIDs...)
}

// OrdererAddresses returns the orderer endpoints named by the channel
// configuration.
func (c *Channel) OrdererAddresses() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return append([]string(nil), c.ordererAddresses...)
}

// ConfigBlockNumber returns the number of the block the configuration was
// read from.
func (c *Channel) ConfigBlockNumber() uint64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.configBlock
}

// IsInitialized reports whether Initialize completed.
func (c *Channel) IsInitialized() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.initialized
}

// IsShutdown reports whether Shutdown was called.
func (c *Channel) IsShutdown() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.shutdown
}

// EventSourcesConnected reports whether every started event source has a
// live stream. Once the channel is initialized every event hub and every
// EventSource peer counts as started.
func (c *Channel) EventSourcesConnected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if c.initialized {
		for _, p := range c.peers {
			if _, ok := c.peerHubs[p]; !ok && c.roles[p].Has(EventSource) {
				return false
			}
		}
	}
	for _, eh := range c.eventHubs {
		if !eh.Connected() {
			return false
		}
	}
	for _, hub := range c.peerHubs {
		if !hub.Connected() {
			return false
		}
	}
	return true
}

// Shutdown stops the event sources and closes every connection. Unless
// force is set it first waits for proposals in flight.
func (c *Channel) Shutdown(force bool) {
	c.mutex.Lock()
	if c.shutdown {
		c.mutex.Unlock()
		return
	}
	c.shutdown = true
	c.listeners = map[string]BlockListener{}
	c.mutex.Unlock()

	if !force {
		c.inflight.Wait()
	}
	c.stopEventSources()

	c.mutex.RLock()
	var endpoints []*endpoint
	for _, o := range c.orderers {
		endpoints = append(endpoints, o.endpoint)
	}
	for _, p := range c.peers {
		endpoints = append(endpoints, p.endpoint)
	}
	for _, eh := range c.eventHubs {
		endpoints = append(endpoints, eh.endpoint)
	}
	c.mutex.RUnlock()

	for _, ep := range endpoints {
		if err := ep.close(); err != nil {
			logger.Debugf("Closing %s %s failed: %s", ep.kind, ep.name, err)
		}
		ep.unbind()
	}
	c.client.removeChannel(c.name)
	logger.Infof("Channel %s shut down", c.name)
}
