/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package testnet is an in-process Fabric network double: one gRPC server
// acting as both peer and orderer for any number of channels.
package testnet

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	cb "github.com/hyperledger/fabric-protos-go/common"
	ab "github.com/hyperledger/fabric-protos-go/orderer"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	"github.com/tebon/fabrictest/protoutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
)

var logger = flogging.MustGetLogger("testnet")

// ChaincodeHandler answers invocations of user chaincodes in place of the
// configured chaincode.
type ChaincodeHandler func(channelID, chaincode string, args [][]byte) *pb.Response

// Invocation records one user chaincode proposal.
type Invocation struct {
	ChannelID string
	TxID      string
	Chaincode string
	Args      [][]byte
	Transient map[string][]byte
}

// Config describes the network double.
type Config struct {
	// Orgs are the application organizations of every channel created.
	Orgs []Org
	// OrdererAddresses are written into channel configurations.
	OrdererAddresses []string
	// TLS, when set, makes the server require TLS.
	TLS *tls.Config
	// Chaincode runs every user chaincode proposal. Defaults to AssetTransfer.
	Chaincode shim.Chaincode
	// ChaincodeInitArgs initialize each chaincode per channel on first use.
	// Defaults to DefaultInitArgs.
	ChaincodeInitArgs []string
}

// Network serves the Endorser, Deliver and AtomicBroadcast services.
type Network struct {
	config   Config
	listener net.Listener
	server   *grpc.Server

	mutex       sync.Mutex
	ledgers     map[string]*ledger
	joined      map[string]bool
	handler     ChaincodeHandler
	invocations []Invocation
	broadcasts  []*cb.Envelope
	seeks       []*ab.SeekInfo
	drop        chan struct{}

	ccMutex sync.Mutex
	stubs   map[string]*shimtest.MockStub
}

// New listens on a loopback port. Call Start to serve.
func New(config Config) (*Network, error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.Wrap(err, "failed to listen")
	}

	var opts []grpc.ServerOption
	if config.TLS != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(config.TLS)))
	}

	n := &Network{
		config:   config,
		listener: lis,
		server:   grpc.NewServer(opts...),
		ledgers:  map[string]*ledger{},
		joined:   map[string]bool{},
		drop:     make(chan struct{}),
		stubs:    map[string]*shimtest.MockStub{},
	}
	if n.config.Chaincode == nil {
		n.config.Chaincode = AssetTransfer{}
	}
	if n.config.ChaincodeInitArgs == nil {
		n.config.ChaincodeInitArgs = DefaultInitArgs
	}
	if len(n.config.OrdererAddresses) == 0 {
		n.config.OrdererAddresses = []string{lis.Addr().String()}
	}
	pb.RegisterEndorserServer(n.server, &endorser{network: n})
	pb.RegisterDeliverServer(n.server, &peerDeliver{network: n})
	ab.RegisterAtomicBroadcastServer(n.server, &broadcaster{network: n})
	return n, nil
}

// Start serves in the background.
func (n *Network) Start() {
	go func() {
		if err := n.server.Serve(n.listener); err != nil {
			logger.Debugf("Test network stopped serving: %s", err)
		}
	}()
}

// Stop closes every stream and the listener.
func (n *Network) Stop() {
	n.server.Stop()
}

// Address returns the host:port the network listens on.
func (n *Network) Address() string {
	return n.listener.Addr().String()
}

// URL returns the endpoint URL of the network.
func (n *Network) URL() string {
	if n.config.TLS != nil {
		return "grpcs://" + n.Address()
	}
	return "grpc://" + n.Address()
}

// SetChaincodeHandler answers user chaincode proposals with h instead of the
// configured chaincode. A nil handler restores the chaincode.
func (n *Network) SetChaincodeHandler(h ChaincodeHandler) {
	n.mutex.Lock()
	n.handler = h
	n.mutex.Unlock()
}

// CreateChannel creates the ledger of channelID and returns its genesis
// block.
func (n *Network) CreateChannel(channelID string) *cb.Block {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.createChannelLocked(channelID)
}

func (n *Network) createChannelLocked(channelID string) *cb.Block {
	genesis := ConfigBlock(channelID, n.config.Orgs, n.config.OrdererAddresses)
	n.ledgers[channelID] = newLedger(genesis)
	return genesis
}

// Join marks the peer as having joined channelID.
func (n *Network) Join(channelID string) {
	n.mutex.Lock()
	n.joined[channelID] = true
	n.mutex.Unlock()
}

// Joined reports whether the peer joined channelID.
func (n *Network) Joined(channelID string) bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.joined[channelID]
}

func (n *Network) ledger(channelID string) *ledger {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.ledgers[channelID]
}

// Height returns the number of blocks of channelID.
func (n *Network) Height(channelID string) uint64 {
	l := n.ledger(channelID)
	if l == nil {
		return 0
	}
	return l.height()
}

// CommitBlock appends a block holding one transaction per txID.
func (n *Network) CommitBlock(channelID string, txIDs ...string) (*cb.Block, error) {
	l := n.ledger(channelID)
	if l == nil {
		return nil, errors.Errorf("channel %s does not exist", channelID)
	}
	var envelopes []*cb.Envelope
	for _, txID := range txIDs {
		chdr := protoutil.MakeChannelHeader(cb.HeaderType_ENDORSER_TRANSACTION, 0, channelID, 0)
		chdr.TxId = txID
		envelopes = append(envelopes, &cb.Envelope{
			Payload: protoutil.MarshalOrPanic(&cb.Payload{
				Header: protoutil.MakePayloadHeader(chdr, &cb.SignatureHeader{}),
			}),
		})
	}
	return l.append(envelopes, false), nil
}

// CommitConfigBlock appends a config block carrying the network's
// configuration.
func (n *Network) CommitConfigBlock(channelID string) (*cb.Block, error) {
	l := n.ledger(channelID)
	if l == nil {
		return nil, errors.Errorf("channel %s does not exist", channelID)
	}
	env, err := protoutil.CreateSignedEnvelope(cb.HeaderType_CONFIG, channelID, nil,
		&cb.ConfigEnvelope{Config: channelConfig(n.config.Orgs, n.config.OrdererAddresses)}, 0, 0)
	if err != nil {
		return nil, err
	}
	return l.append([]*cb.Envelope{env}, true), nil
}

// DropStreams ends every open deliver stream with an error.
func (n *Network) DropStreams() {
	n.mutex.Lock()
	close(n.drop)
	n.drop = make(chan struct{})
	n.mutex.Unlock()
}

// Invocations returns the user chaincode proposals received.
func (n *Network) Invocations() []Invocation {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return append([]Invocation(nil), n.invocations...)
}

// Broadcasts returns the envelopes received by the orderer.
func (n *Network) Broadcasts() []*cb.Envelope {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return append([]*cb.Envelope(nil), n.broadcasts...)
}

// FilteredSeeks returns the seek requests received on filtered deliver
// streams.
func (n *Network) FilteredSeeks() []*ab.SeekInfo {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return append([]*ab.SeekInfo(nil), n.seeks...)
}

type seekRequest struct {
	channelID string
	info      *ab.SeekInfo
}

func parseSeek(env *cb.Envelope) (*seekRequest, error) {
	payload, err := protoutil.UnmarshalPayload(env.Payload)
	if err != nil {
		return nil, err
	}
	if payload.Header == nil {
		return nil, errors.New("payload header is missing")
	}
	chdr, err := protoutil.UnmarshalChannelHeader(payload.Header.ChannelHeader)
	if err != nil {
		return nil, err
	}
	info := &ab.SeekInfo{}
	if err := proto.Unmarshal(payload.Data, info); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal seek info")
	}
	return &seekRequest{channelID: chdr.ChannelId, info: info}, nil
}

func position(pos *ab.SeekPosition, l *ledger) uint64 {
	switch t := pos.GetType().(type) {
	case *ab.SeekPosition_Oldest:
		return 0
	case *ab.SeekPosition_Specified:
		return t.Specified.Number
	default:
		return l.height() - 1
	}
}

// deliver sends the requested blocks, waiting for new ones when the seek
// asks to block until ready.
func (n *Network) deliver(ctx context.Context, req *seekRequest, l *ledger, send func(*cb.Block) error) (cb.Status, error) {
	n.mutex.Lock()
	drop := n.drop
	n.mutex.Unlock()

	start, stop := position(req.info.Start, l), position(req.info.Stop, l)
	if start > stop {
		return cb.Status_BAD_REQUEST, nil
	}
	for num := start; num <= stop; num++ {
		for {
			block, wait := l.block(num)
			if block != nil {
				if err := send(block); err != nil {
					return 0, err
				}
				break
			}
			if req.info.Behavior == ab.SeekInfo_FAIL_IF_NOT_READY {
				return cb.Status_NOT_FOUND, nil
			}
			select {
			case <-wait:
			case <-drop:
				return 0, status.Error(codes.Unavailable, "stream dropped")
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		if num == stop {
			break
		}
	}
	return cb.Status_SUCCESS, nil
}

type broadcaster struct {
	network *Network
}

func (b *broadcaster) Broadcast(srv ab.AtomicBroadcast_BroadcastServer) error {
	for {
		env, err := srv.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		st, info := b.network.broadcast(env)
		if err := srv.Send(&ab.BroadcastResponse{Status: st, Info: info}); err != nil {
			return err
		}
	}
}

func (n *Network) broadcast(env *cb.Envelope) (cb.Status, string) {
	chdr, err := protoutil.ChannelHeader(env)
	if err != nil {
		return cb.Status_BAD_REQUEST, err.Error()
	}

	n.mutex.Lock()
	n.broadcasts = append(n.broadcasts, env)
	l, exists := n.ledgers[chdr.ChannelId]
	if chdr.Type == int32(cb.HeaderType_CONFIG_UPDATE) {
		defer n.mutex.Unlock()
		if exists {
			return cb.Status_BAD_REQUEST, "channel " + chdr.ChannelId + " already exists"
		}
		n.createChannelLocked(chdr.ChannelId)
		logger.Debugf("Created channel %s", chdr.ChannelId)
		return cb.Status_SUCCESS, ""
	}
	n.mutex.Unlock()

	if !exists {
		return cb.Status_NOT_FOUND, "channel " + chdr.ChannelId + " does not exist"
	}
	l.append([]*cb.Envelope{env}, false)
	return cb.Status_SUCCESS, ""
}

func (b *broadcaster) Deliver(srv ab.AtomicBroadcast_DeliverServer) error {
	for {
		env, err := srv.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		req, err := parseSeek(env)
		if err != nil {
			if err := srv.Send(statusResponse(cb.Status_BAD_REQUEST)); err != nil {
				return err
			}
			continue
		}
		l := b.network.ledger(req.channelID)
		if l == nil {
			if err := srv.Send(statusResponse(cb.Status_NOT_FOUND)); err != nil {
				return err
			}
			continue
		}
		st, err := b.network.deliver(srv.Context(), req, l, func(block *cb.Block) error {
			return srv.Send(&ab.DeliverResponse{Type: &ab.DeliverResponse_Block{Block: block}})
		})
		if err != nil {
			return err
		}
		if err := srv.Send(statusResponse(st)); err != nil {
			return err
		}
	}
}

func statusResponse(st cb.Status) *ab.DeliverResponse {
	return &ab.DeliverResponse{Type: &ab.DeliverResponse_Status{Status: st}}
}

type peerDeliver struct {
	network *Network
}

func (d *peerDeliver) Deliver(srv pb.Deliver_DeliverServer) error {
	return status.Error(codes.Unimplemented, "only filtered blocks are served")
}

func (d *peerDeliver) DeliverWithPrivateData(srv pb.Deliver_DeliverWithPrivateDataServer) error {
	return status.Error(codes.Unimplemented, "only filtered blocks are served")
}

func (d *peerDeliver) DeliverFiltered(srv pb.Deliver_DeliverFilteredServer) error {
	n := d.network
	for {
		env, err := srv.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		req, err := parseSeek(env)
		if err != nil {
			if err := srv.Send(peerStatus(cb.Status_BAD_REQUEST)); err != nil {
				return err
			}
			continue
		}
		n.mutex.Lock()
		n.seeks = append(n.seeks, req.info)
		n.mutex.Unlock()

		l := n.ledger(req.channelID)
		if l == nil || !n.Joined(req.channelID) {
			if err := srv.Send(peerStatus(cb.Status_NOT_FOUND)); err != nil {
				return err
			}
			continue
		}
		st, err := n.deliver(srv.Context(), req, l, func(block *cb.Block) error {
			return srv.Send(&pb.DeliverResponse{
				Type: &pb.DeliverResponse_FilteredBlock{FilteredBlock: filterBlock(req.channelID, block)},
			})
		})
		if err != nil {
			return err
		}
		if err := srv.Send(peerStatus(st)); err != nil {
			return err
		}
	}
}

func peerStatus(st cb.Status) *pb.DeliverResponse {
	return &pb.DeliverResponse{Type: &pb.DeliverResponse_Status{Status: st}}
}
