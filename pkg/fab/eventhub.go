/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

import (
	"context"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	ab "github.com/hyperledger/fabric-protos-go/orderer"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	"github.com/tebon/fabrictest/protoutil"
)

const (
	minReconnectBackoff = 500 * time.Millisecond
	maxReconnectBackoff = 30 * time.Second
)

type blockHandler func(source string, block *pb.FilteredBlock)

// EventHub streams filtered blocks of a channel from a peer.
type EventHub struct {
	*endpoint
	clock   clock.Clock
	metrics *Metrics

	mutex     sync.Mutex
	running   bool
	connected bool
	channelID string
	next      uint64
	hasNext   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func newEventHub(ep *endpoint, clk clock.Clock, m *Metrics) *EventHub {
	return &EventHub{
		endpoint: ep,
		clock:    clk,
		metrics:  m,
	}
}

// Connected reports whether the deliver stream is currently established.
func (eh *EventHub) Connected() bool {
	eh.mutex.Lock()
	defer eh.mutex.Unlock()
	return eh.connected
}

// connect opens the deliver stream starting at the newest block and
// delivers every received block to handler until stop is called.
func (eh *EventHub) connect(ctx context.Context, channelID string, signer protoutil.Signer, handler blockHandler) error {
	eh.mutex.Lock()
	defer eh.mutex.Unlock()
	if eh.running {
		return errors.Errorf("event hub %s is already connected to channel %s", eh.name, eh.channelID)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	stream, err := eh.open(ctx, runCtx, channelID, signer, protoutil.SeekNewest())
	if err != nil {
		cancel()
		return err
	}

	eh.running = true
	eh.channelID = channelID
	eh.cancel = cancel
	eh.done = make(chan struct{})
	eh.setConnectedLocked(true)
	logger.Debugf("Event hub %s connected to channel %s", eh.name, channelID)

	go eh.run(runCtx, stream, channelID, signer, handler)
	return nil
}

func (eh *EventHub) open(dialCtx, streamCtx context.Context, channelID string, signer protoutil.Signer, start *ab.SeekPosition) (pb.Deliver_DeliverFilteredClient, error) {
	env, err := protoutil.SeekFromEnvelope(channelID, signer, start, eh.tlsCertHash())
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create seek request")
	}
	conn, err := eh.connection(dialCtx)
	if err != nil {
		return nil, err
	}
	stream, err := pb.NewDeliverClient(conn).DeliverFiltered(streamCtx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open deliver stream to %s", eh.name)
	}
	if err := stream.Send(env); err != nil {
		return nil, errors.Wrapf(err, "failed to send seek request to %s", eh.name)
	}
	return stream, nil
}

func (eh *EventHub) run(ctx context.Context, stream pb.Deliver_DeliverFilteredClient, channelID string, signer protoutil.Signer, handler blockHandler) {
	defer close(eh.done)

	for {
		err := eh.receive(stream, channelID, handler)
		eh.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		logger.Warningf("Event hub %s lost its stream for channel %s: %s", eh.name, channelID, err)

		stream = eh.reconnect(ctx, channelID, signer)
		if stream == nil {
			return
		}
	}
}

// reconnect retries with exponential backoff until a stream is open or ctx
// is done, in which case it returns nil.
func (eh *EventHub) reconnect(ctx context.Context, channelID string, signer protoutil.Signer) pb.Deliver_DeliverFilteredClient {
	backoff := minReconnectBackoff
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-eh.clock.After(backoff):
		}

		eh.metrics.Reconnects.With("channel", channelID, "source", eh.name).Add(1)
		stream, err := eh.open(ctx, ctx, channelID, signer, eh.resumePosition())
		if err == nil {
			eh.setConnected(true)
			logger.Infof("Event hub %s reconnected to channel %s", eh.name, channelID)
			return stream
		}
		logger.Debugf("Event hub %s reconnect failed: %s", eh.name, err)

		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
	}
}

func (eh *EventHub) receive(stream pb.Deliver_DeliverFilteredClient, channelID string, handler blockHandler) error {
	for {
		resp, err := stream.Recv()
		if err != nil {
			return err
		}
		switch t := resp.Type.(type) {
		case *pb.DeliverResponse_FilteredBlock:
			fb := t.FilteredBlock
			eh.mutex.Lock()
			eh.next = fb.Number + 1
			eh.hasNext = true
			eh.mutex.Unlock()
			eh.metrics.BlocksReceived.With("channel", channelID, "source", eh.name).Add(1)
			handler(eh.name, fb)
		case *pb.DeliverResponse_Status:
			return errors.Errorf("deliver stream ended with status %s", t.Status)
		default:
			return errors.Errorf("unexpected deliver response type %T", t)
		}
	}
}

func (eh *EventHub) resumePosition() *ab.SeekPosition {
	eh.mutex.Lock()
	defer eh.mutex.Unlock()
	if eh.hasNext {
		return protoutil.SeekSpecified(eh.next)
	}
	return protoutil.SeekNewest()
}

func (eh *EventHub) setConnected(connected bool) {
	eh.mutex.Lock()
	eh.setConnectedLocked(connected)
	eh.mutex.Unlock()
}

func (eh *EventHub) setConnectedLocked(connected bool) {
	eh.connected = connected
	value := 0.0
	if connected {
		value = 1
	}
	eh.metrics.Connected.With("channel", eh.channelID, "source", eh.name).Set(value)
}

// stop ends the stream and waits for the receive loop to exit.
func (eh *EventHub) stop() {
	eh.mutex.Lock()
	if !eh.running {
		eh.mutex.Unlock()
		return
	}
	eh.running = false
	cancel, done := eh.cancel, eh.done
	eh.mutex.Unlock()

	cancel()
	<-done
	logger.Debugf("Event hub %s disconnected", eh.name)
}

// Close stops the stream and releases the connection.
func (eh *EventHub) Close() error {
	eh.stop()
	return eh.close()
}
