/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"context"
	"strings"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/hyperledger/fabric-lib-go/common/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	clientRequestDuration = metrics.HistogramOpts{
		Namespace:    "grpc",
		Subsystem:    "client",
		Name:         "request_duration",
		Help:         "The time to complete a unary client request.",
		LabelNames:   []string{"service", "method", "code"},
		StatsdFormat: "%{#fqname}.%{service}.%{method}.%{code}",
	}
	clientRequestsCompleted = metrics.CounterOpts{
		Namespace:    "grpc",
		Subsystem:    "client",
		Name:         "requests_completed",
		Help:         "The number of unary client requests that completed.",
		LabelNames:   []string{"service", "method", "code"},
		StatsdFormat: "%{#fqname}.%{service}.%{method}.%{code}",
	}
	clientStreamsOpened = metrics.CounterOpts{
		Namespace:    "grpc",
		Subsystem:    "client",
		Name:         "streams_opened",
		Help:         "The number of client streams opened.",
		LabelNames:   []string{"service", "method", "code"},
		StatsdFormat: "%{#fqname}.%{service}.%{method}.%{code}",
	}
)

// ClientInterceptors logs and measures every gRPC call made by a client
// connection.
type ClientInterceptors struct {
	Logger          *flogging.FabricLogger
	RequestDuration metrics.Histogram
	RequestsDone    metrics.Counter
	StreamsOpened   metrics.Counter
}

// NewClientInterceptors creates interceptors that report to the provided
// logger and metrics provider.
func NewClientInterceptors(logger *flogging.FabricLogger, provider metrics.Provider) *ClientInterceptors {
	return &ClientInterceptors{
		Logger:          logger,
		RequestDuration: provider.NewHistogram(clientRequestDuration),
		RequestsDone:    provider.NewCounter(clientRequestsCompleted),
		StreamsOpened:   provider.NewCounter(clientStreamsOpened),
	}
}

// DialOptions returns the chained unary and stream interceptors.
func (ci *ClientInterceptors) DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithUnaryInterceptor(grpc_middleware.ChainUnaryClient(ci.UnaryClientInterceptor)),
		grpc.WithStreamInterceptor(grpc_middleware.ChainStreamClient(ci.StreamClientInterceptor)),
	}
}

func (ci *ClientInterceptors) UnaryClientInterceptor(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	service, name := serviceMethod(method)
	start := time.Now()
	err := invoker(ctx, method, req, reply, cc, opts...)
	code := status.Code(err).String()

	if ci.RequestDuration != nil {
		ci.RequestDuration.With("service", service, "method", name, "code", code).Observe(time.Since(start).Seconds())
	}
	if ci.RequestsDone != nil {
		ci.RequestsDone.With("service", service, "method", name, "code", code).Add(1)
	}
	if ci.Logger != nil {
		ci.Logger.With("target", cc.Target(), "grpc.code", code).Debugf("unary call %s completed in %s", method, time.Since(start))
	}
	return err
}

func (ci *ClientInterceptors) StreamClientInterceptor(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	service, name := serviceMethod(method)
	stream, err := streamer(ctx, desc, cc, method, opts...)
	code := status.Code(err).String()

	if ci.StreamsOpened != nil {
		ci.StreamsOpened.With("service", service, "method", name, "code", code).Add(1)
	}
	if ci.Logger != nil {
		ci.Logger.With("target", cc.Target(), "grpc.code", code).Debugf("stream %s opened", method)
	}
	return stream, err
}

func serviceMethod(fullMethod string) (service, method string) {
	normalized := strings.TrimLeft(fullMethod, "/")
	parts := strings.SplitN(normalized, "/", 2)
	if len(parts) != 2 {
		return "unknown", "unknown"
	}
	return strings.ReplaceAll(parts[0], ".", "_"), parts[1]
}
