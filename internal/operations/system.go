/*
Copyright IBM Corp All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package operations serves the metrics, health and version endpoints of a
// long running harness process.
package operations

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/hyperledger/fabric-lib-go/common/metrics"
	"github.com/hyperledger/fabric-lib-go/common/metrics/disabled"
	"github.com/hyperledger/fabric-lib-go/common/metrics/prometheus"
	"github.com/hyperledger/fabric-lib-go/healthz"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

type MetricsOptions struct {
	Provider string
}

type Options struct {
	Logger        Logger
	ListenAddress string
	Metrics       MetricsOptions
	Version       string
	CommitSHA     string
}

// System is the operations HTTP server. It implements ifrit.Runner.
type System struct {
	metrics.Provider

	logger        Logger
	options       Options
	router        *mux.Router
	healthHandler *healthz.HealthHandler
	versionGauge  metrics.Gauge

	listener   net.Listener
	httpServer *http.Server
}

func NewSystem(o Options) *System {
	logger := o.Logger
	if logger == nil {
		logger = flogging.MustGetLogger("operations.runner")
	}

	system := &System{
		logger:  logger,
		options: o,
		router:  mux.NewRouter(),
	}
	system.initializeHealthCheckHandler()
	system.initializeMetricsProvider()
	system.initializeVersionInfoHandler()

	system.httpServer = &http.Server{
		Handler:           system.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return system
}

func (s *System) handler() http.Handler {
	logged := handlers.CustomLoggingHandler(io.Discard, s.router, func(_ io.Writer, p handlers.LogFormatterParams) {
		s.logger.Debugf("%s %s %d %d", p.Request.Method, p.URL.Path, p.StatusCode, p.Size)
	})
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.logger}))(logged)
}

type recoveryLogger struct{ Logger }

func (r recoveryLogger) Println(args ...interface{}) {
	r.Errorf("operations handler panic: %v", args)
}

// RegisterHandler serves handler at path for every method.
func (s *System) RegisterHandler(path string, handler http.Handler) {
	s.router.Handle(path, handler)
}

func (s *System) RegisterChecker(component string, checker healthz.HealthChecker) error {
	return s.healthHandler.RegisterChecker(component, checker)
}

func (s *System) DeregisterChecker(component string) {
	s.healthHandler.DeregisterChecker(component)
}

// Start listens on the configured address and serves in the background.
func (s *System) Start() error {
	listener, err := net.Listen("tcp", s.options.ListenAddress)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.options.ListenAddress)
	}
	s.listener = listener

	s.versionGauge.With("version", s.options.Version).Set(1)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("operations server stopped: %s", err)
		}
	}()
	s.logger.Infof("Operations endpoint listening on %s", listener.Addr())
	return nil
}

func (s *System) Stop() error {
	if s.listener == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the address the server listens on once started.
func (s *System) Addr() string {
	if s.listener == nil {
		return s.options.ListenAddress
	}
	return s.listener.Addr().String()
}

func (s *System) Run(signals <-chan os.Signal, ready chan<- struct{}) error {
	if err := s.Start(); err != nil {
		return err
	}
	close(ready)
	<-signals
	return s.Stop()
}

func (s *System) initializeMetricsProvider() {
	switch providerType := s.options.Metrics.Provider; providerType {
	case "prometheus":
		s.Provider = &prometheus.Provider{}
		s.versionGauge = versionGauge(s.Provider)
		s.RegisterHandler("/metrics", promhttp.Handler())

	default:
		if providerType != "disabled" && providerType != "" {
			s.logger.Warnf("Unknown provider type: %s; metrics disabled", providerType)
		}
		s.Provider = &disabled.Provider{}
		s.versionGauge = versionGauge(s.Provider)
	}
}

func (s *System) initializeHealthCheckHandler() {
	s.healthHandler = healthz.NewHealthHandler()
	s.RegisterHandler("/healthz", s.healthHandler)
}

func (s *System) initializeVersionInfoHandler() {
	versionInfo := &VersionInfoHandler{
		Logger:    s.logger,
		CommitSHA: s.options.CommitSHA,
		Version:   s.options.Version,
	}
	s.RegisterHandler("/version", versionInfo)
}
