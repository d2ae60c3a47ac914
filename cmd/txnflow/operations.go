/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	reqContext "context"
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/client"
	"github.com/hyperledger/fabric-txnflow/pkg/fabsdk"
)

const (
	healthStatusOK          = "OK"
	healthStatusUnavailable = "Service Unavailable"
	eventHubComponent       = "eventhub"
)

// healthChecker reports why a component is unhealthy, or nil when it is healthy
type healthChecker func() error

type failedCheck struct {
	Component string `json:"component"`
	Reason    string `json:"reason"`
}

type healthStatus struct {
	Status       string        `json:"status"`
	Time         time.Time     `json:"time"`
	FailedChecks []failedCheck `json:"failed_checks,omitempty"`
}

// operationsServer serves /metrics and /healthz while a command runs
type operationsServer struct {
	addr     string
	server   *http.Server
	listener net.Listener
	checker  atomic.Value
}

func newOperationsServer(addr string) *operationsServer {
	s := &operationsServer{addr: addr}
	s.server = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *operationsServer) router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return r
}

// SetHealthChecker installs the checker consulted by /healthz
func (s *operationsServer) SetHealthChecker(c healthChecker) {
	s.checker.Store(c)
}

// Start listens on the configured address and serves in the background
func (s *operationsServer) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.addr)
	}
	s.listener = lis

	go func() {
		if err := s.server.Serve(lis); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Operations server stopped: %s", err)
		}
	}()
	logger.Infof("Operations server listening on %s", lis.Addr())
	return nil
}

// Addr returns the address the server listens on
func (s *operationsServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down
func (s *operationsServer) Stop() {
	ctx, cancel := reqContext.WithTimeout(reqContext.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		logger.Warnf("Operations server shutdown failed: %s", err)
	}
}

func (s *operationsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthStatus{Status: healthStatusOK, Time: time.Now()}
	code := http.StatusOK

	c, _ := s.checker.Load().(healthChecker)
	var err error
	if c == nil {
		err = errors.New("not connected")
	} else {
		err = c()
	}
	if err != nil {
		resp.Status = healthStatusUnavailable
		resp.FailedChecks = []failedCheck{{Component: eventHubComponent, Reason: err.Error()}}
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Warnf("failed to encode health status: %s", err)
	}
}

func eventHubChecker(sdk *fabsdk.FabricSDK) healthChecker {
	return func() error {
		if state := sdk.ConnectionState(); state != client.Connected {
			return errors.Errorf("event hub is %s", state)
		}
		return nil
	}
}
