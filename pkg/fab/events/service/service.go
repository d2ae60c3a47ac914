/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package service demultiplexes committed blocks to transaction status and
// chaincode event registrations.
package service

import (
	"regexp"
	"time"

	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/service/dispatcher"
)

const (
	// stopTimeout is the time that we wait for the dispatcher to stop.
	stopTimeout = 5 * time.Second
)

var logger = logging.NewLogger("txnflow/fab/events")

// Dispatcher is responsible for processing registration requests and block/filtered block events.
type Dispatcher interface {
	// Start starts the dispatcher, i.e. the dispatcher starts listening for requests/events
	Start() error

	// EventCh is the event channel over which to communicate with the dispatcher
	EventCh() (chan<- interface{}, error)

	// Done is closed once the dispatcher has stopped
	Done() <-chan struct{}

	// LastBlockNum returns the block number of the last block for which an event was received.
	LastBlockNum() uint64
}

// Service allows clients to register for transaction status and chaincode events.
type Service struct {
	dispatcher Dispatcher
}

// New returns a new event service initialized with the given Dispatcher
func New(dispatcher Dispatcher) *Service {
	return &Service{
		dispatcher: dispatcher,
	}
}

// Start starts the event service
func (s *Service) Start() error {
	return s.dispatcher.Start()
}

// Stop stops the event service. Pending registrations are resolved with a Disconnected error.
func (s *Service) Stop() {
	errch := make(chan error, 1)
	if err := s.Submit(dispatcher.NewStopEvent(errch)); err != nil {
		logger.Warnf("Error stopping event service: %s", err)
		return
	}

	select {
	case err := <-errch:
		if err != nil {
			logger.Warnf("Error while stopping dispatcher: %s", err)
		}
	case <-time.After(stopTimeout):
		logger.Infof("Timed out waiting for dispatcher to stop")
	}
}

// Submit submits an event for processing
func (s *Service) Submit(event interface{}) error {
	eventch, err := s.dispatcher.EventCh()
	if err != nil {
		return errors.WithMessage(err, "Error submitting to event dispatcher")
	}

	select {
	case eventch <- event:
		return nil
	case <-s.dispatcher.Done():
		return errors.New("event dispatcher has stopped")
	}
}

// Dispatcher returns the event dispatcher
func (s *Service) Dispatcher() Dispatcher {
	return s.dispatcher
}

// RegisterChaincodeEvent registers for the first chaincode event of a valid transaction whose
// name matches the given regular expression.
// - ccID is the chaincode ID for which events are to be received
// - pattern is matched against the event name
// - timeout bounds the wait; a non-positive timeout selects the dispatcher default
func (s *Service) RegisterChaincodeEvent(ccID, pattern string, timeout time.Duration) (fab.Registration, <-chan fab.CCEventResult, error) {
	if ccID == "" {
		return nil, nil, status.NewClient(status.InvalidArgument, "chaincode ID is required")
	}
	if pattern == "" {
		return nil, nil, status.NewClient(status.InvalidArgument, "event filter is required")
	}

	regExp, err := regexp.Compile(pattern)
	if err != nil {
		return nil, nil, status.NewClient(status.InvalidArgument, "invalid event filter ["+pattern+"]: "+err.Error())
	}

	reg := dispatcher.NewChaincodeReg(ccID, regExp, timeout)
	regch, errch := make(chan fab.Registration, 1), make(chan error, 1)
	if err := s.register(dispatcher.NewRegisterChaincodeEvent(reg, regch, errch), regch, errch); err != nil {
		return nil, nil, errors.WithMessage(err, "error registering for chaincode events")
	}
	return reg, reg.Eventch, nil
}

// RegisterTxStatusEvent registers for the commit status of the given transaction.
// - txID is the transaction ID for which events are to be received
// - timeout bounds the wait; a non-positive timeout selects the dispatcher default
func (s *Service) RegisterTxStatusEvent(txID string, timeout time.Duration) (fab.Registration, <-chan fab.TxStatusResult, error) {
	if txID == "" {
		return nil, nil, status.NewClient(status.InvalidArgument, "txID must be provided")
	}

	reg := dispatcher.NewTxStatusReg(txID, timeout)
	regch, errch := make(chan fab.Registration, 1), make(chan error, 1)
	if err := s.register(dispatcher.NewRegisterTxStatusEvent(reg, regch, errch), regch, errch); err != nil {
		return nil, nil, errors.WithMessage(err, "error registering for Tx Status events")
	}
	return reg, reg.Eventch, nil
}

// Unregister resolves the given registration with a cancellation error if it is still pending.
// - reg is the registration handle that was returned from one of the RegisterXXX functions
func (s *Service) Unregister(reg fab.Registration) {
	if err := s.Submit(dispatcher.NewUnregisterEvent(reg)); err != nil {
		logger.Debugf("Error unregistering: %s", err)
	}
}

// RegistrationInfo returns the number of pending registrations
func (s *Service) RegistrationInfo() (*dispatcher.RegistrationInfo, error) {
	regInfoCh := make(chan *dispatcher.RegistrationInfo, 1)
	if err := s.Submit(dispatcher.NewRegistrationInfoEvent(regInfoCh)); err != nil {
		return nil, err
	}

	select {
	case regInfo := <-regInfoCh:
		return regInfo, nil
	case <-s.dispatcher.Done():
		return nil, errors.New("event dispatcher has stopped")
	}
}

// register submits a registration request and waits for the dispatcher to accept or reject it
func (s *Service) register(event interface{}, regch <-chan fab.Registration, errch <-chan error) error {
	if err := s.Submit(event); err != nil {
		return err
	}

	select {
	case <-regch:
		return nil
	case err := <-errch:
		return err
	case <-s.dispatcher.Done():
		// the request may have been handled just before the dispatcher stopped
		select {
		case <-regch:
			return nil
		case err := <-errch:
			return err
		default:
			return errors.New("event dispatcher has stopped")
		}
	}
}
