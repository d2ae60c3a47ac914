/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"math"
	"reflect"
	"sync/atomic"
	"time"

	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
)

var logger = logging.NewLogger("txnflow/fab/events")

const (
	dispatcherStateInitial = iota
	dispatcherStateStarted
	dispatcherStateStopped
)

// Handler is the handler for a given event type.
type Handler func(Event)

// Dispatcher is responsible for handling all events, including connection and registration events originating from the client,
// and events originating from the channel event service. All events are processed in a single Go routine
// in order to avoid any race conditions and to ensure that events are processed in the order in which they are received.
// Registrations are only touched from that Go routine, which is what guarantees that each one is resolved exactly once.
// The lastBlockNum member MUST be first to ensure it stays 64-bit aligned on 32-bit machines.
type Dispatcher struct {
	lastBlockNum uint64 // Must be first, do not move
	params
	state           int32
	eventch         chan interface{}
	done            chan struct{}
	handlers        map[reflect.Type]Handler
	txRegistrations map[string]*TxStatusReg
	ccRegistrations []*ChaincodeReg
	regErr          error
	metrics         *Metrics
}

// New creates a new Dispatcher.
func New(opts ...options.Opt) *Dispatcher {
	logger.Debug("Creating new dispatcher.")

	params := defaultParams()
	options.Apply(params, opts)

	return &Dispatcher{
		params:          *params,
		handlers:        make(map[reflect.Type]Handler),
		eventch:         make(chan interface{}, params.eventConsumerBufferSize),
		done:            make(chan struct{}),
		txRegistrations: make(map[string]*TxStatusReg),
		state:           dispatcherStateInitial,
		lastBlockNum:    math.MaxUint64,
		metrics:         NewMetrics(params.metricsProvider),
	}
}

// RegisterHandlers registers all of the handlers by event type
func (ed *Dispatcher) RegisterHandlers() {
	ed.RegisterHandler(&RegisterChaincodeEvent{}, ed.handleRegisterCCEvent)
	ed.RegisterHandler(&RegisterTxStatusEvent{}, ed.handleRegisterTxStatusEvent)
	ed.RegisterHandler(&UnregisterEvent{}, ed.handleUnregisterEvent)
	ed.RegisterHandler(&ExpireEvent{}, ed.handleExpireEvent)
	ed.RegisterHandler(&StopEvent{}, ed.HandleStopEvent)
	ed.RegisterHandler(&RegistrationInfoEvent{}, ed.handleRegistrationInfoEvent)
	ed.RegisterHandler(&fab.BlockEvent{}, ed.handleBlockEvent)
	ed.RegisterHandler(&fab.FilteredBlockEvent{}, ed.handleFilteredBlockEvent)
}

// EventCh returns the channel to which events may be posted
func (ed *Dispatcher) EventCh() (chan<- interface{}, error) {
	state := ed.getState()
	if state == dispatcherStateStarted {
		return ed.eventch, nil
	}
	return nil, errors.Errorf("dispatcher not started - Current state [%d]", state)
}

// Done is closed once the dispatcher has stopped
func (ed *Dispatcher) Done() <-chan struct{} {
	return ed.done
}

// Start starts dispatching events as they arrive. All events are processed in
// a single Go routine in order to avoid any race conditions
func (ed *Dispatcher) Start() error {
	if !ed.setState(dispatcherStateInitial, dispatcherStateStarted) {
		return errors.New("cannot start dispatcher since it's not in its initial state")
	}

	ed.RegisterHandlers()

	go func() {
		for {
			var e interface{}
			select {
			case e = <-ed.eventch:
			case <-ed.done:
				logger.Debug("Exiting event dispatcher")
				return
			}

			if handler, ok := ed.handlers[reflect.TypeOf(e)]; ok {
				handler(e)
			} else {
				logger.Errorf("Handler not found for: %s", reflect.TypeOf(e))
			}

			if ed.getState() == dispatcherStateStopped {
				logger.Debug("Exiting event dispatcher")
				return
			}
		}
	}()
	return nil
}

// LastBlockNum returns the block number of the last block for which an event was received.
func (ed *Dispatcher) LastBlockNum() uint64 {
	return atomic.LoadUint64(&ed.lastBlockNum)
}

// RejectRegistrations causes new registrations to fail with the given error.
// It must only be called from a handler or before the dispatcher is started.
func (ed *Dispatcher) RejectRegistrations(err error) {
	ed.regErr = err
}

// AcceptRegistrations allows new registrations.
// It must only be called from a handler or before the dispatcher is started.
func (ed *Dispatcher) AcceptRegistrations() {
	ed.regErr = nil
}

// FailRegistrations resolves every pending registration with the given error.
// It must only be called from a handler.
func (ed *Dispatcher) FailRegistrations(err error) {
	outcome := outcomeOf(err)

	txRegs := ed.txRegistrations
	ed.txRegistrations = make(map[string]*TxStatusReg)
	ccRegs := ed.ccRegistrations
	ed.ccRegistrations = nil
	ed.updatePending()

	for _, reg := range txRegs {
		logger.Debugf("Resolving TX registration for TxID [%s] with error: %s", reg.TxID, err)
		ed.resolveTx(reg, fab.TxStatusResult{Err: err}, outcome)
	}
	for _, reg := range ccRegs {
		logger.Debugf("Resolving chaincode registration for CC ID [%s] and event filter [%s] with error: %s", reg.ChaincodeID, reg.EventFilter, err)
		ed.resolveCC(reg, fab.CCEventResult{Err: err}, outcome)
	}
}

// HandleStopEvent stops the dispatcher and resolves all pending registrations.
// The Dispatcher is no longer usable.
func (ed *Dispatcher) HandleStopEvent(e Event) {
	event := e.(*StopEvent)

	logger.Debugf("Stopping dispatcher...")
	if !ed.setState(dispatcherStateStarted, dispatcherStateStopped) {
		logger.Warn("Cannot stop event dispatcher since it's already stopped.")
		event.ErrCh <- errors.New("dispatcher already stopped")
		return
	}

	ed.FailRegistrations(status.NewClient(status.Disconnected, "event hub was closed"))
	close(ed.done)

	event.ErrCh <- nil
}

func (ed *Dispatcher) handleRegisterCCEvent(e Event) {
	event := e.(*RegisterChaincodeEvent)

	if ed.regErr != nil {
		event.ErrCh <- ed.regErr
		return
	}

	reg := event.Reg
	ed.ccRegistrations = append(ed.ccRegistrations, reg)
	reg.timer = ed.newTimer(reg, reg.Timeout)
	ed.updatePending()

	event.RegCh <- reg
}

func (ed *Dispatcher) handleRegisterTxStatusEvent(e Event) {
	event := e.(*RegisterTxStatusEvent)

	if ed.regErr != nil {
		event.ErrCh <- ed.regErr
		return
	}

	reg := event.Reg
	if _, exists := ed.txRegistrations[reg.TxID]; exists {
		event.ErrCh <- status.NewClient(status.InvalidArgument, "registration already exists for TX ID ["+reg.TxID+"]")
		return
	}

	ed.txRegistrations[reg.TxID] = reg
	reg.timer = ed.newTimer(reg, reg.Timeout)
	ed.updatePending()

	event.RegCh <- reg
}

// newTimer posts an ExpireEvent for the registration once the timeout elapses
func (ed *Dispatcher) newTimer(reg fab.Registration, timeout time.Duration) *time.Timer {
	if timeout <= 0 {
		timeout = ed.registrationTimeout
	}
	return time.AfterFunc(timeout, func() {
		ed.post(NewExpireEvent(reg))
	})
}

// post delivers an event from outside the dispatcher Go routine, dropping it once the dispatcher has stopped
func (ed *Dispatcher) post(e Event) {
	select {
	case ed.eventch <- e:
	case <-ed.done:
	}
}

func (ed *Dispatcher) handleUnregisterEvent(e Event) {
	event := e.(*UnregisterEvent)

	err := status.NewClient(status.RegistrationCancelled, "registration was unregistered")
	if !ed.resolvePending(event.Reg, err, outcomeCancelled) {
		logger.Debugf("Registration %T was already resolved", event.Reg)
	}
}

func (ed *Dispatcher) handleExpireEvent(e Event) {
	event := e.(*ExpireEvent)

	var msg string
	switch reg := event.Reg.(type) {
	case *TxStatusReg:
		msg = "timed out waiting for status of transaction [" + reg.TxID + "]"
	case *ChaincodeReg:
		msg = "timed out waiting for event [" + reg.EventFilter + "] of chaincode [" + reg.ChaincodeID + "]"
	}
	ed.resolvePending(event.Reg, status.NewClient(status.Timeout, msg), outcomeTimeout)
}

// resolvePending removes the registration and resolves it with err if it is still pending
func (ed *Dispatcher) resolvePending(registration fab.Registration, err error, outcome string) bool {
	switch reg := registration.(type) {
	case *TxStatusReg:
		if current, ok := ed.txRegistrations[reg.TxID]; !ok || current != reg {
			return false
		}
		delete(ed.txRegistrations, reg.TxID)
		ed.updatePending()
		ed.resolveTx(reg, fab.TxStatusResult{Err: err}, outcome)
		return true
	case *ChaincodeReg:
		for i, current := range ed.ccRegistrations {
			if current == reg {
				ed.ccRegistrations = append(ed.ccRegistrations[:i:i], ed.ccRegistrations[i+1:]...)
				ed.updatePending()
				ed.resolveCC(reg, fab.CCEventResult{Err: err}, outcome)
				return true
			}
		}
		return false
	default:
		logger.Warnf("Unsupported registration type: %T", registration)
		return false
	}
}

func (ed *Dispatcher) resolveTx(reg *TxStatusReg, result fab.TxStatusResult, outcome string) {
	reg.resolve(result)
	ed.metrics.RegistrationsResolved.With("kind", kindTxStatus, "outcome", outcome).Add(1)
}

func (ed *Dispatcher) resolveCC(reg *ChaincodeReg, result fab.CCEventResult, outcome string) {
	reg.resolve(result)
	ed.metrics.RegistrationsResolved.With("kind", kindChaincode, "outcome", outcome).Add(1)
}

func (ed *Dispatcher) updatePending() {
	ed.metrics.RegistrationsPending.Set(float64(len(ed.txRegistrations) + len(ed.ccRegistrations)))
}

func (ed *Dispatcher) handleBlockEvent(e Event) {
	evt := e.(*fab.BlockEvent)
	ed.HandleBlock(evt.Block, evt.SourceURL)
}

func (ed *Dispatcher) handleFilteredBlockEvent(e Event) {
	evt := e.(*fab.FilteredBlockEvent)
	ed.HandleFilteredBlock(evt.FilteredBlock, evt.SourceURL)
}

func (ed *Dispatcher) handleRegistrationInfoEvent(e Event) {
	evt := e.(*RegistrationInfoEvent)

	regInfo := &RegistrationInfo{
		NumCCRegistrations:       len(ed.ccRegistrations),
		NumTxStatusRegistrations: len(ed.txRegistrations),
	}
	regInfo.TotalRegistrations = regInfo.NumCCRegistrations + regInfo.NumTxStatusRegistrations

	evt.RegInfoCh <- regInfo
}

// HandleBlock handles a block event
func (ed *Dispatcher) HandleBlock(block *cb.Block, sourceURL string) {
	if block == nil || block.Header == nil {
		logger.Warn("Received a block without a header")
		return
	}

	logger.Debugf("Handling block event - Block #%d", block.Header.Number)

	if err := ed.updateLastBlockNum(block.Header.Number); err != nil {
		logger.Error(err.Error())
		return
	}
	ed.metrics.BlocksReceived.Add(1)

	ed.publishFilteredBlockEvents(toFilteredBlock(block), sourceURL)
}

// HandleFilteredBlock handles a filtered block event
func (ed *Dispatcher) HandleFilteredBlock(fblock *pb.FilteredBlock, sourceURL string) {
	if fblock == nil {
		logger.Warn("Filtered block is nil. Event will not be published")
		return
	}

	logger.Debugf("Handling filtered block event - Block #%d", fblock.Number)

	if err := ed.updateLastBlockNum(fblock.Number); err != nil {
		logger.Error(err.Error())
		return
	}
	ed.metrics.BlocksReceived.Add(1)

	ed.publishFilteredBlockEvents(fblock, sourceURL)
}

// updateLastBlockNum updates the value of lastBlockNum
func (ed *Dispatcher) updateLastBlockNum(blockNum uint64) error {
	// The Deliver Service shouldn't be sending blocks out of order.
	lastBlockNum := atomic.LoadUint64(&ed.lastBlockNum)
	if lastBlockNum == math.MaxUint64 || blockNum > lastBlockNum {
		atomic.StoreUint64(&ed.lastBlockNum, blockNum)
		logger.Debugf("Updated last block received to %d", blockNum)
		return nil
	}
	return errors.Errorf("Expecting a block number greater than %d but received block number %d", lastBlockNum, blockNum)
}

func (ed *Dispatcher) publishFilteredBlockEvents(fblock *pb.FilteredBlock, sourceURL string) {
	for _, tx := range fblock.FilteredTransactions {
		ed.publishTxStatusEvent(tx, fblock.Number, sourceURL)

		// Only send a chaincode event if the transaction has committed
		if tx.TxValidationCode != pb.TxValidationCode_VALID {
			logger.Debugf("Not publishing chaincode events for TxID [%s] in block [%d] since validation code [%s] is not valid", tx.Txid, fblock.Number, tx.TxValidationCode)
			continue
		}

		txActions := tx.GetTransactionActions()
		if txActions == nil {
			continue
		}
		for _, action := range txActions.ChaincodeActions {
			if action.ChaincodeEvent != nil {
				ed.publishCCEvent(action.ChaincodeEvent, fblock.Number, sourceURL)
			}
		}
	}
}

func (ed *Dispatcher) publishTxStatusEvent(tx *pb.FilteredTransaction, blockNum uint64, sourceURL string) {
	reg, ok := ed.txRegistrations[tx.Txid]
	if !ok {
		return
	}

	logger.Debugf("Sending Tx Status event for TxID [%s] to registrant...", tx.Txid)

	delete(ed.txRegistrations, tx.Txid)
	ed.updatePending()
	ed.resolveTx(reg, fab.TxStatusResult{Event: NewTxStatusEvent(tx.Txid, tx.TxValidationCode, blockNum, sourceURL)}, outcomeEvent)
}

func (ed *Dispatcher) publishCCEvent(ccEvent *pb.ChaincodeEvent, blockNum uint64, sourceURL string) {
	var matched []*ChaincodeReg
	var remaining []*ChaincodeReg
	for _, reg := range ed.ccRegistrations {
		if reg.ChaincodeID == ccEvent.ChaincodeId && reg.EventRegExp.MatchString(ccEvent.EventName) {
			logger.Debugf("Matched CCEvent[%s,%s] against Reg[%s,%s]", ccEvent.ChaincodeId, ccEvent.EventName, reg.ChaincodeID, reg.EventFilter)
			matched = append(matched, reg)
		} else {
			remaining = append(remaining, reg)
		}
	}
	if len(matched) == 0 {
		return
	}

	ed.ccRegistrations = remaining
	ed.updatePending()

	for _, reg := range matched {
		event := NewChaincodeEvent(ccEvent.ChaincodeId, ccEvent.EventName, ccEvent.TxId, ccEvent.Payload, blockNum, sourceURL)
		ed.resolveCC(reg, fab.CCEventResult{Event: event}, outcomeEvent)
	}
}

// RegisterHandler registers an event handler. A handler that is already registered for the type is kept.
func (ed *Dispatcher) RegisterHandler(t interface{}, h Handler) {
	htype := reflect.TypeOf(t)
	if _, ok := ed.handlers[htype]; !ok {
		logger.Debugf("Registering handler for %s on dispatcher %T", htype, ed)
		ed.handlers[htype] = h
	} else {
		logger.Debugf("Cannot register handler %s on dispatcher %T since it's already registered", htype, ed)
	}
}

func outcomeOf(err error) string {
	if status.Is(err, status.ClientStatus, status.Timeout) {
		return outcomeTimeout
	}
	if status.Is(err, status.ClientStatus, status.RegistrationCancelled) {
		return outcomeCancelled
	}
	return outcomeDisconnected
}

func (ed *Dispatcher) getState() int32 {
	return atomic.LoadInt32(&ed.state)
}

func (ed *Dispatcher) setState(expectedState, newState int32) bool {
	return atomic.CompareAndSwapInt32(&ed.state, expectedState, newState)
}
