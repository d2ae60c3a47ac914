/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"sort"
	"sync"

	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	"github.com/hyperledger/fabric-protos-go/ledger/rwset"
	"github.com/hyperledger/fabric-protos-go/ledger/rwset/kvrwset"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
)

const lsccNamespace = "lscc"

// Chaincode is a chaincode simulated by the mock ledger
type Chaincode interface {
	Init(stub *MockStub, args [][]byte) *pb.Response
	Invoke(stub *MockStub, fcn string, args [][]byte) *pb.Response
}

type versionedValue struct {
	value   []byte
	version *kvrwset.Version
}

// MockLedger is an in-memory channel ledger. Endorsers simulate proposals against its
// committed state and the orderer commits blocks to it, marking transactions whose
// reads are stale with MVCC_READ_CONFLICT.
type MockLedger struct {
	mutex      sync.RWMutex
	channelID  string
	state      map[string]map[string]*versionedValue
	txIDs      map[string]struct{}
	blocks     []*cb.Block
	chaincodes map[string]Chaincode
	updated    chan struct{}
}

// NewMockLedger returns an empty ledger for the channel with the events_cc and
// example_cc chaincodes available for deployment
func NewMockLedger(channelID string) *MockLedger {
	l := &MockLedger{
		channelID:  channelID,
		state:      make(map[string]map[string]*versionedValue),
		txIDs:      make(map[string]struct{}),
		chaincodes: make(map[string]Chaincode),
		updated:    make(chan struct{}),
	}
	l.RegisterChaincode(EventsCCPath, &EventSender{})
	l.RegisterChaincode(ExampleCCPath, &ExampleCC{})
	return l
}

// RegisterChaincode makes the chaincode implementation available under the given path
func (l *MockLedger) RegisterChaincode(path string, cc Chaincode) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.chaincodes[path] = cc
}

// ChannelID returns the ID of the channel
func (l *MockLedger) ChannelID() string {
	return l.channelID
}

// Height returns the number of committed blocks
func (l *MockLedger) Height() uint64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return uint64(len(l.blocks))
}

// Block returns the block with the given number. If the block has not been committed
// yet, a channel is returned that is closed on the next commit.
func (l *MockLedger) Block(number uint64) (*cb.Block, <-chan struct{}) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if number < uint64(len(l.blocks)) {
		return l.blocks[number], nil
	}
	return nil, l.updated
}

// State returns the committed value of the key in the chaincode namespace
func (l *MockLedger) State(ns, key string) []byte {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if v, ok := l.state[ns][key]; ok {
		return v.value
	}
	return nil
}

// Simulate executes the chaincode function against the committed state and returns
// the resulting chaincode action
func (l *MockLedger) Simulate(txID, ccName, fcn string, args [][]byte) (*pb.ChaincodeAction, error) {
	cc, ccID, err := l.instantiated(ccName)
	if err != nil {
		return nil, err
	}

	stub := newMockStub(l, txID, ccName)
	return stub.action(ccID, cc.Invoke(stub, fcn, args))
}

// SimulateDeploy instantiates (or upgrades) the chaincode described by cds and runs its
// Init function
func (l *MockLedger) SimulateDeploy(txID string, cds *pb.ChaincodeDeploymentSpec, upgrade bool) (*pb.ChaincodeAction, error) {
	spec := cds.GetChaincodeSpec()
	if spec.GetChaincodeId().GetName() == "" {
		return nil, errors.New("chaincode deployment spec has no chaincode ID")
	}
	ccID := spec.ChaincodeId

	l.mutex.RLock()
	cc, ok := l.chaincodes[ccID.Path]
	l.mutex.RUnlock()
	if !ok {
		return nil, errors.Errorf("no chaincode is available at path [%s]", ccID.Path)
	}

	lsccStub := newMockStub(l, txID, lsccNamespace)
	existing, err := lsccStub.GetState(ccID.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil && !upgrade {
		return nil, errors.Errorf("chaincode with name '%s' already exists", ccID.Name)
	}
	if existing == nil && upgrade {
		return nil, errors.Errorf("cannot upgrade chaincode '%s' since it has not been instantiated", ccID.Name)
	}
	if err := lsccStub.PutState(ccID.Name, marshalOrPanic(ccID)); err != nil {
		return nil, err
	}

	var fcnArgs [][]byte
	if args := spec.GetInput().GetArgs(); len(args) > 1 {
		fcnArgs = args[1:]
	}

	ccStub := newMockStub(l, txID, ccID.Name)
	response := cc.Init(ccStub, fcnArgs)

	return ccStub.action(ccID, response, lsccStub)
}

func (l *MockLedger) instantiated(ccName string) (Chaincode, *pb.ChaincodeID, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	v, ok := l.state[lsccNamespace][ccName]
	if !ok {
		return nil, nil, errors.Errorf("chaincode %s is not instantiated on channel %s", ccName, l.channelID)
	}
	ccID := &pb.ChaincodeID{}
	if err := proto.Unmarshal(v.value, ccID); err != nil {
		return nil, nil, errors.Wrap(err, "invalid chaincode data")
	}
	cc, ok := l.chaincodes[ccID.Path]
	if !ok {
		return nil, nil, errors.Errorf("no chaincode is available at path [%s]", ccID.Path)
	}
	return cc, ccID, nil
}

func (l *MockLedger) read(ns, key string) ([]byte, *kvrwset.Version) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if v, ok := l.state[ns][key]; ok {
		return v.value, v.version
	}
	return nil, nil
}

// Commit validates the envelopes in order, applies the writes of the valid ones and
// appends the resulting block
func (l *MockLedger) Commit(envelopes []*cb.Envelope) *cb.Block {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	blockNum := uint64(len(l.blocks))
	txs := make([]*TxInfo, len(envelopes))
	for i, env := range envelopes {
		code := l.validateAndApply(env, blockNum, uint64(i))
		txs[i] = &TxInfo{Envelope: env, TxValidationCode: code}
	}

	var previousHash []byte
	if blockNum > 0 {
		previousHash = BlockHeaderHash(l.blocks[blockNum-1].Header)
	}
	block := NewBlock(blockNum, previousHash, txs...)
	l.blocks = append(l.blocks, block)

	close(l.updated)
	l.updated = make(chan struct{})

	return block
}

func (l *MockLedger) validateAndApply(env *cb.Envelope, blockNum, txNum uint64) pb.TxValidationCode {
	txID, nsRWSets, code := extractRWSets(env)
	if code != pb.TxValidationCode_VALID {
		return code
	}
	if _, ok := l.txIDs[txID]; ok {
		return pb.TxValidationCode_DUPLICATE_TXID
	}
	l.txIDs[txID] = struct{}{}

	for _, ns := range nsRWSets {
		for _, read := range ns.kvRWSet.Reads {
			var committed *kvrwset.Version
			if v, ok := l.state[ns.namespace][read.Key]; ok {
				committed = v.version
			}
			if !versionEqual(committed, read.Version) {
				return pb.TxValidationCode_MVCC_READ_CONFLICT
			}
		}
	}

	version := &kvrwset.Version{BlockNum: blockNum, TxNum: txNum}
	for _, ns := range nsRWSets {
		for _, write := range ns.kvRWSet.Writes {
			nsState, ok := l.state[ns.namespace]
			if !ok {
				nsState = make(map[string]*versionedValue)
				l.state[ns.namespace] = nsState
			}
			if write.IsDelete {
				delete(nsState, write.Key)
				continue
			}
			nsState[write.Key] = &versionedValue{value: write.Value, version: version}
		}
	}
	return pb.TxValidationCode_VALID
}

func versionEqual(a, b *kvrwset.Version) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.BlockNum == b.BlockNum && a.TxNum == b.TxNum
}

type nsRWSet struct {
	namespace string
	kvRWSet   *kvrwset.KVRWSet
}

// extractRWSets unpacks the read-write sets of an endorser transaction
func extractRWSets(env *cb.Envelope) (string, []nsRWSet, pb.TxValidationCode) {
	payload := &cb.Payload{}
	if err := proto.Unmarshal(env.Payload, payload); err != nil || payload.Header == nil {
		return "", nil, pb.TxValidationCode_BAD_PAYLOAD
	}
	chdr := &cb.ChannelHeader{}
	if err := proto.Unmarshal(payload.Header.ChannelHeader, chdr); err != nil {
		return "", nil, pb.TxValidationCode_BAD_CHANNEL_HEADER
	}
	if cb.HeaderType(chdr.Type) != cb.HeaderType_ENDORSER_TRANSACTION {
		return chdr.TxId, nil, pb.TxValidationCode_UNKNOWN_TX_TYPE
	}

	tx := &pb.Transaction{}
	if err := proto.Unmarshal(payload.Data, tx); err != nil || len(tx.Actions) == 0 {
		return chdr.TxId, nil, pb.TxValidationCode_BAD_PAYLOAD
	}
	cap := &pb.ChaincodeActionPayload{}
	if err := proto.Unmarshal(tx.Actions[0].Payload, cap); err != nil || cap.Action == nil {
		return chdr.TxId, nil, pb.TxValidationCode_BAD_PAYLOAD
	}
	if len(cap.Action.Endorsements) == 0 {
		return chdr.TxId, nil, pb.TxValidationCode_ENDORSEMENT_POLICY_FAILURE
	}
	prp := &pb.ProposalResponsePayload{}
	if err := proto.Unmarshal(cap.Action.ProposalResponsePayload, prp); err != nil {
		return chdr.TxId, nil, pb.TxValidationCode_BAD_RESPONSE_PAYLOAD
	}
	ccAction := &pb.ChaincodeAction{}
	if err := proto.Unmarshal(prp.Extension, ccAction); err != nil {
		return chdr.TxId, nil, pb.TxValidationCode_BAD_RESPONSE_PAYLOAD
	}
	txRWSet := &rwset.TxReadWriteSet{}
	if err := proto.Unmarshal(ccAction.Results, txRWSet); err != nil {
		return chdr.TxId, nil, pb.TxValidationCode_BAD_RWSET
	}

	var sets []nsRWSet
	for _, ns := range txRWSet.NsRwset {
		kv := &kvrwset.KVRWSet{}
		if err := proto.Unmarshal(ns.Rwset, kv); err != nil {
			return chdr.TxId, nil, pb.TxValidationCode_BAD_RWSET
		}
		sets = append(sets, nsRWSet{namespace: ns.Namespace, kvRWSet: kv})
	}
	return chdr.TxId, sets, pb.TxValidationCode_VALID
}

// MockStub records the reads, writes and event of a chaincode simulation
type MockStub struct {
	ledger    *MockLedger
	txID      string
	namespace string
	reads     map[string]*kvrwset.Version
	writes    map[string][]byte
	event     *pb.ChaincodeEvent
}

func newMockStub(ledger *MockLedger, txID, namespace string) *MockStub {
	return &MockStub{
		ledger:    ledger,
		txID:      txID,
		namespace: namespace,
		reads:     make(map[string]*kvrwset.Version),
		writes:    make(map[string][]byte),
	}
}

// TxID returns the ID of the simulated transaction
func (s *MockStub) TxID() string {
	return s.txID
}

// GetState returns the committed value of the key and records the read
func (s *MockStub) GetState(key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key must not be empty")
	}
	value, version := s.ledger.read(s.namespace, key)
	s.reads[key] = version
	return value, nil
}

// PutState records a write of the key
func (s *MockStub) PutState(key string, value []byte) error {
	if key == "" {
		return errors.New("key must not be empty")
	}
	s.writes[key] = value
	return nil
}

// SetEvent sets the chaincode event of the transaction
func (s *MockStub) SetEvent(name string, payload []byte) error {
	if name == "" {
		return errors.New("event name can not be empty string")
	}
	s.event = &pb.ChaincodeEvent{ChaincodeId: s.namespace, TxId: s.txID, EventName: name, Payload: payload}
	return nil
}

func (s *MockStub) kvRWSet() *rwset.NsReadWriteSet {
	kv := &kvrwset.KVRWSet{}
	for _, key := range sortedKeys(s.reads) {
		kv.Reads = append(kv.Reads, &kvrwset.KVRead{Key: key, Version: s.reads[key]})
	}
	writeKeys := make([]string, 0, len(s.writes))
	for key := range s.writes {
		writeKeys = append(writeKeys, key)
	}
	sort.Strings(writeKeys)
	for _, key := range writeKeys {
		kv.Writes = append(kv.Writes, &kvrwset.KVWrite{Key: key, Value: s.writes[key]})
	}
	return &rwset.NsReadWriteSet{Namespace: s.namespace, Rwset: marshalOrPanic(kv)}
}

// action assembles the chaincode action from the simulation results of this stub and
// of any other namespaces touched by the transaction
func (s *MockStub) action(ccID *pb.ChaincodeID, response *pb.Response, others ...*MockStub) (*pb.ChaincodeAction, error) {
	if response == nil {
		return nil, errors.New("chaincode returned no response")
	}

	txRWSet := &rwset.TxReadWriteSet{DataModel: rwset.TxReadWriteSet_KV}
	for _, stub := range append(others, s) {
		txRWSet.NsRwset = append(txRWSet.NsRwset, stub.kvRWSet())
	}

	var events []byte
	if s.event != nil {
		events = marshalOrPanic(s.event)
	}

	return &pb.ChaincodeAction{
		Results:     marshalOrPanic(txRWSet),
		Events:      events,
		Response:    response,
		ChaincodeId: ccID,
	}, nil
}

func sortedKeys(m map[string]*kvrwset.Version) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Success returns a successful chaincode response with the given payload
func Success(payload []byte) *pb.Response {
	return &pb.Response{Status: int32(cb.Status_SUCCESS), Payload: payload}
}

// Error returns a chaincode error response
func Error(msg string) *pb.Response {
	return &pb.Response{Status: int32(cb.Status_INTERNAL_SERVER_ERROR), Message: msg}
}
