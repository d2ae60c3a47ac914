/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/common"
	po "github.com/hyperledger/fabric-protos-go/orderer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
)

var logger = logging.NewLogger("txnflow/fab/mocks")

const (
	defaultBatchSize    = 2
	defaultBatchTimeout = 250 * time.Millisecond
)

var broadcastResponseSuccess = &po.BroadcastResponse{Status: common.Status_SUCCESS}

// MockBroadcastServer is an ordering service that cuts the envelopes it receives into
// blocks and commits them to a mock ledger. A block is cut when BatchSize envelopes are
// pending or BatchTimeout has elapsed since the first pending envelope was received.
type MockBroadcastServer struct {
	po.UnimplementedAtomicBroadcastServer
	Ledger       *MockLedger
	BatchSize    int
	BatchTimeout time.Duration
	Creds        credentials.TransportCredentials
	// BroadcastError, if set, aborts the stream with the error
	BroadcastError error
	// BroadcastCustomResponse, if set, is returned instead of the success ack and the
	// envelope is dropped
	BroadcastCustomResponse *po.BroadcastResponse

	srv        *grpc.Server
	wg         sync.WaitGroup
	mutex      sync.Mutex
	pending    []*common.Envelope
	generation uint64
	timer      *time.Timer
}

// NewMockBroadcastServer returns an ordering service committing to the given ledger
func NewMockBroadcastServer(ledger *MockLedger) *MockBroadcastServer {
	return &MockBroadcastServer{
		Ledger:       ledger,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

// Broadcast acknowledges every envelope on the stream and queues it for ordering
func (m *MockBroadcastServer) Broadcast(server po.AtomicBroadcast_BroadcastServer) error {
	for {
		env, err := server.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if m.BroadcastError != nil {
			return m.BroadcastError
		}
		if m.BroadcastCustomResponse != nil {
			if err := server.Send(m.BroadcastCustomResponse); err != nil {
				return err
			}
			continue
		}

		if resp := m.validate(env); resp != nil {
			if err := server.Send(resp); err != nil {
				return err
			}
			continue
		}

		m.enqueue(env)
		if err := server.Send(broadcastResponseSuccess); err != nil {
			return err
		}
	}
}

func (m *MockBroadcastServer) validate(env *common.Envelope) *po.BroadcastResponse {
	payload := &common.Payload{}
	if err := proto.Unmarshal(env.Payload, payload); err != nil || payload.Header == nil {
		return &po.BroadcastResponse{Status: common.Status_BAD_REQUEST, Info: "malformed envelope payload"}
	}
	chdr := &common.ChannelHeader{}
	if err := proto.Unmarshal(payload.Header.ChannelHeader, chdr); err != nil {
		return &po.BroadcastResponse{Status: common.Status_BAD_REQUEST, Info: "malformed channel header"}
	}
	if chdr.ChannelId != m.Ledger.ChannelID() {
		return &po.BroadcastResponse{Status: common.Status_NOT_FOUND, Info: "channel does not exist"}
	}
	return nil
}

func (m *MockBroadcastServer) enqueue(env *common.Envelope) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.pending = append(m.pending, env)
	if len(m.pending) >= m.batchSize() {
		m.cutLocked()
		return
	}
	if len(m.pending) == 1 {
		generation := m.generation
		m.timer = time.AfterFunc(m.batchTimeout(), func() {
			m.mutex.Lock()
			defer m.mutex.Unlock()
			if m.generation == generation && len(m.pending) > 0 {
				m.cutLocked()
			}
		})
	}
}

func (m *MockBroadcastServer) cutLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.generation++
	batch := m.pending
	m.pending = nil

	block := m.Ledger.Commit(batch)
	logger.Debugf("MockBroadcastServer committed block %d with %d transactions", block.Header.Number, len(batch))
}

// SetBatch changes the block cutting parameters. Pending envelopes keep their timer.
func (m *MockBroadcastServer) SetBatch(size int, timeout time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.BatchSize = size
	m.BatchTimeout = timeout
}

func (m *MockBroadcastServer) batchSize() int {
	if m.BatchSize < 1 {
		return defaultBatchSize
	}
	return m.BatchSize
}

func (m *MockBroadcastServer) batchTimeout() time.Duration {
	if m.BatchTimeout <= 0 {
		return defaultBatchTimeout
	}
	return m.BatchTimeout
}

// Start the mock broadcast server
func (m *MockBroadcastServer) Start(address string) string {
	if m.srv != nil {
		panic("MockBroadcastServer already started")
	}

	// pass in TLS creds if present
	if m.Creds != nil {
		m.srv = grpc.NewServer(grpc.Creds(m.Creds))
	} else {
		m.srv = grpc.NewServer()
	}

	lis, err := net.Listen("tcp", address)
	if err != nil {
		panic(fmt.Sprintf("Error starting BroadcastServer %s", err))
	}
	addr := lis.Addr().String()

	logger.Debugf("Starting MockBroadcastServer [%s]", addr)
	po.RegisterAtomicBroadcastServer(m.srv, m)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.srv.Serve(lis); err != nil {
			logger.Warnf("MockBroadcastServer failed [%s]", err)
		}
	}()

	return addr
}

// Stop the mock broadcast server and wait for completion.
func (m *MockBroadcastServer) Stop() {
	if m.srv == nil {
		panic("MockBroadcastServer not started")
	}

	m.srv.Stop()
	m.wg.Wait()
	m.srv = nil

	m.mutex.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.generation++
	m.mutex.Unlock()
}
