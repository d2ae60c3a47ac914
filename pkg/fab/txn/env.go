/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package txn

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/msp"
)

// NonceSize is the number of random bytes in a transaction nonce
const NonceSize = 24

// TransactionHeader contains metadata for a transaction created by the SDK.
type TransactionHeader struct {
	id        fab.TransactionID
	creator   []byte
	nonce     []byte
	channelID string
}

// TransactionID returns the transaction's computed identifier.
func (th *TransactionHeader) TransactionID() fab.TransactionID {
	return th.id
}

// Creator returns the transaction creator's identity bytes.
func (th *TransactionHeader) Creator() []byte {
	return th.creator
}

// Nonce returns the transaction's generated nonce.
func (th *TransactionHeader) Nonce() []byte {
	return th.nonce
}

// ChannelID returns the transaction's target channel identifier.
func (th *TransactionHeader) ChannelID() string {
	return th.channelID
}

// NewHeader computes a TransactionID from the creator identity and a fresh nonce.
func NewHeader(creator msp.Identity, channelID string) (*TransactionHeader, error) {
	if creator == nil {
		return nil, errors.New("identity is required")
	}

	nonce, err := getRandomNonce()
	if err != nil {
		return nil, errors.WithMessage(err, "nonce creation failed")
	}

	serialized, err := creator.Serialize()
	if err != nil {
		return nil, errors.WithMessage(err, "identity serialization failed")
	}

	txnID := TransactionHeader{
		id:        computeTxnID(nonce, serialized),
		creator:   serialized,
		nonce:     nonce,
		channelID: channelID,
	}

	return &txnID, nil
}

func getRandomNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "error getting random bytes")
	}
	return nonce, nil
}

func computeTxnID(nonce, creator []byte) fab.TransactionID {
	h := sha256.New()
	h.Write(nonce)
	h.Write(creator)
	return fab.TransactionID(hex.EncodeToString(h.Sum(nil)))
}

// signPayload signs payload
func signPayload(signer msp.SigningIdentity, payload *common.Payload) (*fab.SignedEnvelope, error) {
	payloadBytes, err := proto.Marshal(payload)
	if err != nil {
		return nil, errors.WithMessage(err, "marshaling of payload failed")
	}

	signature, err := signer.Sign(payloadBytes)
	if err != nil {
		return nil, errors.WithMessage(err, "signing of payload failed")
	}
	return &fab.SignedEnvelope{Payload: payloadBytes, Signature: signature}, nil
}

// ChannelHeaderOpts holds the parameters to create a ChannelHeader.
type ChannelHeaderOpts struct {
	TxnHeader   fab.TransactionHeader
	Epoch       uint64
	ChaincodeID string
	Timestamp   time.Time
}

// CreateChannelHeader is a utility method to build a common chain header
func CreateChannelHeader(headerType common.HeaderType, opts ChannelHeaderOpts) (*common.ChannelHeader, error) {
	logger.Debugf("buildChannelHeader - headerType: %s channelID: %s txID: %s epoch: %d chaincodeID: %s timestamp: %v",
		headerType, opts.TxnHeader.ChannelID(), opts.TxnHeader.TransactionID(), opts.Epoch, opts.ChaincodeID, opts.Timestamp)

	if opts.Timestamp.IsZero() {
		opts.Timestamp = time.Now()
	}

	channelHeader := &common.ChannelHeader{
		Type:      int32(headerType),
		ChannelId: opts.TxnHeader.ChannelID(),
		TxId:      string(opts.TxnHeader.TransactionID()),
		Epoch:     opts.Epoch,
		Timestamp: timestamppb.New(opts.Timestamp),
	}

	if opts.ChaincodeID != "" {
		headerExt := &pb.ChaincodeHeaderExtension{
			ChaincodeId: &pb.ChaincodeID{Name: opts.ChaincodeID},
		}
		headerExtBytes, err := proto.Marshal(headerExt)
		if err != nil {
			return nil, errors.Wrap(err, "marshal header extension failed")
		}
		channelHeader.Extension = headerExtBytes
	}

	return channelHeader, nil
}

// CreateSignatureHeader creates a SignatureHeader based on the nonce and creator of the transaction header.
func CreateSignatureHeader(txh fab.TransactionHeader) *common.SignatureHeader {
	return &common.SignatureHeader{
		Creator: txh.Creator(),
		Nonce:   txh.Nonce(),
	}
}

// createHeader creates a Header from a ChannelHeader.
func createHeader(txh fab.TransactionHeader, channelHeader *common.ChannelHeader) (*common.Header, error) {
	sh, err := proto.Marshal(CreateSignatureHeader(txh))
	if err != nil {
		return nil, errors.Wrap(err, "marshal signatureHeader failed")
	}
	ch, err := proto.Marshal(channelHeader)
	if err != nil {
		return nil, errors.Wrap(err, "marshal channelHeader failed")
	}
	header := common.Header{
		SignatureHeader: sh,
		ChannelHeader:   ch,
	}
	return &header, nil
}

// CreatePayload creates a slice of payload bytes from a ChannelHeader and a data slice.
func CreatePayload(txh fab.TransactionHeader, channelHeader *common.ChannelHeader, data []byte) (*common.Payload, error) {
	header, err := createHeader(txh, channelHeader)
	if err != nil {
		return nil, errors.Wrap(err, "header creation failed")
	}

	payload := common.Payload{
		Header: header,
		Data:   data,
	}

	return &payload, nil
}

// CreateSignedEnvelope creates a signed envelope of the given type for a message that
// is not tied to a transaction, such as a deliver seek request.
func CreateSignedEnvelope(signer msp.SigningIdentity, headerType common.HeaderType, channelID string, msg proto.Message) (*common.Envelope, error) {
	if signer == nil {
		return nil, status.NewClient(status.InvalidArgument, "signing identity is required")
	}

	txh, err := NewHeader(signer, channelID)
	if err != nil {
		return nil, errors.WithMessage(err, "create transaction header failed")
	}

	channelHeader, err := CreateChannelHeader(headerType, ChannelHeaderOpts{TxnHeader: txh})
	if err != nil {
		return nil, errors.WithMessage(err, "channel header creation failed")
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "marshal of message failed")
	}

	payload, err := CreatePayload(txh, channelHeader, data)
	if err != nil {
		return nil, errors.WithMessage(err, "payload creation failed")
	}

	env, err := signPayload(signer, payload)
	if err != nil {
		return nil, err
	}
	return &common.Envelope{Payload: env.Payload, Signature: env.Signature}, nil
}
