/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"crypto/sha256"

	"github.com/golang/protobuf/proto"
	mspprotos "github.com/hyperledger/fabric-protos-go/msp"

	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/msp"
)

// MockSigningIdentity is a signing identity whose signature is the SHA-256 digest of the message
type MockSigningIdentity struct {
	id      string
	mspID   string
	cert    []byte
	SignErr error
}

// NewMockSigningIdentity returns a signing identity for the given name and MSP
func NewMockSigningIdentity(id, mspID string) *MockSigningIdentity {
	return &MockSigningIdentity{id: id, mspID: mspID, cert: []byte("cert-" + id)}
}

// Identifier returns the identifier of the identity
func (m *MockSigningIdentity) Identifier() *msp.IdentityIdentifier {
	return &msp.IdentityIdentifier{MSPID: m.mspID, ID: m.id}
}

// Serialize returns the identity as a serialized MSP identity
func (m *MockSigningIdentity) Serialize() ([]byte, error) {
	return proto.Marshal(&mspprotos.SerializedIdentity{Mspid: m.mspID, IdBytes: m.cert})
}

// EnrollmentCertificate returns the enrollment certificate
func (m *MockSigningIdentity) EnrollmentCertificate() []byte {
	return m.cert
}

// Sign returns the digest of msg, or SignErr if set
func (m *MockSigningIdentity) Sign(msg []byte) ([]byte, error) {
	if m.SignErr != nil {
		return nil, m.SignErr
	}
	digest := sha256.Sum256(msg)
	return digest[:], nil
}
