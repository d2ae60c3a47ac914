/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package status

import (
	"strconv"

	"github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	grpcCodes "google.golang.org/grpc/codes"
)

// Code represents a status code
type Code uint32

const (
	// OK is returned on success.
	OK Code = 0

	// Unknown represents status codes that are uncategorized
	Unknown Code = 1

	// ConnectionFailed is returned when a network connection attempt fails
	ConnectionFailed Code = 2

	// EndorsementMismatch is returned when peers endorse a proposal with different results
	EndorsementMismatch Code = 3

	// Timeout is returned when an awaited notification was not observed within its deadline.
	// The outcome of the awaited operation is unknown.
	Timeout Code = 5

	// NoPeersFound no peers were configured
	NoPeersFound Code = 6

	// MultipleErrors multiple errors occurred
	MultipleErrors Code = 7

	// InvalidArgument is returned for malformed request inputs
	InvalidArgument Code = 30

	// NoEndorsements is returned when too few peers returned a usable response.
	// The caller may retry with a new transaction ID.
	NoEndorsements Code = 31

	// ConnectFailed is returned when the event hub could not establish its stream
	ConnectFailed Code = 32

	// NotConnected is returned when registering with an event hub that is not connected
	NotConnected Code = 33

	// Disconnected resolves registrations that were pending when the event hub disconnected
	Disconnected Code = 34

	// RegistrationCancelled resolves a registration that was unregistered before it was resolved
	RegistrationCancelled Code = 35

	// EndorsementPolicyFailure is returned when successful endorsements do not satisfy
	// the configured endorsement policy expression
	EndorsementPolicyFailure Code = 36
)

// CodeName maps the codes in this packages to human-readable strings
var CodeName = map[int32]string{
	0:  "OK",
	1:  "UNKNOWN",
	2:  "CONNECTION_FAILED",
	3:  "ENDORSEMENT_MISMATCH",
	5:  "TIMEOUT",
	6:  "NO_PEERS_FOUND",
	7:  "MULTIPLE_ERRORS",
	30: "INVALID_ARGUMENT",
	31: "NO_ENDORSEMENTS",
	32: "CONNECT_FAILED",
	33: "NOT_CONNECTED",
	34: "DISCONNECTED",
	35: "REGISTRATION_CANCELLED",
	36: "ENDORSEMENT_POLICY_FAILURE",
}

// ToInt32 cast to int32
func (c Code) ToInt32() int32 {
	return int32(c)
}

// String representation of the code
func (c Code) String() string {
	if s, ok := CodeName[c.ToInt32()]; ok {
		return s
	}
	return strconv.Itoa(int(c))
}

// ToSDKStatusCode cast to status code
func ToSDKStatusCode(c int32) Code {
	return Code(c)
}

// ToGRPCStatusCode cast to gRPC status code
func ToGRPCStatusCode(c int32) grpcCodes.Code {
	return grpcCodes.Code(c)
}

// ToFabricCommonStatusCode cast to common.Status
func ToFabricCommonStatusCode(c int32) common.Status {
	return common.Status(c)
}

// ToTransactionValidationCode cast to transaction validation status code
func ToTransactionValidationCode(c int32) pb.TxValidationCode {
	return pb.TxValidationCode(c)
}
