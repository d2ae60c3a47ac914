/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"strconv"
	"strings"

	pb "github.com/hyperledger/fabric-protos-go/peer"
)

// Paths under which the simulated chaincodes are deployed
const (
	EventsCCPath  = "github.com/events_cc"
	ExampleCCPath = "github.com/example_cc"
)

// EventSenderEventName is the name of the event set by every events_cc invocation
const EventSenderEventName = "evtsender"

const noEventsKey = "noevents"

// EventSender counts its invocations and sets an "evtsender" event on each of them.
//
// Functions:
//   invoke <args...>  sets the event and increments the counter
//   query             returns the counter
type EventSender struct{}

// Init resets the counter
func (t *EventSender) Init(stub *MockStub, args [][]byte) *pb.Response {
	if err := stub.PutState(noEventsKey, []byte("0")); err != nil {
		return Error(err.Error())
	}
	return Success(nil)
}

// Invoke dispatches the function
func (t *EventSender) Invoke(stub *MockStub, fcn string, args [][]byte) *pb.Response {
	switch fcn {
	case "invoke":
		return t.invoke(stub, args)
	case "query":
		return t.query(stub)
	default:
		return Error("Invalid invoke function name. Expecting \"invoke\" \"query\"")
	}
}

func (t *EventSender) invoke(stub *MockStub, args [][]byte) *pb.Response {
	b, err := stub.GetState(noEventsKey)
	if err != nil {
		return Error("Failed to get state")
	}
	noevts, err := strconv.Atoi(string(b))
	if err != nil {
		return Error("Invalid counter value")
	}

	tosend := "Event " + string(b)
	for _, arg := range args {
		tosend = tosend + "," + string(arg)
	}

	if err := stub.PutState(noEventsKey, []byte(strconv.Itoa(noevts+1))); err != nil {
		return Error(err.Error())
	}
	if err := stub.SetEvent(EventSenderEventName, []byte(tosend)); err != nil {
		return Error(err.Error())
	}
	return Success(nil)
}

func (t *EventSender) query(stub *MockStub) *pb.Response {
	b, err := stub.GetState(noEventsKey)
	if err != nil {
		return Error("Failed to get state")
	}
	return Success(b)
}

// ExampleCC moves an amount between two accounts.
//
// Init takes <A> <Aval> <B> <Bval>. Functions:
//   move <A> <B> <X>  moves X from A to B
//   query <A>         returns the value of A
type ExampleCC struct{}

// Init sets the initial account values
func (t *ExampleCC) Init(stub *MockStub, args [][]byte) *pb.Response {
	if len(args) != 4 {
		return Error("Incorrect number of arguments. Expecting 4")
	}
	for i := 0; i < 4; i += 2 {
		if _, err := strconv.Atoi(string(args[i+1])); err != nil {
			return Error("Expecting integer value for asset holding")
		}
		if err := stub.PutState(string(args[i]), args[i+1]); err != nil {
			return Error(err.Error())
		}
	}
	return Success(nil)
}

// Invoke dispatches the function
func (t *ExampleCC) Invoke(stub *MockStub, fcn string, args [][]byte) *pb.Response {
	switch fcn {
	case "move":
		return t.move(stub, args)
	case "query":
		return t.query(stub, args)
	default:
		return Error("Unknown function call: " + fcn + ". Expecting \"move\" \"query\"")
	}
}

func (t *ExampleCC) move(stub *MockStub, args [][]byte) *pb.Response {
	if len(args) != 3 {
		return Error("Incorrect number of arguments. Expecting 3")
	}

	a, b := string(args[0]), string(args[1])
	aval, err := t.value(stub, a)
	if err != nil {
		return Error(err.Error())
	}
	bval, err := t.value(stub, b)
	if err != nil {
		return Error(err.Error())
	}
	x, err := strconv.Atoi(string(args[2]))
	if err != nil {
		return Error("Invalid transaction amount, expecting a integer value")
	}

	if err := stub.PutState(a, []byte(strconv.Itoa(aval-x))); err != nil {
		return Error(err.Error())
	}
	if err := stub.PutState(b, []byte(strconv.Itoa(bval+x))); err != nil {
		return Error(err.Error())
	}
	return Success(nil)
}

func (t *ExampleCC) query(stub *MockStub, args [][]byte) *pb.Response {
	if len(args) != 1 {
		return Error("Incorrect number of arguments. Expecting name of the person to query")
	}
	value, err := stub.GetState(string(args[0]))
	if err != nil {
		return Error(err.Error())
	}
	if value == nil {
		return Error("Nil amount for " + string(args[0]))
	}
	return Success(value)
}

func (t *ExampleCC) value(stub *MockStub, key string) (int, error) {
	b, err := stub.GetState(key)
	if err != nil {
		return 0, err
	}
	if b == nil {
		return 0, errEntityNotFound(key)
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

type errEntityNotFound string

func (e errEntityNotFound) Error() string {
	return "Entity not found: " + string(e)
}
