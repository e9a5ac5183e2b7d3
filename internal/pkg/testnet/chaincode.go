/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package testnet

import (
	"strconv"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
)

// DefaultInitArgs initialize every user chaincode of the network unless
// Config.ChaincodeInitArgs is set.
var DefaultInitArgs = []string{"a", "100", "b", "200"}

// AssetTransfer is the chaincode run for user chaincode proposals. It keeps
// integer holdings of named entities and moves units between them.
type AssetTransfer struct{}

// Init expects two entity/holding pairs.
func (AssetTransfer) Init(stub shim.ChaincodeStubInterface) pb.Response {
	_, args := stub.GetFunctionAndParameters()
	if len(args) != 4 {
		return shim.Error("Incorrect number of arguments. Expecting 4")
	}
	for i := 0; i < 4; i += 2 {
		if _, err := strconv.Atoi(args[i+1]); err != nil {
			return shim.Error("Expecting integer value for asset holding")
		}
		if err := stub.PutState(args[i], []byte(args[i+1])); err != nil {
			return shim.Error(err.Error())
		}
	}
	return shim.Success(nil)
}

// Invoke dispatches move (alias invoke), query and delete.
func (t AssetTransfer) Invoke(stub shim.ChaincodeStubInterface) pb.Response {
	function, args := stub.GetFunctionAndParameters()
	switch function {
	case "move", "invoke":
		return t.move(stub, args)
	case "query":
		return t.query(stub, args)
	case "delete":
		return t.delete(stub, args)
	default:
		return shim.Error(`Invalid invoke function name. Expecting "move", "invoke", "query" or "delete"`)
	}
}

func (AssetTransfer) holding(stub shim.ChaincodeStubInterface, name string) (int, error) {
	b, err := stub.GetState(name)
	if err != nil {
		return 0, err
	}
	if b == nil {
		return 0, errEntityNotFound
	}
	return strconv.Atoi(string(b))
}

var errEntityNotFound = errors.New("Entity not found")

func (t AssetTransfer) move(stub shim.ChaincodeStubInterface, args []string) pb.Response {
	if len(args) != 3 {
		return shim.Error("Incorrect number of arguments. Expecting 3")
	}
	aval, err := t.holding(stub, args[0])
	if err != nil {
		return shim.Error(err.Error())
	}
	bval, err := t.holding(stub, args[1])
	if err != nil {
		return shim.Error(err.Error())
	}
	x, err := strconv.Atoi(args[2])
	if err != nil {
		return shim.Error("Invalid transaction amount, expecting a integer value")
	}
	if x > aval {
		return shim.Error("Insufficient holding of " + args[0])
	}

	if err := stub.PutState(args[0], []byte(strconv.Itoa(aval-x))); err != nil {
		return shim.Error(err.Error())
	}
	if err := stub.PutState(args[1], []byte(strconv.Itoa(bval+x))); err != nil {
		return shim.Error(err.Error())
	}
	return shim.Success(nil)
}

func (AssetTransfer) query(stub shim.ChaincodeStubInterface, args []string) pb.Response {
	if len(args) != 1 {
		return shim.Error("Incorrect number of arguments. Expecting name of the person to query")
	}
	b, err := stub.GetState(args[0])
	if err != nil {
		return shim.Error(`{"Error":"Failed to get state for ` + args[0] + `"}`)
	}
	if b == nil {
		return shim.Error(`{"Error":"Nil amount for ` + args[0] + `"}`)
	}
	return shim.Success(b)
}

func (AssetTransfer) delete(stub shim.ChaincodeStubInterface, args []string) pb.Response {
	if len(args) != 1 {
		return shim.Error("Incorrect number of arguments. Expecting 1")
	}
	if err := stub.DelState(args[0]); err != nil {
		return shim.Error("Failed to delete state")
	}
	return shim.Success(nil)
}

// invokeChaincode runs a user chaincode proposal through the mock stub of
// channelID and chaincode, initializing the stub on first use.
func (n *Network) invokeChaincode(channelID, chaincode, txID string, args [][]byte) *pb.Response {
	n.ccMutex.Lock()
	defer n.ccMutex.Unlock()

	key := channelID + "/" + chaincode
	stub, ok := n.stubs[key]
	if !ok {
		stub = shimtest.NewMockStub(chaincode, n.config.Chaincode)
		stub.ChannelID = channelID
		initArgs := [][]byte{[]byte("init")}
		for _, arg := range n.config.ChaincodeInitArgs {
			initArgs = append(initArgs, []byte(arg))
		}
		if resp := stub.MockInit(txID+"-init", initArgs); resp.Status != shim.OK {
			return &pb.Response{Status: resp.Status, Message: "chaincode initialization failed: " + resp.Message}
		}
		n.stubs[key] = stub
	}

	resp := stub.MockInvoke(txID, args)
	return &resp
}

// State returns the value of key in the world state of chaincode on
// channelID, or nil when the chaincode has not been invoked there.
func (n *Network) State(channelID, chaincode, key string) []byte {
	n.ccMutex.Lock()
	defer n.ccMutex.Unlock()
	stub, ok := n.stubs[channelID+"/"+chaincode]
	if !ok {
		return nil
	}
	return stub.State[key]
}
