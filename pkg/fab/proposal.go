/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

import (
	"time"

	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
)

// TransactionProposalRequest describes a chaincode invocation.
type TransactionProposalRequest struct {
	ChaincodeName    string
	ChaincodeVersion string
	ChaincodePath    string
	ChaincodeType    pb.ChaincodeSpec_Type
	Fcn              string
	Args             []string
	ArgBytes         [][]byte
	TransientMap     map[string][]byte
	ProposalWaitTime time.Duration
}

func (r *TransactionProposalRequest) validate() error {
	if r == nil {
		return errors.New("proposal request is nil")
	}
	if r.ChaincodeName == "" {
		return errors.New("proposal request has no chaincode name")
	}
	if r.Fcn == "" {
		return errors.New("proposal request has no function")
	}
	return nil
}

func (r *TransactionProposalRequest) invocationSpec() *pb.ChaincodeInvocationSpec {
	args := make([][]byte, 0, 1+len(r.Args)+len(r.ArgBytes))
	args = append(args, []byte(r.Fcn))
	for _, a := range r.Args {
		args = append(args, []byte(a))
	}
	args = append(args, r.ArgBytes...)

	ccType := r.ChaincodeType
	if ccType == pb.ChaincodeSpec_UNDEFINED {
		ccType = pb.ChaincodeSpec_GOLANG
	}
	return &pb.ChaincodeInvocationSpec{
		ChaincodeSpec: &pb.ChaincodeSpec{
			Type: ccType,
			ChaincodeId: &pb.ChaincodeID{
				Name:    r.ChaincodeName,
				Version: r.ChaincodeVersion,
				Path:    r.ChaincodePath,
			},
			Input: &pb.ChaincodeInput{Args: args},
		},
	}
}

func (r *TransactionProposalRequest) waitTime() time.Duration {
	if r.ProposalWaitTime <= 0 {
		return DefaultProposalWaitTime
	}
	return r.ProposalWaitTime
}

// ResponseStatus is the outcome of a proposal at one peer.
type ResponseStatus int

const (
	ResponseSuccess ResponseStatus = iota
	ResponseFailure
)

func (s ResponseStatus) String() string {
	if s == ResponseSuccess {
		return "SUCCESS"
	}
	return "FAILURE"
}

// ProposalResponse is one peer's answer to a transaction proposal.
type ProposalResponse struct {
	Peer     *Peer
	TxID     string
	Status   ResponseStatus
	Message  string
	Response *pb.ProposalResponse
	Err      error
}

// HasEndorsement reports whether the peer attached an endorsement. The
// endorsement signature is not checked.
func (pr *ProposalResponse) HasEndorsement() bool {
	return pr.Status == ResponseSuccess && pr.Response != nil && pr.Response.Endorsement != nil
}

// Payload returns the chaincode response payload.
func (pr *ProposalResponse) Payload() []byte {
	if pr.Response == nil || pr.Response.Response == nil {
		return nil
	}
	return pr.Response.Response.Payload
}
