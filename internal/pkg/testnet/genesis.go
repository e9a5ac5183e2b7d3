/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package testnet

import (
	cb "github.com/hyperledger/fabric-protos-go/common"
	mspprotos "github.com/hyperledger/fabric-protos-go/msp"
	"github.com/tebon/fabrictest/protoutil"
)

// Org is an application organization of the test network.
type Org struct {
	Name     string
	MSPID    string
	RootCert []byte
}

// ConfigBlock returns block 0 of channelID: a config block naming orgs as
// the application organizations and addresses as the orderer endpoints.
func ConfigBlock(channelID string, orgs []Org, addresses []string) *cb.Block {
	config := channelConfig(orgs, addresses)
	env, err := protoutil.CreateSignedEnvelope(cb.HeaderType_CONFIG, channelID, nil, &cb.ConfigEnvelope{Config: config}, 0, 0)
	if err != nil {
		panic(err)
	}

	block := protoutil.NewBlock(0, nil)
	block.Data.Data = [][]byte{protoutil.MarshalOrPanic(env)}
	setLastConfig(block, 0)
	block.Metadata.Metadata[cb.BlockMetadataIndex_LAST_CONFIG] = protoutil.MarshalOrPanic(&cb.Metadata{
		Value: protoutil.MarshalOrPanic(&cb.LastConfig{Index: 0}),
	})
	return block
}

// ChannelCreationTx returns a marshaled unsigned CONFIG_UPDATE envelope that
// creates channelID, in the form of a configtxgen .tx file.
func ChannelCreationTx(channelID string) []byte {
	env, err := protoutil.CreateSignedEnvelope(cb.HeaderType_CONFIG_UPDATE, channelID, nil, &cb.ConfigUpdateEnvelope{
		ConfigUpdate: protoutil.MarshalOrPanic(&cb.ConfigUpdate{ChannelId: channelID}),
	}, 0, 0)
	if err != nil {
		panic(err)
	}
	return protoutil.MarshalOrPanic(env)
}

func channelConfig(orgs []Org, addresses []string) *cb.Config {
	ordererAddresses := &cb.ConfigValue{
		Value:     protoutil.MarshalOrPanic(&cb.OrdererAddresses{Addresses: addresses}),
		ModPolicy: "/Channel/Orderer/Admins",
	}

	application := &cb.ConfigGroup{
		Groups:    map[string]*cb.ConfigGroup{},
		ModPolicy: "Admins",
	}
	for _, org := range orgs {
		application.Groups[org.Name] = &cb.ConfigGroup{
			Values: map[string]*cb.ConfigValue{
				"MSP": mspValue(org),
			},
			ModPolicy: "Admins",
		}
	}

	return &cb.Config{
		ChannelGroup: &cb.ConfigGroup{
			Groups: map[string]*cb.ConfigGroup{
				"Application": application,
				"Orderer": {
					Groups: map[string]*cb.ConfigGroup{
						"OrdererOrg": {
							Values: map[string]*cb.ConfigValue{
								"Endpoints": ordererAddresses,
							},
							ModPolicy: "Admins",
						},
					},
					ModPolicy: "Admins",
				},
			},
			Values: map[string]*cb.ConfigValue{
				"OrdererAddresses": ordererAddresses,
			},
			ModPolicy: "Admins",
		},
	}
}

func mspValue(org Org) *cb.ConfigValue {
	fabricConfig := &mspprotos.FabricMSPConfig{
		Name:      org.MSPID,
		RootCerts: [][]byte{org.RootCert},
		CryptoConfig: &mspprotos.FabricCryptoConfig{
			SignatureHashFamily:            "SHA2",
			IdentityIdentifierHashFunction: "SHA256",
		},
	}
	return &cb.ConfigValue{
		Value: protoutil.MarshalOrPanic(&mspprotos.MSPConfig{
			Type:   0,
			Config: protoutil.MarshalOrPanic(fabricConfig),
		}),
		ModPolicy: "Admins",
	}
}
