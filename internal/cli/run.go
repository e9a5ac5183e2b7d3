/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cli

import (
	"encoding/hex"
	"strings"

	"github.com/spf13/cobra"
)

func runCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Set up the organization and construct the channel.",
		Long: "Enrolls the CA admin unless the stored admin is already enrolled, loads the peer admin " +
			"from the crypto material, joins the peers to the channel and initializes it.",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.load(cmd); err != nil {
				return err
			}
			ctx, cancel := env.context(cmd)
			defer cancel()

			h, err := env.harness(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			ch := h.Channel
			out := cmd.OutOrStdout()
			fprintf(out, "Channel %s initialized\n", ch.Name())
			fprintf(out, "Organizations: %s\n", strings.Join(ch.MSPIDs(), ", "))
			fprintf(out, "Orderers: %s\n", strings.Join(ch.OrdererAddresses(), ", "))

			info, err := ch.QueryBlockchainInfo(ctx)
			if err != nil {
				return err
			}
			fprintf(out, "Channel info for : %s\n", ch.Name())
			fprintf(out, "Channel height: %d\n", info.Height)
			fprintf(out, "Chain current block hash: %s\n", hex.EncodeToString(info.CurrentBlockHash))
			fprintf(out, "Chain previous block hash: %s\n", hex.EncodeToString(info.PreviousBlockHash))
			return nil
		},
	}
}
