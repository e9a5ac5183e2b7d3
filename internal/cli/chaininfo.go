/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cli

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func chainInfoCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "chaininfo",
		Short: "Print the blockchain information of the channel.",
		Long:  "Constructs the channel and asks its ledger query peers for the height and block hashes.",
		Args:  noArgs,
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

			info, err := h.Channel.QueryBlockchainInfo(ctx)
			if err != nil {
				return err
			}
			jsonBytes, err := json.Marshal(info)
			if err != nil {
				return errors.Wrap(err, "failed to encode blockchain info")
			}
			fprintf(cmd.OutOrStdout(), "Blockchain info: %s\n", jsonBytes)
			return nil
		},
	}
}
