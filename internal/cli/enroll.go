/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cli

import (
	"github.com/spf13/cobra"
	"github.com/tebon/fabrictest/internal/scenario"
)

func enrollCmd(env *Env) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll the CA admin and load the peer admin into the member store.",
		Long: "Enrolls the preregistered CA admin unless the stored admin is already enrolled, " +
			"then loads the organization's peer admin from the crypto material.",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.load(cmd); err != nil {
				return err
			}
			ctx, cancel := env.context(cmd)
			defer cancel()

			h, err := scenario.New(env.Config)
			if err != nil {
				return err
			}
			defer h.Close()

			if force {
				if admin, err := h.Store.GetMember(env.Config.CA.Admin, env.Config.Org.Name); err == nil && admin.IsEnrolled() {
					admin.Enrollment = nil
					if err := h.Store.Save(admin); err != nil {
						return err
					}
				}
			}

			o, err := h.SetupOrg(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fprintf(out, "CA admin %s enrolled with MSP ID %s\n", o.Admin.Name, o.Admin.MSPID)
			fprintf(out, "Peer admin %s enrolled with MSP ID %s\n", o.PeerAdmin.Name, o.PeerAdmin.MSPID)
			fprintf(out, "Member store: %s\n", h.Store.Dir())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "enroll the CA admin again even when the stored admin is enrolled")
	return cmd
}
