// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGovernance/pkg/ux"
	"github.com/AleutianAI/AleutianGovernance/services/governance/approval"
)

// Audit commands operate on a local copy of the approval audit log, so they
// do not talk to the server.
func newAuditCmd(g *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Verify and archive the approval audit log",
	}

	verifyCmd := &cobra.Command{
		Use:   "verify <path>",
		Short: "Check the audit log's hash chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := approval.ReadAuditEntries(args[0])
			if err != nil {
				return err
			}
			valid, idx, err := approval.VerifyAuditFile(args[0])
			if err != nil {
				return err
			}
			out := g.printer(cmd)
			if !valid {
				e := entries[idx]
				out.WarningBox("Audit chain broken",
					fmt.Sprintf("entry %d (sequence %d, plan %s, %s) does not match its hash chain",
						idx, e.Sequence, e.PlanID, e.Action))
				return fmt.Errorf("audit chain broken at entry %d", idx)
			}
			out.Status(ux.IconSuccess, "chain intact", fmt.Sprintf("%d entries", len(entries)))
			return nil
		},
	}

	var bucket, prefix, creds string
	archiveCmd := &cobra.Command{
		Use:   "archive <path>",
		Short: "Upload the audit log to Cloud Storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if valid, idx, err := approval.VerifyAuditFile(args[0]); err != nil {
				return err
			} else if !valid {
				return fmt.Errorf("refusing to archive a broken chain (entry %d)", idx)
			}
			a, err := approval.NewGCSArchiver(cmd.Context(), bucket, prefix, creds)
			if err != nil {
				return err
			}
			defer a.Close()
			uri, err := a.Archive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			g.printer(cmd).Success("archived to " + uri)
			return nil
		},
	}
	archiveCmd.Flags().StringVar(&bucket, "bucket", "", "destination bucket")
	archiveCmd.Flags().StringVar(&prefix, "prefix", "governance/audit", "object name prefix")
	archiveCmd.Flags().StringVar(&creds, "credentials", "", "service account JSON (defaults to ADC)")
	_ = archiveCmd.MarkFlagRequired("bucket")

	cmd.AddCommand(verifyCmd, archiveCmd)
	return cmd
}
