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
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGovernance/pkg/ux"
	"github.com/AleutianAI/AleutianGovernance/services/governance/handlers"
	"github.com/AleutianAI/AleutianGovernance/services/governance/plan"
)

// readContent returns inline when set, otherwise the contents of path.
// A path of "-" reads stdin.
func readContent(cmd *cobra.Command, inline, path string) (string, error) {
	if inline != "" {
		return inline, nil
	}
	if path == "" {
		return "", nil
	}
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func newPlanCmd(g *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Author, approve and lock Sacred Plans",
	}

	var title, content, file, supersedes string
	createCmd := &cobra.Command{
		Use:   "create <project>",
		Short: "Create a draft plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readContent(cmd, content, file)
			if err != nil {
				return err
			}
			if body == "" {
				return errors.New("plan content is required; use --content or --file")
			}
			v, err := g.client().CreatePlan(cmd.Context(), args[0], plan.CreateRequest{
				Title: title, Content: body, Supersedes: supersedes,
			})
			if err != nil {
				return err
			}
			return g.showPlan(cmd, v, fmt.Sprintf("draft %s created", v.ID))
		},
	}
	createCmd.Flags().StringVar(&title, "title", "", "plan title")
	createCmd.Flags().StringVar(&content, "content", "", "plan content")
	createCmd.Flags().StringVarP(&file, "file", "f", "", "read content from a file (\"-\" for stdin)")
	createCmd.Flags().StringVar(&supersedes, "supersedes", "", "id of the locked plan this one replaces")
	_ = createCmd.MarkFlagRequired("title")

	listCmd := &cobra.Command{
		Use:   "list <project>",
		Short: "List a project's plans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plans, err := g.client().ListPlans(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ok, err := g.emitJSON(cmd, plans); ok {
				return err
			}
			out := g.printer(cmd)
			out.Title("Plans for " + args[0])
			if len(plans) == 0 {
				out.Warning("no plans")
				return nil
			}
			for _, p := range plans {
				out.Status(ux.PlanStateIcon(string(p.State)), string(p.State), p.ID+"  "+p.Title)
			}
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <project> <plan>",
		Short: "Show a plan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := g.client().GetPlan(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return g.showPlan(cmd, v, "")
		},
	}

	activeCmd := &cobra.Command{
		Use:   "active <project>",
		Short: "Show the project's locked plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := g.client().ActivePlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return g.showPlan(cmd, v, "")
		},
	}

	var newTitle, newContent, newFile string
	updateCmd := &cobra.Command{
		Use:   "update <project> <plan>",
		Short: "Edit a draft or pending plan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readContent(cmd, newContent, newFile)
			if err != nil {
				return err
			}
			v, err := g.client().UpdatePlan(cmd.Context(), args[0], args[1], plan.UpdateRequest{Title: newTitle, Content: body})
			if err != nil {
				return err
			}
			return g.showPlan(cmd, v, "plan updated")
		},
	}
	updateCmd.Flags().StringVar(&newTitle, "title", "", "new title")
	updateCmd.Flags().StringVar(&newContent, "content", "", "new content")
	updateCmd.Flags().StringVarP(&newFile, "file", "f", "", "read new content from a file (\"-\" for stdin)")

	requestCmd := &cobra.Command{
		Use:   "request-approval <project> <plan>",
		Short: "Submit a plan for approval and issue a verification code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := g.client().RequestApproval(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if ok, err := g.emitJSON(cmd, ch); ok {
				return err
			}
			out := g.printer(cmd)
			out.Success("approval requested")
			out.Field("code", ch.Code)
			out.Field("expires", ch.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	var code, secretEnv string
	approveCmd := &cobra.Command{
		Use:   "approve <project> <plan>",
		Short: "Approve a plan with its verification code and the secondary key",
		Long: `Approve a plan. Without --code a fresh challenge is requested and
the code is prompted for. The secondary key is read from the environment
variable named by --secondary-key-env, or prompted for when unset.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := g.client()
			out := g.printer(cmd)
			v, err := c.GetPlan(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			in := ux.ApprovalInput{Code: code, SecondaryKey: os.Getenv(secretEnv)}
			if in.Code == "" {
				ch, err := c.RequestApproval(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				out.Box("Verification code", fmt.Sprintf("%s\nexpires %s", ch.Code, ch.ExpiresAt.Format(time.Kitchen)))
			}
			in, err = ux.PromptApproval(v.Title, in)
			if errors.Is(err, ux.ErrNotInteractive) {
				return fmt.Errorf("pass --code and set %s to approve non-interactively", secretEnv)
			}
			if err != nil {
				return err
			}
			res, err := c.ApprovePlan(cmd.Context(), args[0], args[1], in.Code, in.SecondaryKey)
			if err != nil {
				return err
			}
			if ok, err := g.emitJSON(cmd, res); ok {
				return err
			}
			out.Success(fmt.Sprintf("plan %s approved by %s", res.Plan.ID, res.ApprovedBy))
			return nil
		},
	}
	approveCmd.Flags().StringVar(&code, "code", "", "8-digit verification code")
	approveCmd.Flags().StringVar(&secretEnv, "secondary-key-env", "GOVERNANCE_APPROVAL_SECRET", "environment variable holding the secondary key")

	var reason string
	rejectCmd := &cobra.Command{
		Use:   "reject <project> <plan>",
		Short: "Reject a pending plan back to draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := g.client().RejectPlan(cmd.Context(), args[0], args[1], reason)
			if err != nil {
				return err
			}
			return g.showPlan(cmd, v, "plan rejected")
		},
	}
	rejectCmd.Flags().StringVar(&reason, "reason", "", "rejection reason")

	lockCmd := &cobra.Command{
		Use:   "lock <project> <plan>",
		Short: "Lock an approved plan as the project's Sacred Plan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := g.client().LockPlan(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return g.showPlan(cmd, v, "plan locked")
		},
	}

	integrityCmd := &cobra.Command{
		Use:   "integrity <project>",
		Short: "Verify the locked plan's content hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.client().VerifyIntegrity(cmd.Context(), args[0]); err != nil {
				return err
			}
			g.printer(cmd).Success("locked plan intact")
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, getCmd, activeCmd, updateCmd,
		requestCmd, approveCmd, rejectCmd, lockCmd, integrityCmd)
	return cmd
}

func (g *cli) showPlan(cmd *cobra.Command, v *handlers.PlanView, headline string) error {
	if ok, err := g.emitJSON(cmd, v); ok {
		return err
	}
	out := g.printer(cmd)
	if headline != "" {
		out.Success(headline)
	}
	out.Status(ux.PlanStateIcon(string(v.State)), string(v.State), v.ID)
	out.Field("project", v.ProjectID)
	out.Field("title", v.Title)
	out.Field("updated", v.UpdatedAt.Format(time.RFC3339))
	if v.ApprovedBy != "" {
		out.Field("approved by", v.ApprovedBy)
	}
	if v.Supersedes != "" {
		out.Field("supersedes", v.Supersedes)
	}
	if v.SupersededBy != "" {
		out.Field("superseded by", v.SupersededBy)
	}
	if v.ContentHash != "" {
		out.Field("hash", v.ContentHash)
	}
	out.Box(v.Title, v.Content)
	return nil
}
