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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGovernance/pkg/ux"
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/project"
)

func newProjectCmd(g *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create, inspect and delete governed projects",
	}

	var name, root string
	createCmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Register a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				name = args[0]
			}
			p, err := g.client().CreateProject(cmd.Context(), project.CreateRequest{ID: args[0], Name: name, RootPath: root})
			if err != nil {
				return err
			}
			if ok, err := g.emitJSON(cmd, p); ok {
				return err
			}
			out := g.printer(cmd)
			out.Success(fmt.Sprintf("project %s created", p.ID))
			printProject(out, p)
			return nil
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "display name (defaults to the id)")
	createCmd.Flags().StringVar(&root, "root", "", "source root path")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			projects, err := g.client().ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if ok, err := g.emitJSON(cmd, projects); ok {
				return err
			}
			out := g.printer(cmd)
			out.Title("Projects")
			if len(projects) == 0 {
				out.Warning("no projects registered")
				return nil
			}
			for _, p := range projects {
				icon := ux.IconPending
				if p.Focused {
					icon = ux.IconAnchor
				}
				out.Status(icon, p.ID, p.Name)
			}
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.client().GetProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ok, err := g.emitJSON(cmd, p); ok {
				return err
			}
			printProject(g.printer(cmd), p)
			return nil
		},
	}

	focusCmd := &cobra.Command{
		Use:   "focus <id>",
		Short: "Mark a project as the focused one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.client().FocusProject(cmd.Context(), args[0]); err != nil {
				return err
			}
			g.printer(cmd).Success(fmt.Sprintf("focused %s", args[0]))
			return nil
		},
	}

	var yes bool
	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project with its plans, activity and drift history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				ok, err := ux.Confirm(
					fmt.Sprintf("Delete project %s?", args[0]),
					"Plans, activity, drift history and the project's vector partition are removed.")
				if errors.Is(err, ux.ErrNotInteractive) {
					return errors.New("refusing to delete without confirmation; pass --yes")
				}
				if err != nil {
					return err
				}
				if !ok {
					g.printer(cmd).Warning("aborted")
					return nil
				}
			}
			if err := g.client().DeleteProject(cmd.Context(), args[0]); err != nil {
				return err
			}
			g.printer(cmd).Success(fmt.Sprintf("project %s deleted", args[0]))
			return nil
		},
	}
	deleteCmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	var k int
	searchCmd := &cobra.Command{
		Use:   "search <id> <query...>",
		Short: "Search a project's plan chunks",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			matches, err := g.client().Search(cmd.Context(), args[0], strings.Join(args[1:], " "), k)
			if err != nil {
				return err
			}
			if ok, err := g.emitJSON(cmd, matches); ok {
				return err
			}
			out := g.printer(cmd)
			if len(matches) == 0 {
				out.Warning("no matches")
				return nil
			}
			for _, m := range matches {
				out.Status(ux.IconSuccess, fmt.Sprintf("%.3f", m.Distance), m.ID)
				out.Box(m.Metadata["title"], m.Text)
			}
			return nil
		},
	}
	searchCmd.Flags().IntVarP(&k, "top", "k", 5, "number of matches")

	cmd.AddCommand(createCmd, listCmd, getCmd, focusCmd, deleteCmd, searchCmd)
	return cmd
}

func printProject(out *ux.Printer, p *datatypes.Project) {
	out.Field("id", p.ID)
	out.Field("name", p.Name)
	if p.RootPath != "" {
		out.Field("root", p.RootPath)
	}
	out.Field("created", p.CreatedAt.Format(time.RFC3339))
	if p.Focused {
		out.Field("focused", "yes")
	}
}
