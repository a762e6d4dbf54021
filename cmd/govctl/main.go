// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command govctl is the command-line client for the governance server.
//
// # Usage
//
//	govctl project create storage-svc --name "Storage Service"
//	govctl plan create storage-svc --title "Storage" --file plan.md
//	govctl plan approve storage-svc <plan-id>
//	govctl plan lock storage-svc <plan-id>
//	govctl activity record storage-svc --diff changes.diff
//	govctl drift run storage-svc
//	govctl drift watch storage-svc
//
// # Environment Variables
//
//   - GOVCTL_SERVER: server base URL (default http://localhost:12230)
//   - GOVERNANCE_API_TOKEN: bearer token sent with every request
//   - GOVERNANCE_APPROVAL_SECRET: secondary key read by "plan approve"
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGovernance/pkg/ux"
)

const defaultServer = "http://localhost:12230"

// cli holds the global flags shared by every subcommand.
type cli struct {
	server  string
	token   string
	plain   bool
	json    bool
	timeout time.Duration
}

func (g *cli) client() *Client {
	c := NewClient(g.server, g.token)
	c.HTTP.Timeout = g.timeout
	return c
}

func (g *cli) printer(cmd *cobra.Command) *ux.Printer {
	out := cmd.OutOrStdout()
	machine := g.plain
	if f, ok := out.(*os.File); ok && !ux.IsTerminal(f) {
		machine = true
	}
	return &ux.Printer{Out: out, Machine: machine}
}

// emitJSON writes v as indented JSON and reports whether --json was set.
func (g *cli) emitJSON(cmd *cobra.Command, v any) (bool, error) {
	if !g.json {
		return false, nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return true, enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	g := &cli{}
	root := &cobra.Command{
		Use:           "govctl",
		Short:         "Manage Sacred Plans, approvals and drift for governed projects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.server, "server", envOr("GOVCTL_SERVER", defaultServer), "governance server base URL")
	pf.StringVar(&g.token, "token", os.Getenv("GOVERNANCE_API_TOKEN"), "API bearer token")
	pf.BoolVar(&g.plain, "plain", false, "plain, line-oriented output")
	pf.BoolVar(&g.json, "json", false, "print raw JSON responses")
	pf.DurationVar(&g.timeout, "timeout", 60*time.Second, "request timeout")

	root.AddCommand(
		newProjectCmd(g),
		newPlanCmd(g),
		newActivityCmd(g),
		newDriftCmd(g),
		newAuditCmd(g),
	)
	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ux.IconError.Render(), err)
		os.Exit(1)
	}
}
