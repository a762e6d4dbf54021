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
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGovernance/pkg/ux"
	"github.com/AleutianAI/AleutianGovernance/services/governance/activity"
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/monitor"
)

func newActivityCmd(g *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Record and list project activity",
	}

	var text, diffFile, source string
	recordCmd := &cobra.Command{
		Use:   "record <project>",
		Short: "Record a text note or a unified diff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := activity.RecordRequest{Kind: activity.KindText, Text: text, Source: source}
			if diffFile != "" {
				body, err := readContent(cmd, "", diffFile)
				if err != nil {
					return err
				}
				req.Kind = activity.KindDiff
				req.Text = body
			}
			if strings.TrimSpace(req.Text) == "" {
				return errors.New("nothing to record; use --text or --diff")
			}
			it, err := g.client().RecordActivity(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			if ok, err := g.emitJSON(cmd, it); ok {
				return err
			}
			out := g.printer(cmd)
			out.Success(fmt.Sprintf("recorded %s %s", it.Kind, it.ID))
			if len(it.Files) > 0 {
				out.Field("files", strings.Join(it.Files, ", "))
			}
			return nil
		},
	}
	recordCmd.Flags().StringVar(&text, "text", "", "free-form activity text")
	recordCmd.Flags().StringVar(&diffFile, "diff", "", "unified diff file (\"-\" for stdin)")
	recordCmd.Flags().StringVar(&source, "source", "govctl", "source label")

	var since time.Duration
	listCmd := &cobra.Command{
		Use:   "list <project>",
		Short: "List recent activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := g.client().ListActivity(cmd.Context(), args[0], since)
			if err != nil {
				return err
			}
			if ok, err := g.emitJSON(cmd, items); ok {
				return err
			}
			out := g.printer(cmd)
			if len(items) == 0 {
				out.Warning("no activity in window")
				return nil
			}
			for _, it := range items {
				out.Status(ux.IconPending, it.RecordedAt.Format(time.RFC3339), it.Kind+"  "+firstLine(it.Text))
			}
			return nil
		},
	}
	listCmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to list")

	cmd.AddCommand(recordCmd, listCmd)
	return cmd
}

func newDriftCmd(g *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Analyze and watch drift against the locked plan",
	}

	runCmd := &cobra.Command{
		Use:   "run <project>",
		Short: "Analyze recent activity now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.client().AnalyzeDrift(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return g.showAnalysis(cmd, a)
		},
	}

	latestCmd := &cobra.Command{
		Use:   "latest <project>",
		Short: "Show the most recent analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.client().LatestDrift(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return g.showAnalysis(cmd, a)
		},
	}

	var n int
	historyCmd := &cobra.Command{
		Use:   "history <project>",
		Short: "Show recent analyses, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := g.client().DriftHistory(cmd.Context(), args[0], n)
			if err != nil {
				return err
			}
			if ok, err := g.emitJSON(cmd, hist); ok {
				return err
			}
			out := g.printer(cmd)
			if len(hist) == 0 {
				out.Warning("no analyses yet")
				return nil
			}
			for _, a := range hist {
				out.Status(ux.DriftIcon(string(a.Status)), string(a.Status),
					fmt.Sprintf("%.3f  %s", a.Score, a.AnalyzedAt.Format(time.RFC3339)))
			}
			return nil
		},
	}
	historyCmd.Flags().IntVarP(&n, "count", "n", 10, "number of analyses")

	watchCmd := &cobra.Command{
		Use:   "watch <project>",
		Short: "Stream drift alerts until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := g.printer(cmd)
			out.Title("Watching " + args[0])
			// The stream is long-lived, so the request timeout does not apply.
			c := g.client()
			c.HTTP.Timeout = 0
			return c.WatchAlerts(ctx, args[0], func(a monitor.Alert) {
				if ok, _ := g.emitJSON(cmd, a); ok {
					return
				}
				detail := fmt.Sprintf("%.3f plan %s", a.Score, a.PlanID)
				if a.PreviousStatus != "" {
					detail += " (was " + string(a.PreviousStatus) + ")"
				}
				out.Status(ux.DriftIcon(string(a.Status)), string(a.Status), detail)
				for _, v := range a.Violations {
					out.Field("  "+string(v.Severity), v.Description)
				}
			})
		},
	}

	cmd.AddCommand(runCmd, latestCmd, historyCmd, watchCmd)
	return cmd
}

func (g *cli) showAnalysis(cmd *cobra.Command, a *datatypes.DriftAnalysis) error {
	if ok, err := g.emitJSON(cmd, a); ok {
		return err
	}
	out := g.printer(cmd)
	out.Status(ux.DriftIcon(string(a.Status)), string(a.Status), a.ProjectID)
	out.Field("plan", a.PlanID)
	if out.Machine {
		out.Field("score", fmt.Sprintf("%.3f", a.Score))
	} else {
		out.Field("score", ux.ScoreBar(a.Score, 20))
	}
	out.Field("analyzed", a.AnalyzedAt.Format(time.RFC3339))
	if len(a.Violations) > 0 {
		var b strings.Builder
		for i, v := range a.Violations {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "[%s] %s: %s", v.Severity, v.Kind, v.Description)
		}
		out.WarningBox("Violations", b.String())
	}
	if len(a.Recommendations) > 0 {
		out.Box("Recommendations", "- "+strings.Join(a.Recommendations, "\n- "))
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const limit = 72
	if len(s) > limit {
		s = s[:limit-3] + "..."
	}
	return s
}
