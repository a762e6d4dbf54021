// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command governance starts the Aleutian governance server.
//
// # Usage
//
//	# Run with defaults (badger at ./data/governance, embeddings over HTTP)
//	governance serve
//
//	# Run from a config file with hot reload of drift thresholds
//	governance serve --config governance.yaml
//
//	# Validate a config file and print the merged result
//	governance config check --config governance.yaml
//
// # Environment Variables
//
//   - GOVERNANCE_API_TOKEN: bearer token for /v1 (auth disabled when unset)
//   - GOVERNANCE_APPROVAL_SECRET: secondary approval secret
//   - GOVERNANCE_* overrides listed in services/governance/config
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianGovernance/services/governance"
	"github.com/AleutianAI/AleutianGovernance/services/governance/config"
)

var configPath string

var (
	rootCmd = &cobra.Command{
		Use:   "governance",
		Short: "Sacred Plan governance and drift detection server",
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the governance HTTP server and drift monitor",
		RunE:  runServe,
	}
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	configCheckCmd = &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the merged result",
		RunE:  runConfigCheck,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to governance YAML config")
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(serveCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("governance: %v", err)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	svc, err := governance.New(cfg, governance.Options{ConfigPath: configPath})
	if err != nil {
		return fmt.Errorf("init governance service: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return svc.Run(ctx)
}

func runConfigCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
