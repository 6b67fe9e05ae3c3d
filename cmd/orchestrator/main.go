// Package main is the entry point for the orchestrator control plane.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	serviceName    = "orchd"
	serviceVersion = "0.1.0"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   serviceName,
		Short: "Distributed compute orchestrator control plane",
		Long:  "orchd owns scheduling configuration, node command dispatch, GPU setup, and the event log shared by every capacity and placement decision.",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (optional; env vars and defaults also apply)")

	cmd.AddCommand(
		newServeCommand(&configPath),
		newMigrateCommand(&configPath),
		newVersionCommand(),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%s %s\n", serviceName, serviceVersion)
			return nil
		},
	}
}
