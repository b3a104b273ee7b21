package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
	principal  string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mgmtctl",
		Short: "Management core - transactional resource model",
		Long: `mgmtctl drives a management core: a hierarchical resource model changed
through staged, transactional operations.

Features:
  - Resource descriptions in CUE
  - Scripted operations in Starlark
  - Staged MODEL, RUNTIME and VERIFY execution with rollback
  - Notifications for every attribute change
  - Rego authorization policies
  - SQLite persistence with a notification journal and audit trail`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&principal, "principal", "", "principal the operations run as")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newReadCommand())
	rootCmd.AddCommand(newNotificationsCommand())
	rootCmd.AddCommand(newAuditCommand())

	return rootCmd
}

// printValue writes v as indented JSON with --json and as YAML otherwise.
func printValue(w io.Writer, v any) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	// Round-trip through JSON so YAML sees the wire form of addresses and
	// operations.
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var plain any
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	out, err := yaml.Marshal(plain)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
