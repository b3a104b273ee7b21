package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/mgmtcore/pkg/config"
	"github.com/openfroyo/mgmtcore/pkg/handlers"
	"github.com/openfroyo/mgmtcore/pkg/notify"
	"github.com/openfroyo/mgmtcore/pkg/policy"
	"github.com/openfroyo/mgmtcore/pkg/registry"
)

func newValidateCommand() *cobra.Command {
	var policyPaths []string

	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate resource descriptions and policies",
		Long: `Validate CUE resource descriptions and Rego policies without changing
anything.

This command checks:
  - CUE syntax and schema conformance of the descriptions
  - Attribute constraints, validators and defaults
  - Duplicate resource patterns and operation names
  - Compilation of the Rego policies

Descriptions are read from the given paths, or from the configured
descriptions when no path is given. Policies are read from --policy or the
configured policy paths.`,
		Example: `  # Validate the configured descriptions and policies
  mgmtctl validate

  # Validate a specific directory
  mgmtctl validate ./descriptions --policy ./policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sources := args
			if len(sources) == 0 {
				sources = cfg.Descriptions
			}
			if len(policyPaths) == 0 {
				policyPaths = cfg.Policy.Paths
			}

			w := cmd.OutOrStdout()
			problems := 0

			if len(sources) > 0 {
				log.Info().Strs("sources", sources).Msg("Validating resource descriptions")
				descs, err := config.NewDescriptionLoader(log.Logger).Load(sources)
				if err != nil {
					return err
				}
				for _, e := range descs.Errors {
					fmt.Fprintf(w, "%s\n", e)
				}
				problems += len(descs.Errors)

				if !descs.HasErrors() {
					reg := registry.New()
					h := handlers.New(reg, notify.NewService(notify.WithLogger(log.Logger)))
					if err := h.Register(); err != nil {
						return err
					}
					if err := descs.Apply(reg, h); err != nil {
						fmt.Fprintf(w, "%s\n", err)
						problems++
					} else {
						fmt.Fprintf(w, "✓ %d resource(s), %d operation(s) in %d file(s)\n",
							len(descs.Resources), len(descs.Operations), len(descs.SourceFiles))
					}
				}
			}

			if len(policyPaths) > 0 {
				log.Info().Strs("paths", policyPaths).Msg("Validating policies")
				policies, err := policy.NewLoader(log.Logger).LoadFromPaths(ctx, policyPaths)
				if err != nil {
					fmt.Fprintf(w, "%s\n", err)
					problems++
				} else {
					pe, err := policy.NewEngine(log.Logger, policy.WithData(cfg.Policy.Data))
					if err != nil {
						return err
					}
					if err := pe.ReplacePolicies(ctx, policies); err != nil {
						fmt.Fprintf(w, "%s\n", err)
						problems++
					} else {
						fmt.Fprintf(w, "✓ %d policy file(s)\n", len(policies))
					}
				}
			}

			if problems > 0 {
				return fmt.Errorf("validation failed with %d problem(s)", problems)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "policy file or directory (repeatable)")

	return cmd
}
