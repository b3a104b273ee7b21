package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/mgmtcore/pkg/model"
)

func newReadCommand() *cobra.Command {
	var (
		attribute       string
		recursive       bool
		includeDefaults bool
		operations      bool
	)

	cmd := &cobra.Command{
		Use:   "read ADDRESS",
		Short: "Read a resource, an attribute or the operations of a resource",
		Example: `  # Read a resource and its children
  mgmtctl read /server=main --recursive

  # Read one attribute, without falling back to its default
  mgmtctl read /server=main/queue=orders --attribute max-size --include-defaults=false

  # List the operations available on a resource
  mgmtctl read /server=main --operations`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			addr, err := model.ParseAddress(args[0])
			if err != nil {
				return err
			}

			var op model.Operation
			switch {
			case operations:
				op = model.NewOperation(model.OpReadOperationNames, addr, nil)
			case attribute != "":
				op = model.NewOperation(model.OpReadAttribute, addr, map[string]any{
					model.ParamName:            attribute,
					model.ParamIncludeDefaults: includeDefaults,
				})
			default:
				op = model.NewOperation(model.OpReadResource, addr, map[string]any{
					model.ParamRecursive:       recursive,
					model.ParamIncludeDefaults: includeDefaults,
				})
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := newRuntime(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
					log.Warn().Err(err).Msg("Shutdown failed")
				}
			}()

			results, err := rt.submit(ctx, []model.Operation{op}, 1)
			if err != nil {
				return err
			}
			res := results[0]
			if !res.Succeeded() {
				return fmt.Errorf("%s failed: %s", op.Name, res.FailureDescription)
			}
			v, _ := res.Response.Result()
			return printValue(cmd.OutOrStdout(), v)
		},
	}

	cmd.Flags().StringVarP(&attribute, "attribute", "a", "", "read this attribute only")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "include children recursively")
	cmd.Flags().BoolVar(&includeDefaults, "include-defaults", true, "report default values of undefined attributes")
	cmd.Flags().BoolVar(&operations, "operations", false, "list the operation names of the resource")

	return cmd
}
