package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/mgmtcore/pkg/engine"
	"github.com/openfroyo/mgmtcore/pkg/model"
)

func newApplyCommand() *cobra.Command {
	var (
		concurrent  bool
		watch       bool
		metrics     bool
		failOnError bool
		dot         bool
	)

	cmd := &cobra.Command{
		Use:   "apply FILE",
		Short: "Submit a batch of operations",
		Long: `Submit the operations listed in a YAML or JSON file.

Each operation is a map with the operation name, the target address and
its parameters:

  operations:
    - operation: add
      address: /server=main
      name: main
    - operation: write-attribute
      address: /server=main
      name: threads
      value: 8

Operations run in file order. With --concurrent up to engine.max_parallel
of them are submitted at a time; operations on overlapping subtrees still
run in file order. --dot prints that schedule as a Graphviz graph instead of
applying it. With --watch the file is applied again every time it changes.`,
		Example: `  # Apply a batch
  mgmtctl apply changes.yaml

  # Apply independent operations concurrently
  mgmtctl apply changes.yaml --concurrent

  # Render the concurrent schedule
  mgmtctl apply changes.yaml --dot | dot -Tsvg > plan.svg

  # Keep applying the file whenever it is saved
  mgmtctl apply changes.yaml --watch --metrics`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if dot {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				ops, err := parseBatch(data)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), engine.NewBatchPlan(ops).ToDOT())
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			parallel := 1
			if concurrent {
				parallel = cfg.Engine.MaxParallel
			}

			rt, err := newRuntime(ctx, cfg, watch)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
					log.Warn().Err(err).Msg("Shutdown failed")
				}
			}()
			if metrics {
				rt.telemetry.StartMetricsServer()
			}

			file := args[0]
			failed, err := applyFile(ctx, cmd.OutOrStdout(), rt, file, parallel)
			if err != nil {
				return err
			}
			if !watch {
				if failOnError && failed > 0 {
					return fmt.Errorf("%d operation(s) failed", failed)
				}
				return nil
			}
			return watchFile(ctx, file, func() {
				if _, err := applyFile(ctx, cmd.OutOrStdout(), rt, file, parallel); err != nil {
					log.Error().Err(err).Str("file", file).Msg("Apply failed")
				}
			})
		},
	}

	cmd.Flags().BoolVar(&concurrent, "concurrent", false, "submit operations concurrently")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "apply the file again whenever it changes")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "serve Prometheus metrics while running")
	cmd.Flags().BoolVar(&failOnError, "fail-on-error", false, "exit non-zero when an operation fails")
	cmd.Flags().BoolVar(&dot, "dot", false, "print the concurrent schedule in DOT format and exit")

	return cmd
}

// applyFile submits the operations of file and prints their results. It
// returns the number of failed operations.
func applyFile(ctx context.Context, w io.Writer, rt *runtime, file string, parallel int) (int, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", file, err)
	}
	ops, err := parseBatch(data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", file, err)
	}

	log.Info().Str("file", file).Int("operations", len(ops)).Int("parallel", parallel).Msg("Applying operations")
	results, err := rt.submit(ctx, ops, parallel)
	failed := 0
	for _, res := range results {
		if res != nil && !res.Succeeded() {
			failed++
		}
	}
	if perr := printResults(w, ops, results); perr != nil {
		return failed, perr
	}
	return failed, err
}

// parseBatch decodes a batch file: either a list of operations or a map
// with an "operations" list.
func parseBatch(data []byte) ([]model.Operation, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid batch: %w", err)
	}

	var items []any
	switch v := doc.(type) {
	case nil:
		return nil, nil
	case []any:
		items = v
	case map[string]any:
		list, ok := v["operations"].([]any)
		if !ok {
			return nil, fmt.Errorf("batch has no operations list")
		}
		items = list
	default:
		return nil, fmt.Errorf("batch must be a list or a map with operations")
	}

	ops := make([]model.Operation, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("operation %d is not a map", i)
		}
		op, err := model.OperationFromMap(m)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

type resultLine struct {
	Operation model.Operation `json:"operation"`
	Result    map[string]any  `json:"result"`
}

func printResults(w io.Writer, ops []model.Operation, results []*engine.Result) error {
	if jsonOutput {
		lines := make([]resultLine, 0, len(results))
		for i, res := range results {
			if res == nil {
				continue
			}
			lines = append(lines, resultLine{Operation: ops[i], Result: res.Value()})
		}
		return printValue(w, lines)
	}

	for i, res := range results {
		if res == nil {
			fmt.Fprintf(w, "-    %s (not run)\n", ops[i])
			continue
		}
		status := "ok  "
		if !res.Succeeded() {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%s %s [%s]\n", status, ops[i], res.Duration.Round(time.Microsecond))
		if !res.Succeeded() {
			fmt.Fprintf(w, "     %s\n", res.FailureDescription)
		}
		if res.ReloadRequired {
			fmt.Fprintf(w, "     reload required\n")
		}
	}
	return nil
}

// watchFile calls fn each time file is written, debounced, until ctx is
// done. The parent directory is watched so editors that replace the file
// are handled.
func watchFile(ctx context.Context, file string, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", file, err)
	}
	log.Info().Str("file", file).Msg("Watching for changes")

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(300*time.Millisecond, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			fn()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Watcher error")
		}
	}
}
