package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/mgmtcore/pkg/config"
	"github.com/openfroyo/mgmtcore/pkg/stores"
)

func newInitCommand() *cobra.Command {
	var (
		force     bool
		storePath string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration and create the store",
		Long: `Write a default configuration file and create the SQLite store it points
to, with its schema migrated to the latest version.

The configuration is written to --config, or ./mgmt.yaml when no path is
given. An existing file is kept unless --force is set.`,
		Example: `  # Initialize in the current directory
  mgmtctl init

  # Initialize with a custom config and store location
  mgmtctl init --config /etc/mgmt/mgmt.yaml --store /var/lib/mgmt/mgmt.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := configPath
			if path == "" {
				path = "./mgmt.yaml"
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to stat %s: %w", path, err)
			}

			cfg := config.Default()
			if storePath != "" {
				cfg.Store.Path = storePath
			} else {
				cfg.Store.Path = filepath.Join(filepath.Dir(path), "mgmt.db")
			}

			log.Info().Str("config", path).Str("store", cfg.Store.Path).Msg("Initializing")

			for _, dir := range []string{filepath.Dir(path), filepath.Dir(cfg.Store.Path)} {
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
			}
			store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path, Logger: log.Logger})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			defer store.Close()
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			if err := cfg.Save(path); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Initialized store: %s\n", cfg.Store.Path)
			fmt.Fprintf(w, "Wrote config file: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	cmd.Flags().StringVar(&storePath, "store", "", "store path (default: mgmt.db next to the config file)")

	return cmd
}
