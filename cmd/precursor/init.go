package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"precursor/internal/config"
	"precursor/internal/errors"
)

var (
	initForce       bool
	initMaxDistance float64
	initProvider    string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize precursor configuration",
	Long: `Creates a .precursor/ directory with a default config.json under --root.

scoring.maxDistance has no default: it depends on the feature space and must
be calibrated before scoring. Pass --max-distance to set it now.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing configuration")
	initCmd.Flags().Float64Var(&initMaxDistance, "max-distance", 0, "Distance at which the distance score reaches zero")
	initCmd.Flags().StringVar(&initProvider, "embedding", "none", "Embedding provider (none, openai)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := filepath.Join(rootFlag, config.DirName, "config.json")
	out := cmd.OutOrStdout()

	if _, err := os.Stat(configPath); err == nil && !initForce {
		// Already initialized is success
		fmt.Fprintln(out, "precursor already initialized.")
		fmt.Fprintf(out, "Configuration at: %s\n", configPath)
		fmt.Fprintln(out, "\nRun 'precursor init --force' to reinitialize.")
		return nil
	}

	cfg := config.DefaultConfig()
	cfg.Scoring.MaxDistance = initMaxDistance
	cfg.Embedding.Provider = initProvider
	if err := cfg.ValidateTemporal(); err != nil {
		return err
	}
	if err := cfg.Save(rootFlag); err != nil {
		return errors.New(errors.InternalError, "failed to write config file", err)
	}

	fmt.Fprintf(out, "Initialized precursor in %s\n", filepath.Dir(configPath))
	if cfg.Scoring.MaxDistance <= 0 {
		fmt.Fprintln(out, "\nSet scoring.maxDistance before running 'precursor score'.")
	}
	return nil
}
