package main

import (
	"precursor/internal/version"

	"github.com/spf13/cobra"
)

var (
	// rootFlag is the directory holding .precursor/ and relative paths
	rootFlag string

	// configFlag points at an explicit config file and bypasses discovery
	configFlag string

	// formatFlag is the output format: human, json or yaml
	formatFlag string

	verbosity   int
	quietFlag   bool
	logFileFlag string

	// signalsFlag is where collectors read history from
	signalsFlag string

	// sourceFlag selects the collector: dir or git
	sourceFlag string

	// modelFlag selects a saved model version; empty means newest
	modelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "precursor",
	Short: "Precursor - pre-disclosure vulnerability risk scoring",
	Long: `Precursor scores open-source packages for the risk of an upcoming
vulnerability disclosure. It learns clusters of development activity that
preceded historical disclosures, scores current activity against them, and
back-tests every prediction at a cutoff before the disclosure date so no
future information can leak into a result.`,
	Version:       version.Info(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("precursor version {{.Version}}\n")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&rootFlag, "root", ".", "Project root containing .precursor/")
	flags.StringVar(&configFlag, "config", "", "Path to a config file (default: <root>/.precursor/config.*)")
	flags.StringVar(&formatFlag, "format", string(FormatHuman), "Output format (human, json, yaml)")
	flags.CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	flags.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress all log output")
	flags.StringVar(&logFileFlag, "log-file", "", "Also write logs to this file")
	flags.StringVar(&signalsFlag, "signals", "signals", "Signal root: a directory of exports, or of git clones with --source git")
	flags.StringVar(&sourceFlag, "source", sourceDir, "Signal source (dir, git)")
	flags.StringVar(&modelFlag, "model", "", "Model version to score with (default: newest saved)")
}
