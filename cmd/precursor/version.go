package main

import (
	"github.com/spf13/cobra"

	"precursor/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printResponse(cmd, &VersionResponse{
			Version:        version.Version,
			Commit:         version.Commit,
			BuildDate:      version.BuildDate,
			SnapshotFormat: version.SnapshotFormat,
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// VersionResponse is the output of the version command.
type VersionResponse struct {
	Version        string `json:"version"`
	Commit         string `json:"commit"`
	BuildDate      string `json:"build_date"`
	SnapshotFormat int    `json:"snapshot_format"`
}
