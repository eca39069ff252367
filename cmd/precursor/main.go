package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"precursor/internal/errors"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		for _, fix := range suggestedFixes(err) {
			if fix.Command != "" {
				fmt.Fprintf(os.Stderr, "  hint: %s (%s)\n", fix.Description, fix.Command)
			} else {
				fmt.Fprintf(os.Stderr, "  hint: %s\n", fix.Description)
			}
		}
		os.Exit(1)
	}
}

// suggestedFixes returns the fixes attached to the outermost precursor error.
func suggestedFixes(err error) []errors.FixAction {
	var perr *errors.PrecursorError
	if stderrors.As(err, &perr) {
		return perr.SuggestedFixes
	}
	return nil
}
