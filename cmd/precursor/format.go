package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"precursor/internal/pipeline"
	"precursor/internal/scoring"
	"precursor/internal/validation"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
	FormatHuman OutputFormat = "human"
)

// printResponse writes resp to the command's stdout in --format.
func printResponse(cmd *cobra.Command, resp interface{}) error {
	out, err := FormatResponse(resp, OutputFormat(formatFlag))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatYAML:
		return formatYAML(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// formatJSON formats the response as JSON
func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// formatYAML formats the response as block-style YAML. It goes through
// JSON so the keys match the JSON output and field order is kept.
func formatYAML(resp interface{}) (string, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return "", fmt.Errorf("failed to convert to YAML: %w", err)
	}
	blockStyle(&node)
	out, err := yaml.Marshal(&node)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

// blockStyle clears the flow and quoting styles JSON input carries.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// formatHuman formats the response in human-readable format
func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *scoring.ThreatScore:
		return formatScoreHuman(v), nil
	case *pipeline.BatchResult:
		return formatBatchHuman(v), nil
	case *pipeline.TrainResult:
		return formatTrainHuman(v), nil
	case *validation.Report:
		return v.FormatReport(), nil
	case *BacktestResponse:
		return formatBacktestHuman(v), nil
	case *CutoffResponse:
		return formatCutoffHuman(v), nil
	case *VersionResponse:
		return formatVersionHuman(v), nil
	case *ModelsResponse:
		return formatModelsHuman(v), nil
	case *HistoryResponse:
		return formatHistoryHuman(v), nil
	default:
		// For unknown types, fall back to JSON
		return formatJSON(resp)
	}
}

func header(b *strings.Builder, title string) {
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", 60) + "\n\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatScoreHuman(ts *scoring.ThreatScore) string {
	var b strings.Builder
	header(&b, "Threat Score: "+ts.Package)

	fmt.Fprintf(&b, "Score:       %.3f (%s)\n", ts.Score, ts.Level)
	fmt.Fprintf(&b, "Confidence:  %.2f\n", ts.Confidence)
	fmt.Fprintf(&b, "Components:  distance %.3f, severity %.3f\n", ts.DistanceScore, ts.SeverityScore)
	cluster := fmt.Sprintf("%d", ts.AssignedCluster)
	if ts.Approximate {
		cluster += " (approximate)"
	}
	fmt.Fprintf(&b, "Cluster:     %s\n", cluster)
	fmt.Fprintf(&b, "Cutoff:      %s\n", ts.Cutoff.Format(time.DateOnly))
	fmt.Fprintf(&b, "Model:       %s (scaler %s)\n", shortID(ts.ModelVersion), shortID(ts.ScalerVersion))

	if len(ts.NearestClusters) > 0 {
		b.WriteString("\nNearest Clusters:\n")
		for _, c := range ts.NearestClusters {
			sev := "n/a"
			if c.AvgSeverity != nil {
				sev = fmt.Sprintf("%.1f", *c.AvgSeverity)
			}
			fmt.Fprintf(&b, "  #%-3d distance %.3f  size %-4d avg severity %s\n", c.ClusterID, c.Distance, c.Size, sev)
		}
	}
	if len(ts.SimilarCases) > 0 {
		b.WriteString("\nSimilar Cases:\n")
		for _, c := range ts.SimilarCases {
			line := fmt.Sprintf("  %-20s similarity %.3f", c.CaseID, c.Similarity)
			if c.Severity != nil {
				line += fmt.Sprintf("  severity %.1f", *c.Severity)
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

func formatBatchHuman(r *pipeline.BatchResult) string {
	var b strings.Builder
	header(&b, fmt.Sprintf("Batch: %d scored, %d failed", len(r.Scores), len(r.Failures)))

	for _, ts := range r.Scores {
		fmt.Fprintf(&b, "  %-30s %.3f  %-8s confidence %.2f\n", ts.Package, ts.Score, ts.Level, ts.Confidence)
	}
	if len(r.Failures) > 0 {
		b.WriteString("\nFailures:\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "  - %s [%s]: %s\n", f.Package, f.Code, f.Reason)
		}
	}
	return b.String()
}

func formatTrainHuman(r *pipeline.TrainResult) string {
	var b strings.Builder
	header(&b, "Model "+r.Version)

	fmt.Fprintf(&b, "Trained on:  %d cases\n", r.Trained)
	fmt.Fprintf(&b, "Clusters:    %d\n", len(r.Clusters))
	if r.LeakedRecords > 0 {
		fmt.Fprintf(&b, "Leaked:      %d records dropped after cutoff\n", r.LeakedRecords)
	}

	if len(r.Clusters) > 0 {
		b.WriteString("\nClusters:\n")
		for _, c := range r.Clusters {
			line := fmt.Sprintf("  #%-3d size %-4d", c.ID, c.Size)
			if c.AvgSeverity != nil {
				line += fmt.Sprintf(" avg severity %.1f", *c.AvgSeverity)
			}
			if len(c.DominantWeaknesses) > 0 {
				line += " " + strings.Join(c.DominantWeaknesses, ",")
			}
			b.WriteString(line + "\n")
		}
	}
	if len(r.Skipped) > 0 {
		b.WriteString("\nSkipped Cases:\n")
		for _, s := range r.Skipped {
			fmt.Fprintf(&b, "  - %s [%s]: %s\n", s.CaseID, s.Code, s.Reason)
		}
	}
	return b.String()
}

func formatBacktestHuman(r *BacktestResponse) string {
	var b strings.Builder
	b.WriteString(r.Report.FormatReport())
	if r.RunID != "" {
		fmt.Fprintf(&b, "\nRun:        %s\n", r.RunID)
	}

	if r.Signal == nil {
		b.WriteString("\nModel meets the feedback floors; no retraining needed.\n")
		return b.String()
	}
	b.WriteString("\nRetraining Signal:\n")
	for _, reason := range r.Signal.Reasons {
		fmt.Fprintf(&b, "  - %s\n", reason)
	}
	fmt.Fprintf(&b, "  Threshold: %.2f -> %.2f\n", r.Signal.CurrentThreshold, r.Signal.SuggestedThreshold)
	fmt.Fprintf(&b, "  Refit:     %v\n", r.Signal.Retrain)
	if len(r.Signal.MissedCaseIDs) > 0 {
		fmt.Fprintf(&b, "  Missed:    %s\n", strings.Join(r.Signal.MissedCaseIDs, ", "))
	}
	if r.Published != "" {
		fmt.Fprintf(&b, "\nPublished model %s\n", r.Published)
	}
	return b.String()
}

func formatCutoffHuman(r *CutoffResponse) string {
	var b strings.Builder
	header(&b, fmt.Sprintf("Cutoffs (%d days before disclosure, %d days of history)",
		r.PredictionWindowDays, r.MinHistoryDays))

	for _, s := range r.Splits {
		if !s.Valid() {
			fmt.Fprintf(&b, "  %-20s invalid: %s\n", s.CaseID, s.Reason)
			continue
		}
		fmt.Fprintf(&b, "  %-20s disclosure %s  cutoff %s  history from %s\n",
			s.CaseID,
			s.Disclosure.Format(time.DateOnly),
			s.Cutoff.Format(time.DateOnly),
			s.HistoryStart.Format(time.DateOnly))
	}
	if r.Invalid > 0 {
		fmt.Fprintf(&b, "\n%d of %d cases have no usable disclosure date\n", r.Invalid, len(r.Splits))
	}
	return b.String()
}

func formatVersionHuman(v *VersionResponse) string {
	return fmt.Sprintf("precursor version %s\nCommit: %s\nBuilt: %s\nSnapshot format: %d",
		v.Version, v.Commit, v.BuildDate, v.SnapshotFormat)
}
