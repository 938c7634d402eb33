package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kiranshivaraju/alttext/pkg/models"
	"github.com/spf13/cobra"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon[S ~string](status S) string {
	switch string(status) {
	case "completed", "applied":
		return colorGreen + "✓" + colorReset
	case "failed":
		return colorRed + "✗" + colorReset
	case "processing", "retry":
		return colorYellow + "⏳" + colorReset
	case "pending":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func printProgress(cmd *cobra.Command, p *models.Progress) {
	cmd.Printf("%s %s%s%s  %d/%d processed (%.1f%%)  %s%d completed%s  %s%d failed%s  %d pending\n",
		statusIcon(p.Status), colorBold, p.Status, colorReset,
		p.Processed, p.Total, p.Percentage,
		colorGreen, p.Completed, colorReset,
		colorRed, p.Failed, colorReset,
		p.Pending)
}

func printBatches(cmd *cobra.Command, batches []*models.Batch) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BATCH\tMODE\tSTATUS\tJOBS\tDONE\tFAILED\tCREATED")
	for _, b := range batches {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			b.BatchID, b.Mode, b.Status, b.TotalJobs, b.CompletedJobs, b.FailedJobs, relativeTime(b.CreatedAt))
	}
	w.Flush()
}

func printDetails(cmd *cobra.Command, d *BatchDetails) {
	b := d.Batch
	cmd.Printf("%s %sBatch %s%s\n", statusIcon(b.Status), colorBold, b.BatchID, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sMode:%s     %s\n", colorDim, colorReset, b.Mode)
	cmd.Printf("%sModel:%s    %s\n", colorDim, colorReset, b.Settings.API.Model)
	cmd.Printf("%sCreated:%s  %s (%s ago)\n", colorDim, colorReset, b.CreatedAt.Format(time.RFC1123), relativeTime(b.CreatedAt))
	printProgress(cmd, &d.Progress)
	cmd.Println()

	for _, j := range d.Jobs {
		cmd.Printf("%s %4d  image %s  %s\n", statusIcon(j.Status), j.ID, j.ImageRef, j.Status)
		if j.OriginalLabel != "" {
			cmd.Printf("        %swas:%s %s\n", colorDim, colorReset, j.OriginalLabel)
		}
		if j.GeneratedDescription != "" {
			cmd.Printf("        %snew:%s %s\n", colorDim, colorReset, j.GeneratedDescription)
		}
		if j.ErrorMessage != "" {
			cmd.Printf("        %s%s%s (retries %d)\n", colorRed, j.ErrorMessage, colorReset, j.RetryCount)
		}
	}

	if len(d.Failures) > 0 {
		cmd.Println()
		cmd.Printf("%sFailures by cause:%s\n", colorBold, colorReset)
		for _, g := range d.Failures {
			cmd.Printf("  %s%3d×%s %s\n", colorRed, g.Count, colorReset, g.SampleMessage)
			cmd.Printf("       %simages: %s%s\n", colorDim, strings.Join(g.ImageRefs, ", "), colorReset)
		}
	}
}

func printKeys(cmd *cobra.Command, keys []*models.APIKey) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPREFIX\tSCOPES\tLAST USED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = relativeTime(*k.LastUsedAt) + " ago"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPrefix, strings.Join(k.Scopes, ","), lastUsed)
	}
	w.Flush()
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}
