package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/alttext/pkg/models"
	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create [image_ref...]",
	Short: "Create a batch from media-library image references",
	Long: `Create a batch with one job per image reference. References that do not
resolve to a supported image are dropped by the server.

Example:
  altctl create 101 102 103
  altctl create 101 102 --mode production`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")

		client, err := newClient()
		if err != nil {
			return err
		}
		res, err := client.CreateBatch(args, models.Mode(mode))
		if err != nil {
			return err
		}
		cmd.Printf("✓ Batch created!\nBatch ID: %s\nJobs:     %d\nMode:     %s\n", res.BatchID, res.TotalJobs, res.Mode)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List your most recent batches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newClient()
		if err != nil {
			return err
		}
		batches, err := client.ListBatches(limit)
		if err != nil {
			return err
		}
		if len(batches) == 0 {
			cmd.Println("No batches found.")
			return nil
		}
		printBatches(cmd, batches)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show [batch_id]",
	Short: "Show a batch with its jobs and generated descriptions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		d, err := client.GetBatch(args[0])
		if err != nil {
			return err
		}
		printDetails(cmd, d)
		return nil
	},
}

var processCmd = &cobra.Command{
	Use:   "process [batch_id]",
	Short: "Start processing a batch's pending jobs",
	Long: `Start a processing pass. The server works through the pending jobs in the
background; use 'altctl progress --watch' to follow it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.ProcessBatch(args[0]); err != nil {
			return err
		}
		cmd.Printf("✓ Processing started for %s\n", args[0])
		return nil
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress [batch_id]",
	Short: "Show batch progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		interval, _ := cmd.Flags().GetDuration("interval")

		client, err := newClient()
		if err != nil {
			return err
		}
		for {
			p, err := client.Progress(args[0])
			if err != nil {
				return err
			}
			printProgress(cmd, p)
			if !watch || !inFlight(p.Status) {
				return nil
			}
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(interval):
			}
		}
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply [batch_id]",
	Short: "Write completed descriptions back to the media library",
	Long: `Apply every completed description in the batch. Use --edit to replace a
generated description before it is written.

Example:
  altctl apply batch_1718000000_1a2b3c4d
  altctl apply batch_1718000000_1a2b3c4d --edit 17="A red bicycle" --edit 18="Two dogs"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetStringArray("edit")
		edits, err := parseEdits(raw)
		if err != nil {
			return err
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		res, err := client.ApplyBatch(args[0], edits)
		if err != nil {
			return err
		}
		cmd.Printf("✓ Applied %d descriptions\n", res.AppliedCount)
		for _, e := range res.Errors {
			cmd.Printf("  %s✗%s %s\n", colorRed, colorReset, e)
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [batch_id]",
	Short: "Cancel a batch; finished jobs keep their results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		res, err := client.CancelBatch(args[0])
		if err != nil {
			return err
		}
		cmd.Printf("✓ Batch %s cancelled (%d pending jobs)\n", res.BatchID, res.JobsCancelled)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry [batch_id]",
	Short: "Return a batch's failed jobs to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		res, err := client.RetryBatch(args[0])
		if err != nil {
			return err
		}
		cmd.Printf("✓ %d failed jobs reset to pending\n", res.Reset)
		return nil
	},
}

var jobCmd = &cobra.Command{
	Use:   "job [job_id]",
	Short: "Generate the description for a single job now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("job id must be an integer: %q", args[0])
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		out, err := client.ProcessJob(id)
		if err != nil {
			return err
		}
		cmd.Printf("%s Job %d: %s\n", statusIcon(out.Outcome), out.JobID, out.Outcome)
		if out.Description != "" {
			cmd.Printf("  %s\n", out.Description)
		}
		if out.Error != "" {
			cmd.Printf("  %s%s%s (attempt %d)\n", colorRed, out.Error, colorReset, out.RetryCount)
		}
		return nil
	},
}

// parseEdits turns id=text pairs into an edit map.
func parseEdits(raw []string) (map[int64]string, error) {
	edits := make(map[int64]string, len(raw))
	for _, pair := range raw {
		idStr, text, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("--edit must be job_id=text, got %q", pair)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("--edit job id must be an integer, got %q", idStr)
		}
		edits[id] = text
	}
	return edits, nil
}

func inFlight(s models.Status) bool {
	return s == models.StatusPending || s == models.StatusProcessing
}

func init() {
	createCmd.Flags().StringP("mode", "m", string(models.ModeTest), "test (review before apply) or production (apply when done)")
	listCmd.Flags().IntP("limit", "l", 20, "maximum number of batches to show")
	progressCmd.Flags().BoolP("watch", "w", false, "poll until the batch stops processing")
	progressCmd.Flags().Duration("interval", 2*time.Second, "poll interval for --watch")
	applyCmd.Flags().StringArrayP("edit", "e", nil, "replace a description, as job_id=text (repeatable)")

	rootCmd.AddCommand(createCmd, listCmd, showCmd, processCmd, progressCmd, applyCmd, cancelCmd, retryCmd, jobCmd)
}
