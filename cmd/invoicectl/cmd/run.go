package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

var runCmd = &cobra.Command{
	Use:   "run [run_id]",
	Short: "Show a batch run and its outcomes",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		token := viper.GetString("token")
		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the INVOICECTL_TOKEN environment variable")
			return
		}

		client := NewInvoiceClient(viper.GetString("url"), token)
		run, err := client.GetRun(args[0])
		if err != nil {
			cmd.Printf("Failed to fetch run: %v\n", err)
			return
		}
		printRun(cmd, run)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent batch runs",
	Run: func(cmd *cobra.Command, args []string) {
		token := viper.GetString("token")
		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the INVOICECTL_TOKEN environment variable")
			return
		}
		pipeline, _ := cmd.Flags().GetString("pipeline")
		limit, _ := cmd.Flags().GetInt("limit")

		client := NewInvoiceClient(viper.GetString("url"), token)
		runs, err := client.ListRuns(pipeline, limit)
		if err != nil {
			cmd.Printf("Failed to list runs: %v\n", err)
			return
		}
		if len(runs) == 0 {
			cmd.Println("No runs found")
			return
		}
		for _, r := range runs {
			cmd.Printf("%s  %-9s %s  %s\n", r.ID, r.Pipeline, colorizeStatus(r.Status), r.CreatedAt.Format(time.RFC3339))
		}
	},
}

func printRun(cmd *cobra.Command, run *models.BatchRun) {
	cmd.Printf("%s %sBatch Run%s\n", statusIcon(run.Status), colorBold, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sID:%s        %s\n", colorDim, colorReset, run.ID)
	cmd.Printf("%sPipeline:%s  %s\n", colorDim, colorReset, run.Pipeline)
	cmd.Printf("%sStatus:%s    %s\n", colorDim, colorReset, colorizeStatus(run.Status))
	if run.ErrorDetails != "" {
		cmd.Printf("%sError:%s     %s%s%s\n", colorDim, colorReset, colorRed, run.ErrorDetails, colorReset)
	}
	if run.WorkflowExecutionID != "" {
		cmd.Printf("%sWorkflow:%s  %s\n", colorDim, colorReset, run.WorkflowExecutionID)
	}

	s := run.Summary
	if s == nil {
		return
	}
	cmd.Printf("%sFound:%s %d  %sEligible:%s %d  %sAttempted:%s %d\n",
		colorDim, colorReset, s.Found, colorDim, colorReset, s.Eligible, colorDim, colorReset, s.Attempted)
	cmd.Printf("%sSucceeded:%s %d  %sWarnings:%s %d  %sSkipped:%s %d  %sFailed:%s %d\n",
		colorDim, colorReset, s.Succeeded, colorDim, colorReset, s.Warnings,
		colorDim, colorReset, s.Skipped, colorDim, colorReset, s.Failed)

	for _, o := range s.Outcomes {
		line := o.CandidateID + " " + outcomeLabel(o.Status)
		if o.Step != "" {
			line += " at " + o.Step
		}
		if o.Reason != "" {
			line += ": " + o.Reason
		}
		cmd.Println("  " + line)
	}
}

func outcomeLabel(status models.OutcomeStatus) string {
	switch status {
	case models.OutcomeSucceeded:
		return colorGreen + string(status) + colorReset
	case models.OutcomeSucceededWithWarning:
		return colorYellow + string(status) + colorReset
	case models.OutcomeFailed:
		return colorRed + string(status) + colorReset
	}
	return colorDim + string(status) + colorReset
}

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

func statusIcon(status string) string {
	switch status {
	case models.RunCompleted:
		return colorGreen + "✓" + colorReset
	case models.RunFailed:
		return colorRed + "✗" + colorReset
	case models.RunRunning:
		return colorYellow + "⏳" + colorReset
	case models.RunScheduled:
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	switch status {
	case models.RunCompleted:
		return statusIcon(status) + " " + colorGreen + status + colorReset
	case models.RunFailed:
		return statusIcon(status) + " " + colorRed + status + colorReset
	case models.RunRunning:
		return statusIcon(status) + " " + colorYellow + status + colorReset
	case models.RunScheduled:
		return statusIcon(status) + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

func init() {
	runsCmd.Flags().String("pipeline", "", "Only list runs of this pipeline")
	runsCmd.Flags().Int("limit", 20, "Maximum number of runs")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
}
