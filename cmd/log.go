package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/PolarWolf314/keyward/internal/audit"
	"github.com/PolarWolf314/keyward/internal/ui"
	"github.com/PolarWolf314/keyward/internal/workflows"
	"github.com/spf13/cobra"
)

var (
	logLimit     int
	logReverse   bool
	logOperation string
	logDevice    string
	logSince     string
	logOneline   bool
	logJSON      bool
)

func init() {
	logCmd.Flags().IntVarP(&logLimit, "number", "n", 0, "limit number of entries shown")
	logCmd.Flags().BoolVar(&logReverse, "reverse", false, "show most recent entries first")
	logCmd.Flags().StringVar(&logOperation, "operation", "", "filter by operation (comma-separated, e.g. keys.create,file.encrypt)")
	logCmd.Flags().StringVar(&logDevice, "device", "", "filter by device id")
	logCmd.Flags().StringVar(&logSince, "since", "", "show entries on or after date (YYYY-MM-DD)")
	logCmd.Flags().BoolVar(&logOneline, "oneline", false, "compact one-line format")
	logCmd.Flags().BoolVar(&logJSON, "json", false, "output as JSON array")
}

// resetLogCommandState resets the log command's global state for testing.
func resetLogCommandState() {
	logLimit = 0
	logReverse = false
	logOperation = ""
	logDevice = ""
	logSince = ""
	logOneline = false
	logJSON = false
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View the local audit trail",
	Long: `Displays the operations this machine performed: enrollments, key
creation and updates, profile switches and file encryption.

Examples:
  keyward log                          # View full log
  keyward log -n 10                    # Last 10 entries
  keyward log --reverse                # Most recent first
  keyward log --operation keys.create  # Filter by operation
  keyward log --since 2024-01-01       # Filter by date
  keyward log --json                   # JSON output`,
	Args: cobra.NoArgs,
	RunE: runLog,
}

func runLog(cmd *cobra.Command, args []string) error {
	Logger.Infof("Starting log command")

	spinner, cleanup := startSpinner("Loading audit log...", verbose)
	defer cleanup()

	result, err := workflows.Log(context.Background(), workflows.LogOptions{
		Limit:     logLimit,
		Reverse:   logReverse,
		Operation: logOperation,
		DeviceID:  logDevice,
		Since:     logSince,
	})
	if err != nil {
		return fail(spinner, "read audit log", err)
	}

	Logger.Debugf("Parsed %d entries from audit log", result.Total)
	Logger.Debugf("After filtering: %d entries", len(result.Entries))

	spinner.FinalMSG = ""
	if len(result.Entries) == 0 {
		if result.Total == 0 {
			spinner.FinalMSG = ui.Info.Sprint("ℹ") + " No audit log entries found. Operations are logged as you run commands."
		} else {
			spinner.FinalMSG = "No audit log entries found matching the filters."
		}
		return nil
	}

	cleanup()
	switch {
	case logJSON:
		return printJSON(result.Entries)
	case logOneline:
		outputLogOneline(result.Entries)
		return nil
	default:
		return outputLogDefault(result.Entries)
	}
}

func outputLogOneline(entries []audit.Entry) {
	for _, e := range entries {
		date := workflows.FormatDateTime(e.Timestamp)
		if len(date) >= 10 {
			date = date[:10]
		}
		fmt.Printf("%s %s %s %s\n", date, e.UserID, e.Operation, workflows.FormatDetails(e))
	}
}

func outputLogDefault(entries []audit.Entry) error {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{workflows.FormatDateTime(e.Timestamp), e.UserID, e.Operation, workflows.FormatDetails(e)})
	}
	return ui.Table(os.Stdout, []string{"TIME", "USER", "OPERATION", "DETAILS"}, rows)
}
