package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/PolarWolf314/keyward/internal/ui"
	"github.com/PolarWolf314/keyward/internal/workflows"
	"github.com/spf13/cobra"
)

var (
	doctorJSONOutput bool
	doctorProfiles   bool

	// doctorExitFunc is swapped out in tests.
	doctorExitFunc = os.Exit
)

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSONOutput, "json", false, "output results as JSON")
	doctorCmd.Flags().BoolVar(&doctorProfiles, "profiles", false, "also decrypt and check the stored profiles (needs the user credential)")
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks on the local installation",
	Long: `Checks the configuration, the profile store and any pending
enrollment, and reports problems with suggestions to fix them.

Exit codes:
  0 - all checks passed
  1 - warnings found
  2 - errors found`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	Logger.Infof("Starting doctor command")

	var auth string
	if doctorProfiles {
		var err error
		if auth, err = resolveUserAuth(); err != nil {
			return err
		}
	}

	spinner, cleanup := startSpinner("Running health checks...", verbose)
	defer cleanup()

	env, err := environmentFactory()
	if err != nil {
		return fail(spinner, "load configuration", err)
	}
	defer env.Close()

	result, err := workflows.Doctor(context.Background(), env, workflows.DoctorOptions{UserAuth: auth})
	if err != nil {
		return fail(spinner, "run health checks", err)
	}

	for _, check := range result.Checks {
		Logger.Debugf("Check %s: status=%s, message=%s", check.Name, check.Status.String(), check.Message)
	}

	spinner.FinalMSG = ""
	if doctorJSONOutput {
		cleanup()
		if err := printJSON(result); err != nil {
			return err
		}
	} else {
		cleanup()
		printDoctorResults(result)
		switch {
		case result.Summary.Errors > 0:
			fmt.Println(ui.Cross() + " Health checks completed with errors")
		case result.Summary.Warnings > 0:
			fmt.Println(ui.Warning.Sprint("⚠") + " Health checks completed with warnings")
		default:
			fmt.Println(ui.Check() + " Health checks completed")
		}
	}

	if result.Summary.Errors > 0 {
		doctorExitFunc(2)
	} else if result.Summary.Warnings > 0 {
		doctorExitFunc(1)
	}
	return nil
}

func printDoctorResults(result *workflows.DoctorResult) {
	for _, check := range result.Checks {
		var statusIcon string
		switch check.Status {
		case workflows.CheckPass:
			statusIcon = ui.Check()
		case workflows.CheckWarning:
			statusIcon = ui.Warning.Sprint("⚠")
		case workflows.CheckError:
			statusIcon = ui.Cross()
		}
		fmt.Printf("%s %s: %s\n", statusIcon, check.Name, check.Message)
	}

	fmt.Println()
	fmt.Printf("Summary: %d passed", result.Summary.Passed)
	if result.Summary.Warnings > 0 {
		fmt.Printf(", %s", ui.Warning.Sprintf("%d warning(s)", result.Summary.Warnings))
	}
	if result.Summary.Errors > 0 {
		fmt.Printf(", %s", ui.Error.Sprintf("%d error(s)", result.Summary.Errors))
	}
	fmt.Println()

	if len(result.Suggestions) > 0 {
		fmt.Println()
		fmt.Println("Suggestions:")
		for _, s := range result.Suggestions {
			fmt.Println("  " + ui.Arrow() + " " + s)
		}
	}
	fmt.Println()
}
