package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/PolarWolf314/keyward/internal/ui"
	"github.com/PolarWolf314/keyward/internal/workflows"
	"github.com/spf13/cobra"
)

var profilesJSON bool

// ProfilesCmd groups the commands that inspect the profile store.
var ProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List and select enrolled device profiles",
}

func init() {
	profilesListCmd.Flags().BoolVar(&profilesJSON, "json", false, "output as JSON")
	profilesLoadCmd.Flags().BoolVar(&profilesJSON, "json", false, "output as JSON")

	ProfilesCmd.AddCommand(profilesListCmd)
	ProfilesCmd.AddCommand(profilesUseCmd)
	ProfilesCmd.AddCommand(profilesLoadCmd)
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the stored profiles, or nothing if none can be read",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProfiles("Reading profiles...", "list profiles", workflows.ListProfiles, workflows.ProfilesOptions{})
	},
}

var profilesLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Open the profile store, failing if it holds no profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProfiles("Loading profiles...", "load profiles", workflows.LoadProfiles, workflows.ProfilesOptions{})
	},
}

var profilesUseCmd = &cobra.Command{
	Use:   "use <device-id>",
	Short: "Make a profile the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProfiles("Switching profile...", "switch profile", workflows.UseProfile, workflows.ProfilesOptions{DeviceID: args[0]})
	},
}

type profilesWorkflow func(context.Context, *workflows.Environment, workflows.ProfilesOptions) (*workflows.ProfilesResult, error)

func runProfiles(message, action string, run profilesWorkflow, opts workflows.ProfilesOptions) error {
	Logger.Infof("Starting profiles command: %s", action)

	auth, err := resolveUserAuth()
	if err != nil {
		return err
	}
	opts.UserAuth = auth

	spinner, cleanup := startSpinner(message, verbose)
	defer cleanup()

	env, err := environmentFactory()
	if err != nil {
		return fail(spinner, "load configuration", err)
	}
	defer env.Close()

	result, err := run(context.Background(), env, opts)
	if err != nil {
		return fail(spinner, action, err)
	}
	Logger.Debugf("Found %d profiles", len(result.Profiles))

	spinner.FinalMSG = ""
	if profilesJSON {
		cleanup()
		return printJSON(result)
	}
	if len(result.Profiles) == 0 {
		spinner.FinalMSG = ui.Warning.Sprint("⚠") + " No profiles stored for " + ui.Code.Sprint(env.Scope().Key())
		return nil
	}
	if opts.DeviceID != "" {
		spinner.FinalMSG = ui.Check() + " Device " + ui.Device.Sprint(opts.DeviceID) + " is now active"
		return nil
	}

	cleanup()
	rows := make([][]string, 0, len(result.Profiles))
	for _, p := range result.Profiles {
		marker := ""
		if p.Active {
			marker = "*"
		}
		rows = append(rows, []string{marker, p.DeviceID, p.Keyspace, p.Server, formatUnix(p.Created)})
	}
	if err := ui.Table(os.Stdout, []string{"", "DEVICE", "KEYSPACE", "SERVER", "CREATED"}, rows); err != nil {
		return err
	}
	fmt.Printf("\n%d profile(s)\n", len(result.Profiles))
	return nil
}
