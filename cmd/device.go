package cmd

import (
	"context"
	"fmt"

	"github.com/PolarWolf314/keyward/internal/enrollment"
	"github.com/PolarWolf314/keyward/internal/ui"
	"github.com/PolarWolf314/keyward/internal/workflows"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	deviceEnrollmentURL string
	deviceRegistration  enrollment.Registration
)

// DeviceCmd groups the device enrollment commands.
var DeviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Enroll this device with the key service",
	Long: `Enrolls this device with the key service and stores the resulting
profile in the encrypted profile store.

An enrollment either runs through a portal (begin, then complete with the
parameters the portal returns) or directly when the registration
parameters are already known (create).`,
}

func init() {
	deviceBeginCmd.Flags().StringVar(&deviceEnrollmentURL, "enrollment-url", "", "enrollment portal URL (defaults to [enrollment] url in the config)")

	addRegistrationFlags(deviceCompleteCmd.Flags())
	deviceCompleteCmd.Flags().StringVar(&deviceRegistration.SuccessURL, "success-url", "", "redirect to report on success")
	deviceCompleteCmd.Flags().StringVar(&deviceRegistration.FailureURL, "failure-url", "", "redirect to report on failure")

	addRegistrationFlags(deviceCreateCmd.Flags())

	DeviceCmd.AddCommand(deviceBeginCmd)
	DeviceCmd.AddCommand(deviceCompleteCmd)
	DeviceCmd.AddCommand(deviceCreateCmd)
}

func addRegistrationFlags(flags *pflag.FlagSet) {
	flags.StringVar(&deviceRegistration.ServerPublicKey, "server-key", "", "base64 DER public key of the key service")
	flags.StringVar(&deviceRegistration.Keyspace, "keyspace", "", "keyspace the device joins")
	flags.StringVar(&deviceRegistration.APIURL, "api-url", "", "base URL of the key service")
	flags.StringVar(&deviceRegistration.SToken, "stoken", "", "registration token issued by the portal")
	flags.StringVar(&deviceRegistration.UIDAuth, "uid-auth", "", "user authentication token issued by the portal")
}

// resetDeviceCommandState resets the device commands' global state for testing.
func resetDeviceCommandState() {
	deviceEnrollmentURL = ""
	deviceRegistration = enrollment.Registration{}
}

var deviceBeginCmd = &cobra.Command{
	Use:   "begin",
	Short: "Start a portal enrollment and print the URL to visit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting device begin command")

		auth, err := resolveUserAuth()
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Starting enrollment...", verbose)
		defer cleanup()

		env, err := environmentFactory()
		if err != nil {
			return fail(spinner, "load configuration", err)
		}
		defer env.Close()

		result, err := workflows.BeginEnrollment(context.Background(), env, workflows.BeginEnrollmentOptions{
			UserAuth:      auth,
			EnrollmentURL: deviceEnrollmentURL,
		})
		if err != nil {
			return fail(spinner, "start enrollment", err)
		}

		Logger.Infof("Enrollment pending until %s", result.ExpiresAt)
		spinner.FinalMSG = ui.Check() + " Enrollment started\n" +
			ui.Arrow() + " Open " + ui.Path.Sprint(result.URL) + " to continue\n" +
			"The request expires at " + result.ExpiresAt.Format("15:04:05")
		return nil
	},
}

var deviceCompleteCmd = &cobra.Command{
	Use:   "complete",
	Short: "Finish a portal enrollment with the parameters the portal returned",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting device complete command")

		spinner, cleanup := startSpinner("Registering device...", verbose)
		defer cleanup()

		env, err := environmentFactory()
		if err != nil {
			return fail(spinner, "load configuration", err)
		}
		defer env.Close()

		result, err := workflows.CompleteEnrollment(context.Background(), env, workflows.CompleteEnrollmentOptions{
			Registration: deviceRegistration,
		})
		if err != nil {
			err = fail(spinner, "register device", err)
			if result != nil && result.Redirect != "" {
				spinner.FinalMSG += "\n" + ui.Arrow() + " Redirect: " + ui.Path.Sprint(result.Redirect)
			}
			return err
		}

		spinner.FinalMSG = enrolledMessage(result)
		return nil
	},
}

var deviceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register this device directly with known registration parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting device create command")

		auth, err := resolveUserAuth()
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Registering device...", verbose)
		defer cleanup()

		env, err := environmentFactory()
		if err != nil {
			return fail(spinner, "load configuration", err)
		}
		defer env.Close()

		result, err := workflows.CreateDevice(context.Background(), env, workflows.CreateDeviceOptions{
			UserAuth: auth,
			Request:  deviceRegistration.Request,
		})
		if err != nil {
			return fail(spinner, "register device", err)
		}

		spinner.FinalMSG = enrolledMessage(result)
		return nil
	},
}

func enrolledMessage(result *workflows.EnrollResult) string {
	msg := ui.Check() + " Device " + ui.Device.Sprint(result.Profile.DeviceID) + " enrolled in keyspace " +
		ui.Code.Sprint(result.Profile.Keyspace) + "\n" +
		fmt.Sprintf("%d profile(s) stored, the new one is active", len(result.Profiles))
	if result.Redirect != "" {
		msg += "\n" + ui.Arrow() + " Redirect: " + ui.Path.Sprint(result.Redirect)
	}
	return msg
}
