package cmd

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/PolarWolf314/keyward/internal/configs"
	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	"github.com/PolarWolf314/keyward/internal/ui"
	"github.com/PolarWolf314/keyward/internal/utils"
	"github.com/spf13/cobra"
)

var (
	configInitForce bool
	configInitFlags configs.Config
	configShowJSON  bool
)

// ConfigCmd groups the configuration commands.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Keyward configuration",
	Long: `Creates and displays the configuration that selects the application,
user and origin profiles belong to, where they are stored and how the key
service is reached.

The configuration lives at ` + "`" + `$XDG_CONFIG_HOME/keyward/config.toml` + "`" + `.`,
}

func init() {
	flags := configInitCmd.Flags()
	flags.BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing configuration")
	flags.StringVar(&configInitFlags.Client.AppID, "app-id", "", "application id")
	flags.StringVar(&configInitFlags.Client.UserID, "user-id", "", "user id (generated when empty)")
	flags.StringVar(&configInitFlags.Client.Origin, "origin", "", "origin profiles are scoped to, e.g. https://app.example.com")
	flags.StringVar(&configInitFlags.Store.Backend, "backend", "", "profile store backend: file, sqlite or memory")
	flags.StringVar(&configInitFlags.Store.Path, "store-path", "", "profile store location")
	flags.StringVar(&configInitFlags.HTTP.Timeout, "timeout", "", "timeout for each request to the key service")
	flags.StringVar(&configInitFlags.Enrollment.URL, "enrollment-url", "", "enrollment portal URL")

	configShowCmd.Flags().BoolVar(&configShowJSON, "json", false, "output in JSON format")

	ConfigCmd.AddCommand(configInitCmd)
	ConfigCmd.AddCommand(configShowCmd)
}

// resetConfigCommandState resets the config commands' global state for testing.
func resetConfigCommandState() {
	configInitForce = false
	configInitFlags = configs.Config{}
	configShowJSON = false
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a new configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting config init command")

		spinner, cleanup := startSpinner("Writing configuration...", verbose)
		defer cleanup()

		config := configs.DefaultConfig()
		// An unset user id is generated rather than taken from the system.
		config.Client.UserID = ""
		overlay(config, &configInitFlags)

		path, err := configs.InitConfig(config, configInitForce)
		if err != nil {
			if !configInitForce && kerrors.CodeOf(err) == kerrors.CodeInvalidValue && utils.FileExists(path) {
				Logger.Infof("Configuration already exists at %s", path)
				spinner.FinalMSG = ui.Warning.Sprint("⚠") + " Configuration already exists at " + ui.Path.Sprint(path) + "\n" +
					ui.Arrow() + " Run " + ui.Code.Sprint("keyward config init --force") + " to overwrite it"
				return nil
			}
			return fail(spinner, "write configuration", err)
		}

		Logger.Infof("Configuration written to %s", path)
		spinner.FinalMSG = ui.Check() + " Configuration written to " + ui.Path.Sprint(path) + "\n" +
			"Profiles are scoped to " + ui.Code.Sprint(config.Scope().Key())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting config show command")
		Logger.Debugf("Loading config from %s", configs.UserKeywardSettings.ConfigFile())

		config, err := configs.LoadConfig()
		if err != nil {
			return Logger.ErrorfAndReturn("Failed to load config: %v", err)
		}

		if configShowJSON {
			return printJSON(config)
		}

		if !utils.FileExists(configs.UserKeywardSettings.ConfigFile()) {
			fmt.Printf("# no config file at %s, showing defaults\n", configs.UserKeywardSettings.ConfigFile())
		}
		return toml.NewEncoder(os.Stdout).Encode(config)
	},
}

// overlay copies the fields set in src over dst.
func overlay(dst, src *configs.Config) {
	set := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	set(&dst.Client.AppID, src.Client.AppID)
	set(&dst.Client.UserID, src.Client.UserID)
	set(&dst.Client.Origin, src.Client.Origin)
	set(&dst.Store.Backend, src.Store.Backend)
	set(&dst.Store.Path, src.Store.Path)
	set(&dst.HTTP.Timeout, src.HTTP.Timeout)
	set(&dst.Enrollment.URL, src.Enrollment.URL)
}
