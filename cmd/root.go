package cmd

import (
	"errors"
	"fmt"

	logger "github.com/PolarWolf314/keyward/internal/logging"
	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"
)

// ErrReported marks a failure whose message has already been printed.
var ErrReported = errors.New("keyward: failure reported")

var (
	verbose  bool
	debug    bool
	userAuth string
	Logger   logger.Logger

	RootCmd = &cobra.Command{
		Use:   "keyward",
		Short: "Keyward - a client for remote protection keys, chunks and encrypted files.",
		Long: `Keyward enrolls this device with a key-management service and uses the
keys it hands out to protect data.

Features:
  - Enroll devices and keep their profiles encrypted at rest
  - Create, fetch and update protection keys with signed attributes
  - Encrypt short strings into self-describing chunks
  - Encrypt whole files into segmented, authenticated containers

Usage:
  keyward <command> [flags]

Run 'keyward help <command>' for more details on a specific command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			Logger = logger.Logger{
				Verbose: verbose,
				Debug:   debug,
			}
			Logger.Debugf("Initializing %s with verbose=%t, debug=%t", cmd.CommandPath(), verbose, debug)
		},
		Run: func(cmd *cobra.Command, args []string) {
			banner := figure.NewColorFigure("Keyward", "alligator2", "green", true)
			banner.Print()
			fmt.Println()
			fmt.Println("Welcome to Keyward! Run 'keyward --help' to see available commands.")
		},
	}
)

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	RootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")
	RootCmd.PersistentFlags().StringVar(&userAuth, "user-auth", "", "user credential that protects the profile store (prefer $"+userAuthEnv+")")

	RootCmd.AddCommand(DeviceCmd)
	RootCmd.AddCommand(ProfilesCmd)
	RootCmd.AddCommand(KeysCmd)
	RootCmd.AddCommand(ChunkCmd)
	RootCmd.AddCommand(FileCmd)
	RootCmd.AddCommand(ConfigCmd)
	RootCmd.AddCommand(logCmd)
	RootCmd.AddCommand(doctorCmd)
}

// Execute runs the root command.
func Execute() error {
	return RootCmd.Execute()
}

// Helper functions for testing

// ResetGlobalState resets all global variables to their default values for testing.
func ResetGlobalState() {
	verbose = false
	debug = false
	userAuth = ""
	Logger = logger.Logger{}
	environmentFactory = openEnvironment
	resetKeysCommandState()
	resetChunkCommandState()
	resetFileCommandState()
	resetConfigCommandState()
	resetLogCommandState()
	resetDeviceCommandState()
	doctorJSONOutput = false
	doctorProfiles = false
	profilesJSON = false
}
