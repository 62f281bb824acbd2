package cmd

import (
	"context"
	"fmt"

	"github.com/PolarWolf314/keyward/internal/ui"
	"github.com/PolarWolf314/keyward/internal/utils"
	"github.com/PolarWolf314/keyward/internal/workflows"
	"github.com/spf13/cobra"
)

var (
	fileRoot     string
	fileDryRun   bool
	fileAttrs    []string
	fileMutable  []string
	fileMetadata []string
)

// FileCmd groups the file encryption commands.
var FileCmd = &cobra.Command{
	Use:   "file",
	Short: "Encrypt and decrypt files",
	Long: `Encrypts files into authenticated containers, each under a new key, and
decrypts them again.

Arguments are paths or glob patterns (including **) relative to --root.
Encrypted files are written next to the source with a ` + workflows.EncryptedExtension + ` extension.

Examples:
  keyward file encrypt report.pdf
  keyward file encrypt 'exports/**/*.csv' --dry-run
  keyward file decrypt 'exports/**/*` + workflows.EncryptedExtension + `'`,
}

func init() {
	for _, c := range []*cobra.Command{fileEncryptCmd, fileDecryptCmd} {
		c.Flags().StringVar(&fileRoot, "root", "", "directory patterns are relative to (defaults to the working directory)")
		c.Flags().BoolVar(&fileDryRun, "dry-run", false, "show which files would be processed without writing anything")
		c.Flags().StringArrayVar(&fileMetadata, "meta", nil, "request metadata as key=value (repeatable)")
	}
	fileEncryptCmd.Flags().StringArrayVar(&fileAttrs, "attr", nil, "fixed attribute of each new key as key=value (repeatable)")
	fileEncryptCmd.Flags().StringArrayVar(&fileMutable, "mattr", nil, "mutable attribute of each new key as key=value (repeatable)")

	FileCmd.AddCommand(fileEncryptCmd)
	FileCmd.AddCommand(fileDecryptCmd)
}

// resetFileCommandState resets the file commands' global state for testing.
func resetFileCommandState() {
	fileRoot = ""
	fileDryRun = false
	fileAttrs = nil
	fileMutable = nil
	fileMetadata = nil
}

var fileEncryptCmd = &cobra.Command{
	Use:   "encrypt <pattern>...",
	Short: "Encrypt files into containers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting file encrypt command")
		return runFiles(args, "Encrypting files...", "encrypt files", "encrypted", workflows.EncryptFiles)
	},
}

var fileDecryptCmd = &cobra.Command{
	Use:   "decrypt <pattern>...",
	Short: "Decrypt containers back into files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting file decrypt command")
		return runFiles(args, "Decrypting files...", "decrypt files", "decrypted", workflows.DecryptFiles)
	},
}

type filesWorkflow func(context.Context, *workflows.Environment, workflows.FilesOptions) (*workflows.FilesResult, error)

func runFiles(patterns []string, message, action, done string, run filesWorkflow) error {
	Logger.Debugf("Patterns: %v, root=%q, dry-run=%t", patterns, fileRoot, fileDryRun)

	attrs, err := parseAttributes(fileAttrs)
	if err != nil {
		return err
	}
	mutable, err := parseAttributes(fileMutable)
	if err != nil {
		return err
	}
	meta, err := parseMetadata(fileMetadata)
	if err != nil {
		return err
	}

	var auth string
	if !fileDryRun {
		if auth, err = resolveUserAuth(); err != nil {
			return err
		}
	}

	spinner, cleanup := startSpinner(message, verbose)
	defer cleanup()

	env, err := environmentFactory()
	if err != nil {
		return fail(spinner, "load configuration", err)
	}
	defer env.Close()

	result, err := run(context.Background(), env, workflows.FilesOptions{
		UserAuth:          auth,
		Patterns:          patterns,
		Root:              fileRoot,
		DryRun:            fileDryRun,
		Attributes:        attrs,
		MutableAttributes: mutable,
		Metadata:          meta,
	})
	if err != nil {
		return fail(spinner, action, err)
	}

	outputs := make([]string, 0, len(result.Files))
	for _, f := range result.Files {
		outputs = append(outputs, f.Output)
	}

	if result.DryRun {
		msg := ui.Warning.Sprint("[dry-run]") + fmt.Sprintf(" Would write %d file(s):\n", len(result.Files))
		for _, f := range result.Files {
			msg += "  " + ui.Path.Sprint(f.Source) + " " + ui.Arrow() + " " + ui.Path.Sprint(f.Output) + "\n"
		}
		spinner.FinalMSG = msg + "No files were modified."
		return nil
	}

	spinner.FinalMSG = ui.Check() + fmt.Sprintf(" %d file(s) %s\n", len(result.Files), done) +
		"The following files were written: " + utils.FormatPaths(outputs)
	return nil
}
