package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	"github.com/PolarWolf314/keyward/internal/keys"
	"github.com/PolarWolf314/keyward/internal/ui"
	"github.com/PolarWolf314/keyward/internal/workflows"
	"github.com/spf13/cobra"
)

var (
	keysQuantity   int
	keysRef        string
	keysEncoding   string
	keysAttrs      []string
	keysMutable    []string
	keysMetadata   []string
	keysForce      bool
	keysPrevCsig   string
	keysPrevMsig   string
	keysJSONOutput bool
)

// KeysCmd groups the protection key commands.
var KeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Create, fetch and update protection keys",
	Long: `Works with protection keys held by the key service for the active
device profile.

Attributes are given as repeated key=value flags. Attributes set with
--attr are fixed at creation; those set with --mattr can be replaced later
with 'keyward keys update'.

Examples:
  keyward keys create -n 5 --attr team=payments
  keyward keys get 0a1b2c... 3d4e5f... --encoding base64
  keyward keys update 0a1b2c... --force --mattr owner=bob`,
}

func init() {
	keysCreateCmd.Flags().IntVarP(&keysQuantity, "number", "n", 1, fmt.Sprintf("number of keys to create (1-%d)", keys.MaxQuantity))
	keysCreateCmd.Flags().StringVar(&keysRef, "ref", keys.DefaultRef, "key reference")
	keysCreateCmd.Flags().StringVar(&keysEncoding, "encoding", string(keys.EncodingHex), "key encoding: hex, base64, utf-8 or ascii")
	keysCreateCmd.Flags().StringArrayVar(&keysAttrs, "attr", nil, "fixed attribute as key=value (repeatable)")
	keysCreateCmd.Flags().StringArrayVar(&keysMutable, "mattr", nil, "mutable attribute as key=value (repeatable)")
	keysCreateCmd.Flags().StringArrayVar(&keysMetadata, "meta", nil, "request metadata as key=value (repeatable)")
	keysCreateCmd.Flags().BoolVar(&keysJSONOutput, "json", false, "output as JSON")

	keysGetCmd.Flags().StringVar(&keysEncoding, "encoding", string(keys.EncodingHex), "key encoding: hex, base64, utf-8 or ascii")
	keysGetCmd.Flags().StringArrayVar(&keysMetadata, "meta", nil, "request metadata as key=value (repeatable)")
	keysGetCmd.Flags().BoolVar(&keysJSONOutput, "json", false, "output as JSON")

	keysUpdateCmd.Flags().BoolVar(&keysForce, "force", false, "replace attributes without checking the previous signatures")
	keysUpdateCmd.Flags().StringVar(&keysPrevCsig, "prev-csig", "", "current signature of the fixed attributes")
	keysUpdateCmd.Flags().StringVar(&keysPrevMsig, "prev-msig", "", "current signature of the mutable attributes")
	keysUpdateCmd.Flags().StringArrayVar(&keysMutable, "mattr", nil, "new mutable attribute as key=value (repeatable)")
	keysUpdateCmd.Flags().StringArrayVar(&keysMetadata, "meta", nil, "request metadata as key=value (repeatable)")
	keysUpdateCmd.Flags().BoolVar(&keysJSONOutput, "json", false, "output as JSON")

	KeysCmd.AddCommand(keysCreateCmd)
	KeysCmd.AddCommand(keysGetCmd)
	KeysCmd.AddCommand(keysUpdateCmd)
}

// resetKeysCommandState resets the keys commands' global state for testing.
func resetKeysCommandState() {
	keysQuantity = 1
	keysRef = keys.DefaultRef
	keysEncoding = string(keys.EncodingHex)
	keysAttrs = nil
	keysMutable = nil
	keysMetadata = nil
	keysForce = false
	keysPrevCsig = ""
	keysPrevMsig = ""
	keysJSONOutput = false
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create new protection keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting keys create command")
		Logger.Debugf("Flags: number=%d, ref=%s, encoding=%s", keysQuantity, keysRef, keysEncoding)

		attrs, err := parseAttributes(keysAttrs)
		if err != nil {
			return err
		}
		mutable, err := parseAttributes(keysMutable)
		if err != nil {
			return err
		}
		meta, err := parseMetadata(keysMetadata)
		if err != nil {
			return err
		}
		auth, err := resolveUserAuth()
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Creating keys...", verbose)
		defer cleanup()

		env, err := environmentFactory()
		if err != nil {
			return fail(spinner, "load configuration", err)
		}
		defer env.Close()

		result, err := workflows.CreateKeys(context.Background(), env, workflows.CreateKeysOptions{
			UserAuth: auth,
			Request: keys.CreateRequest{
				Quantity:          keysQuantity,
				Ref:               keysRef,
				Encoding:          keysEncoding,
				Attributes:        attrs,
				MutableAttributes: mutable,
				Metadata:          meta,
			},
		})
		if err != nil {
			return fail(spinner, "create keys", err)
		}
		Logger.Infof("Created %d keys", len(result.Keys))

		spinner.FinalMSG = ""
		cleanup()
		if keysJSONOutput {
			return printJSON(result)
		}
		if err := printKeys(result.Keys); err != nil {
			return err
		}
		fmt.Println(ui.Check() + fmt.Sprintf(" Created %d key(s)", len(result.Keys)))
		return nil
	},
}

var keysGetCmd = &cobra.Command{
	Use:   "get <key-id>...",
	Short: "Fetch protection keys by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting keys get command")
		Logger.Debugf("Fetching %d keys with encoding %s", len(args), keysEncoding)

		meta, err := parseMetadata(keysMetadata)
		if err != nil {
			return err
		}
		auth, err := resolveUserAuth()
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Fetching keys...", verbose)
		defer cleanup()

		env, err := environmentFactory()
		if err != nil {
			return fail(spinner, "load configuration", err)
		}
		defer env.Close()

		result, err := workflows.GetKeys(context.Background(), env, workflows.GetKeysOptions{
			UserAuth: auth,
			KeyIDs:   args,
			Encoding: keysEncoding,
			Metadata: meta,
		})
		if err != nil {
			return fail(spinner, "fetch keys", err)
		}

		spinner.FinalMSG = ""
		cleanup()
		if keysJSONOutput {
			return printJSON(result)
		}
		if err := printKeys(result.Keys); err != nil {
			return err
		}
		printKeyErrors(result.Errors)
		return nil
	},
}

var keysUpdateCmd = &cobra.Command{
	Use:   "update <key-id>...",
	Short: "Replace the mutable attributes of protection keys",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting keys update command")
		Logger.Debugf("Updating %d keys, force=%t", len(args), keysForce)

		mutable, err := parseAttributes(keysMutable)
		if err != nil {
			return err
		}
		meta, err := parseMetadata(keysMetadata)
		if err != nil {
			return err
		}
		auth, err := resolveUserAuth()
		if err != nil {
			return err
		}

		requests := make([]keys.UpdateRequest, 0, len(args))
		for _, id := range args {
			requests = append(requests, keys.UpdateRequest{
				KeyID:             id,
				Force:             keysForce,
				PrevCsig:          keysPrevCsig,
				PrevMsig:          keysPrevMsig,
				MutableAttributes: mutable,
			})
		}

		spinner, cleanup := startSpinner("Updating keys...", verbose)
		defer cleanup()

		env, err := environmentFactory()
		if err != nil {
			return fail(spinner, "load configuration", err)
		}
		defer env.Close()

		result, err := workflows.UpdateKeys(context.Background(), env, workflows.UpdateKeysOptions{
			UserAuth: auth,
			Requests: requests,
			Metadata: meta,
		})
		if err != nil {
			err = fail(spinner, "update keys", err)
			if result != nil {
				spinner.FinalMSG += "\n" + keyErrorLines(result.Errors)
			}
			return err
		}

		spinner.FinalMSG = ""
		cleanup()
		if keysJSONOutput {
			return printJSON(result)
		}
		for _, k := range result.Keys {
			fmt.Println(ui.Check() + " Updated " + ui.KeyID.Sprint(k.KeyID))
			Logger.Debugf("New signature for %s: %s", k.KeyID, k.Msig)
		}
		printKeyErrors(result.Errors)
		return nil
	},
}

func printKeys(list []keys.Key) error {
	rows := make([][]string, 0, len(list))
	for _, k := range list {
		rows = append(rows, []string{k.KeyID, k.Key, formatAttributes(k.Attributes), formatAttributes(k.MutableAttributes)})
	}
	return ui.Table(os.Stdout, []string{"ID", "KEY", "ATTRIBUTES", "MUTABLE"}, rows)
}

func formatAttributes(attrs map[string]string) string {
	if len(attrs) == 0 {
		return "-"
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+attrs[name])
	}
	return strings.Join(parts, ",")
}

func keyErrorLines(errs map[string]*kerrors.Error) string {
	var b strings.Builder
	for _, id := range workflows.SortedErrorIDs(errs) {
		b.WriteString(ui.Cross() + " " + ui.KeyID.Sprint(id) + " " + errs[id].Error() + "\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func printKeyErrors(errs map[string]*kerrors.Error) {
	if len(errs) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(keyErrorLines(errs))
}
