package cmd

import (
	"context"

	"github.com/PolarWolf314/keyward/internal/chunk"
	"github.com/PolarWolf314/keyward/internal/workflows"
	"github.com/spf13/cobra"
)

var (
	chunkVersion  string
	chunkTag      string
	chunkAttrs    []string
	chunkMutable  []string
	chunkMetadata []string
)

// ChunkCmd groups the commands that encrypt short strings.
var ChunkCmd = &cobra.Command{
	Use:   "chunk",
	Short: "Encrypt and decrypt short strings as self-describing chunks",
	Long: `Encrypts short strings into chunks that carry the tag of the key that
protects them, so they can be decrypted later by any device with access
to that key.

Pass the input as an argument, or '-' (or nothing) to read it from stdin.

Examples:
  keyward chunk encrypt 'card 4111 1111 1111 1111'
  echo -n secret | keyward chunk encrypt --version v1
  keyward chunk decrypt '~!2!0a1b2c...!c2VjcmV0!'`,
}

func init() {
	chunkEncryptCmd.Flags().StringVar(&chunkVersion, "version", string(chunk.V2), "chunk format: v1 or v2")
	chunkEncryptCmd.Flags().StringVar(&chunkTag, "tag", "", "reuse the key with this tag instead of creating one")
	chunkEncryptCmd.Flags().StringArrayVar(&chunkAttrs, "attr", nil, "fixed attribute of a new key as key=value (repeatable)")
	chunkEncryptCmd.Flags().StringArrayVar(&chunkMutable, "mattr", nil, "mutable attribute of a new key as key=value (repeatable)")
	chunkEncryptCmd.Flags().StringArrayVar(&chunkMetadata, "meta", nil, "request metadata as key=value (repeatable)")

	chunkDecryptCmd.Flags().StringArrayVar(&chunkMetadata, "meta", nil, "request metadata as key=value (repeatable)")

	ChunkCmd.AddCommand(chunkEncryptCmd)
	ChunkCmd.AddCommand(chunkDecryptCmd)
}

// resetChunkCommandState resets the chunk commands' global state for testing.
func resetChunkCommandState() {
	chunkVersion = string(chunk.V2)
	chunkTag = ""
	chunkAttrs = nil
	chunkMutable = nil
	chunkMetadata = nil
}

var chunkEncryptCmd = &cobra.Command{
	Use:   "encrypt [text|-]",
	Short: "Encrypt a string into a chunk",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting chunk encrypt command")
		Logger.Debugf("Flags: version=%s, tag=%s", chunkVersion, chunkTag)

		if _, err := chunk.ParseVersion(chunkVersion); err != nil {
			return err
		}
		attrs, err := parseAttributes(chunkAttrs)
		if err != nil {
			return err
		}
		mutable, err := parseAttributes(chunkMutable)
		if err != nil {
			return err
		}
		meta, err := parseMetadata(chunkMetadata)
		if err != nil {
			return err
		}
		plaintext, err := readInput(args)
		if err != nil {
			return err
		}
		auth, err := resolveUserAuth()
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Encrypting...", verbose)
		defer cleanup()

		env, err := environmentFactory()
		if err != nil {
			return fail(spinner, "load configuration", err)
		}
		defer env.Close()

		encoded, err := workflows.EncryptChunk(context.Background(), env, plaintext, workflows.ChunkOptions{
			UserAuth:          auth,
			Version:           chunkVersion,
			Tag:               chunkTag,
			Attributes:        attrs,
			MutableAttributes: mutable,
			Metadata:          meta,
		})
		if err != nil {
			return fail(spinner, "encrypt chunk", err)
		}

		spinner.FinalMSG = encoded
		return nil
	},
}

var chunkDecryptCmd = &cobra.Command{
	Use:   "decrypt [chunk|-]",
	Short: "Decrypt a chunk back into its string",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting chunk decrypt command")

		encoded, err := readInput(args)
		if err != nil {
			return err
		}
		record, err := chunk.Decode(encoded)
		if err != nil {
			return err
		}
		Logger.Debugf("Chunk is protected by key %s", record.Tag)

		meta, err := parseMetadata(chunkMetadata)
		if err != nil {
			return err
		}
		auth, err := resolveUserAuth()
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Decrypting...", verbose)
		defer cleanup()

		env, err := environmentFactory()
		if err != nil {
			return fail(spinner, "load configuration", err)
		}
		defer env.Close()

		plaintext, err := workflows.DecryptChunk(context.Background(), env, encoded, workflows.ChunkOptions{
			UserAuth: auth,
			Metadata: meta,
		})
		if err != nil {
			return fail(spinner, "decrypt chunk", err)
		}

		spinner.FinalMSG = plaintext
		return nil
	},
}
