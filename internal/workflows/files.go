package workflows

import (
	"context"
	"os"
	"strings"

	"github.com/PolarWolf314/keyward/internal/audit"
	kerrors "github.com/PolarWolf314/keyward/internal/errors"
	"github.com/PolarWolf314/keyward/internal/filecipher"
	"github.com/PolarWolf314/keyward/internal/keys"
	"github.com/PolarWolf314/keyward/internal/utils"
)

// EncryptedExtension is appended to encrypted files.
const EncryptedExtension = ".ion"

// FilesOptions configures the file workflows.
type FilesOptions struct {
	UserAuth string

	// Patterns are paths or doublestar globs relative to Root.
	Patterns []string
	Root     string

	// DryRun reports what would be written without writing.
	DryRun bool

	Attributes        keys.Attributes
	MutableAttributes keys.Attributes
	Metadata          map[string]any
}

// FileResult pairs an input file with the file written for it.
type FileResult struct {
	Source string
	Output string
}

// FilesResult contains the outcome of a file workflow.
type FilesResult struct {
	Files  []FileResult
	DryRun bool
}

// EncryptFiles writes a version 1.2 container next to each matched file,
// each under its own new key.
//
// Returns ErrMissingValue if nothing matches the patterns.
func EncryptFiles(ctx context.Context, env *Environment, opts FilesOptions) (*FilesResult, error) {
	sources, err := resolveFiles(opts)
	if err != nil {
		return nil, err
	}

	result := &FilesResult{DryRun: opts.DryRun}
	for _, src := range sources {
		result.Files = append(result.Files, FileResult{Source: src, Output: src + EncryptedExtension})
	}
	if opts.DryRun {
		return result, nil
	}

	cipher, err := env.fileCipher(ctx, opts.UserAuth)
	if err != nil {
		return nil, err
	}

	for _, f := range result.Files {
		plaintext, err := os.ReadFile(f.Source)
		if err != nil {
			return nil, kerrors.Wrap(kerrors.CodeInvalidValue, "reading "+f.Source, err)
		}
		out, err := cipher.Encrypt(ctx, plaintext, filecipher.EncryptOptions{
			Attributes:        opts.Attributes,
			MutableAttributes: opts.MutableAttributes,
			Metadata:          opts.Metadata,
		})
		if err != nil {
			return nil, kerrors.Wrap(kerrors.CodeCryptoError, "encrypting "+f.Source, err)
		}
		if err := os.WriteFile(f.Output, out, 0600); err != nil {
			return nil, kerrors.Wrap(kerrors.CodeUnknown, "writing "+f.Output, err)
		}
		env.Log.Infof("Encrypted %s -> %s", f.Source, f.Output)
	}

	logFiles("file.encrypt", env, result)
	return result, nil
}

// DecryptFiles decrypts each matched container. Outputs drop the .ion
// extension; files without it get .dec appended.
//
// Returns ErrMissingValue if nothing matches the patterns.
// Returns ErrCryptoError if a container fails verification.
func DecryptFiles(ctx context.Context, env *Environment, opts FilesOptions) (*FilesResult, error) {
	sources, err := resolveFiles(opts)
	if err != nil {
		return nil, err
	}

	result := &FilesResult{DryRun: opts.DryRun}
	for _, src := range sources {
		out := strings.TrimSuffix(src, EncryptedExtension)
		if out == src {
			out = src + ".dec"
		}
		result.Files = append(result.Files, FileResult{Source: src, Output: out})
	}
	if opts.DryRun {
		return result, nil
	}

	cipher, err := env.fileCipher(ctx, opts.UserAuth)
	if err != nil {
		return nil, err
	}

	for _, f := range result.Files {
		data, err := os.ReadFile(f.Source)
		if err != nil {
			return nil, kerrors.Wrap(kerrors.CodeInvalidValue, "reading "+f.Source, err)
		}
		plaintext, err := cipher.Decrypt(ctx, data, opts.Metadata)
		if err != nil {
			return nil, kerrors.Wrap(kerrors.CodeCryptoError, "decrypting "+f.Source, err)
		}
		if err := os.WriteFile(f.Output, plaintext, 0600); err != nil {
			return nil, kerrors.Wrap(kerrors.CodeUnknown, "writing "+f.Output, err)
		}
		env.Log.Infof("Decrypted %s -> %s", f.Source, f.Output)
	}

	logFiles("file.decrypt", env, result)
	return result, nil
}

func resolveFiles(opts FilesOptions) ([]string, error) {
	if len(opts.Patterns) == 0 {
		return nil, kerrors.New(kerrors.CodeMissingValue, "no files given")
	}
	root := opts.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, kerrors.Wrap(kerrors.CodeUnknown, "getting working directory", err)
		}
		root = wd
	}
	files, err := utils.ExpandPatterns(opts.Patterns, root)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.CodeInvalidValue, "resolving files", err)
	}
	if len(files) == 0 {
		return nil, kerrors.New(kerrors.CodeMissingValue, "no files match %v", opts.Patterns)
	}
	return files, nil
}

func logFiles(op string, env *Environment, result *FilesResult) {
	entry := audit.ForScope(op, env.Scope())
	for _, f := range result.Files {
		entry.Files = append(entry.Files, f.Output)
	}
	audit.Log(entry)
}
