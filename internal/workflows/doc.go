// Package workflows implements each keyward command's business logic.
//
// The cmd package parses flags, calls one workflow and formats its result.
// Workflows load profiles, talk to the key service and record audit
// entries. They take the command's context, an *Environment opened from the
// user configuration, and an options struct:
//
//	env, err := workflows.OpenEnvironment(config, log)
//	defer env.Close()
//	result, err := workflows.CreateKeys(ctx, env, workflows.CreateKeysOptions{...})
//
// Errors carry codes from internal/errors; use errors.Is against the
// sentinels (ErrNoDeviceProfile, ErrKeyDenied, ...) to choose a message.
package workflows
