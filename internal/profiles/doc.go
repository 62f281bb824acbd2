// Package profiles stores device profiles encrypted under a key derived
// from the user's credentials.
//
// Profiles are grouped by Scope (origin, application, user). Each scope
// holds a list of base64(iv || AES-CTR(JSON(profile))) entries in a
// storage.Backend. At most one profile per scope is active.
//
// A Session is the explicit replacement for a process-wide "current user":
// it is loaded once per scope and hands the active profile to the request
// envelope, which reports back through MarkHfpSent.
package profiles
