// Package audit records state-changing keyward operations.
//
// Entries are appended as JSON lines to audit.jsonl in the user data
// directory ($XDG_DATA_HOME/keyward). Each line names the operation, the
// profile scope it ran under and operation-specific details such as the
// device or key identifiers involved:
//
//	{"ts":"2026-01-02T03:04:05.000000Z","op":"keys.create","origin":"https://app.example.com","app":"app","user":"alice","key_ids":["K0000001"]}
//
// Logging is best-effort: a failed write never fails the operation.
// ReadEntries skips malformed lines left behind by partial writes.
package audit
