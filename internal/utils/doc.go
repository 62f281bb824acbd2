// Package utils provides small helpers shared by the CLI and workflows.
//
//   - ExpandPatterns and FileExists resolve file arguments, with ** globs.
//   - FormatPaths and the URL validators prepare and check user input.
//   - ReadStdin and ReadSecret read piped data and hidden credentials.
//   - GetUsername and DefaultUserID identify the local account.
package utils
