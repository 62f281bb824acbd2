package utils

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// ReadSecret prompts for a secret such as the user credential without
// echoing input. Returns an error if stdin is not a terminal.
func ReadSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("cannot read %s: stdin is not a terminal", prompt)
	}

	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return string(secret), nil
}

// IsTerminal returns true if stdin is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
