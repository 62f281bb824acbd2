package utils

import (
	"os/user"
	"strings"
)

// GetUsername returns the current username.
func GetUsername() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// DefaultUserID returns an identifier for the local user, suitable as the
// user_id of a fresh configuration. It falls back to "user" when the
// account name cannot be read.
func DefaultUserID() string {
	name, err := GetUsername()
	if err != nil {
		return "user"
	}
	// Windows account names carry the domain.
	if i := strings.LastIndexByte(name, '\\'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "user"
	}
	return name
}
