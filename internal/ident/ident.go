// Package ident resolves the acting user recorded on signs and audit
// entries.
package ident

import (
	"os"
	"os/user"
)

// Whoami returns the OS user name, falling back to $USER, then "unknown".
func Whoami() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
