package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/driftsound/driftsound/internal/conf"
	"github.com/driftsound/driftsound/internal/cookie"
)

// dumpCookieCommand prints the base64-encoded bytes of the authentication
// cookie at auth.cookiepath, generating one if it doesn't exist yet
// (cookie.Load's own behavior) — useful for copying the cookie to a
// remote client by hand (spec.md §6 "Authentication cookie").
func dumpCookieCommand(settings **conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "dump-cookie",
		Short: "print the current authentication cookie, base64-encoded",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := expandTilde((*settings).Auth.CookiePath)
			if err != nil {
				return fmt.Errorf("resolving cookie path: %w", err)
			}

			ck, err := cookie.Load(path)
			if err != nil {
				return fmt.Errorf("loading cookie: %w", err)
			}

			fmt.Println(base64.StdEncoding.EncodeToString(ck.Bytes()))
			return nil
		},
	}
}

// expandTilde expands a leading "~" or "~/" into the current user's home
// directory. conf.GetBasePath deliberately only expands environment
// variables, not "~", so auth.cookiepath (which config.yaml ships as
// "~/.config/driftsoundd/cookie") needs its own expansion here.
func expandTilde(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}
