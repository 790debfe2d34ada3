package main

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/skiffhq/skiff/internal/client"
)

// dialFromFlags opens the SSH connection described by the persistent flags.
// The password comes from SKIFF_SSH_PASSWORD or an interactive prompt, never
// from argv where it would leak into process listings.
func dialFromFlags(ctx context.Context) (*client.Client, error) {
	if flagHost == "" {
		return nil, fmt.Errorf("--host is required")
	}

	cfg := client.Config{
		Host:           flagHost,
		Port:           flagPort,
		User:           flagUser,
		AuthType:       flagAuth,
		PrivateKeyPath: flagKeyPath,
		Passphrase:     os.Getenv("SKIFF_KEY_PASSPHRASE"),
		KnownHostsPath: flagKnownHosts,
		StrictHostKey:  flagStrict,
	}
	if flagKeyPath != "" {
		cfg.AuthType = client.AuthPrivateKey
	}

	if cfg.AuthType == client.AuthPassword {
		cfg.Password = os.Getenv("SKIFF_SSH_PASSWORD")
		if cfg.Password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintf(os.Stderr, "%s@%s's password: ", cfg.User, cfg.Host)
			b, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return nil, fmt.Errorf("read password: %w", err)
			}
			cfg.Password = string(b)
		}
	}

	return client.Dial(ctx, cfg)
}
