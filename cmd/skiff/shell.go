package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/skiffhq/skiff/internal/channel"
)

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Open an interactive shell on the remote host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close("shell done")

			ch, err := channel.Open(c)
			if err != nil {
				return err
			}
			defer ch.Close()

			termType := os.Getenv("TERM")
			if termType == "" {
				termType = "xterm-256color"
			}
			if err := ch.RequestPTY(termType); err != nil {
				return err
			}
			if err := ch.Shell(); err != nil {
				return err
			}

			fd := int(os.Stdin.Fd())
			if term.IsTerminal(fd) {
				oldState, err := term.MakeRaw(fd)
				if err != nil {
					return err
				}
				defer term.Restore(fd, oldState)

				if cols, rows, err := term.GetSize(fd); err == nil {
					_ = ch.Resize(uint16(rows), uint16(cols))
				}
			}

			// Keystrokes up; remote output down until the peer ends the
			// session.
			go func() {
				_, _ = io.Copy(ch, os.Stdin)
				_ = ch.SendEOF()
			}()
			_, err = io.Copy(os.Stdout, ch.BlockingReader())
			return err
		},
	}
}
