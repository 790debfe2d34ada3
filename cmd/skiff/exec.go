package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skiffhq/skiff/internal/channel"
)

func newExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec -- COMMAND [ARG...]",
		Short: "Run a command on the remote host and print its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close("exec done")

			status, out, err := channel.Output(c, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if _, err := os.Stdout.Write(out); err != nil {
				return err
			}
			if status != 0 {
				// Propagate the remote exit status like ssh(1) does.
				return fmt.Errorf("remote command exited %d", status)
			}
			return nil
		},
	}
}
