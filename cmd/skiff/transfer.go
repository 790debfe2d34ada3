package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/skiffhq/skiff/internal/scp"
	"github.com/skiffhq/skiff/internal/sftp"
)

func newPushCmd() *cobra.Command {
	var (
		useSFTP bool
		modeStr string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "push LOCAL REMOTE",
		Short: "Copy a local file to the remote host",
		Long: `Copy a local file to the remote host.

The default engine is SCP; --sftp switches to the SFTP subsystem, which
refuses to overwrite an existing remote file.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			localPath, remotePath := args[0], args[1]
			mode, err := strconv.ParseUint(modeStr, 8, 32)
			if err != nil {
				return fmt.Errorf("invalid --mode %q: %w", modeStr, err)
			}

			c, err := dialFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close("push done")

			var n int64
			if useSFTP {
				sub, err := sftp.Open(c)
				if err != nil {
					return err
				}
				defer sub.Close()
				n, err = sub.SendFile(os.FileMode(mode), localPath, remotePath, sftp.WithLimit(limit))
				if err != nil {
					return err
				}
			} else {
				n, err = scp.Send(c, os.FileMode(mode), localPath, remotePath, scp.WithLimit(limit))
				if err != nil {
					return err
				}
			}
			log.Info().Str("remote", remotePath).Int64("bytes", n).Msg("push complete")
			fmt.Printf("%s -> %s (%d bytes)\n", localPath, remotePath, n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&useSFTP, "sftp", false, "transfer via the SFTP subsystem instead of SCP")
	cmd.Flags().StringVar(&modeStr, "mode", "644", "permission bits for the created remote file (octal)")
	cmd.Flags().IntVar(&limit, "limit", 0, "throughput cap in bytes/sec (0 = unlimited)")
	return cmd
}

func newPullCmd() *cobra.Command {
	var (
		useSFTP bool
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "pull REMOTE LOCAL",
		Short: "Copy a remote file to the local machine",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remotePath, localPath := args[0], args[1]

			c, err := dialFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close("pull done")

			var n int64
			if useSFTP {
				sub, err := sftp.Open(c)
				if err != nil {
					return err
				}
				defer sub.Close()
				n, err = sub.ReceiveFile(localPath, remotePath, sftp.WithLimit(limit))
				if err != nil {
					return err
				}
			} else {
				n, err = scp.Receive(c, remotePath, localPath, scp.WithLimit(limit))
				if err != nil {
					return err
				}
			}
			log.Info().Str("remote", remotePath).Int64("bytes", n).Msg("pull complete")
			fmt.Printf("%s -> %s (%d bytes)\n", remotePath, localPath, n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&useSFTP, "sftp", false, "transfer via the SFTP subsystem instead of SCP")
	cmd.Flags().IntVar(&limit, "limit", 0, "throughput cap in bytes/sec (0 = unlimited)")
	return cmd
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls REMOTE_DIR",
		Short: "List a remote directory via SFTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close("ls done")

			sub, err := sftp.Open(c)
			if err != nil {
				return err
			}
			defer sub.Close()

			entries, err := sub.ListDir(args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s %12d %s %s\n", e.Mode, e.Size, e.ModTime.Format("2006-01-02 15:04"), e.Name)
			}
			return nil
		},
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename OLD NEW",
		Short: "Rename a remote path via SFTP",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close("rename done")

			sub, err := sftp.Open(c)
			if err != nil {
				return err
			}
			defer sub.Close()

			if err := sub.Rename(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("%s -> %s\n", args[0], args[1])
			return nil
		},
	}
}
