// Command skiff is an SSH client toolkit: remote execution, interactive
// shells, SCP and SFTP transfers, and an HTTP/WebSocket gateway exposing the
// same operations as a service.
package main

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagHost       string
	flagPort       int
	flagUser       string
	flagAuth       string
	flagKeyPath    string
	flagKnownHosts string
	flagStrict     bool
	flagLogLevel   string
	flagPretty     bool
)

func main() {
	root := &cobra.Command{
		Use:           "skiff",
		Short:         "SSH remote execution and file transfer toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogger()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flagHost, "host", "H", "", "target hostname or IP")
	pf.IntVarP(&flagPort, "port", "p", 22, "target SSH port")
	pf.StringVarP(&flagUser, "user", "u", currentUser(), "login username")
	pf.StringVar(&flagAuth, "auth", "password", "auth type: password or private_key")
	pf.StringVarP(&flagKeyPath, "key", "i", "", "PEM private key file (implies --auth private_key)")
	pf.StringVar(&flagKnownHosts, "known-hosts", defaultKnownHosts(), "known_hosts file for host-key verification (empty disables)")
	pf.BoolVar(&flagStrict, "strict", false, "reject hosts absent from known_hosts")
	pf.StringVar(&flagLogLevel, "log-level", "warn", "log level")
	pf.BoolVar(&flagPretty, "pretty", false, "human-readable log output")

	root.AddCommand(
		newExecCmd(),
		newShellCmd(),
		newPushCmd(),
		newPullCmd(),
		newLsCmd(),
		newRenameCmd(),
		newServeCmd(),
		newWorkerCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func setupLogger() {
	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)
	if flagPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "root"
}

func defaultKnownHosts() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}
