package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/obexgo/internal/logging"
	"github.com/spf13/cobra"
)

var rootFlags struct {
	config   string
	overlay  string
	logLevel string
	logFile  string
	token    string
}

// tokenEnv supplies the presented token when --token is not set.
const tokenEnv = "OBEX_TOKEN"

// presentedToken is the token offered to the opener check. The config
// file's token is the one required.
func presentedToken() string {
	if tok := strings.TrimSpace(rootFlags.token); tok != "" {
		return tok
	}
	return strings.TrimSpace(os.Getenv(tokenEnv))
}

var rootCmd = &cobra.Command{
	Use:           "obexctl",
	Short:         "OBEX object exchange server and client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := logging.DefaultConfig(logging.ProfileRuntime)
		if raw := strings.TrimSpace(rootFlags.logLevel); raw != "" {
			lvl, ok := logging.ParseLevel(raw)
			if !ok {
				return fmt.Errorf("unknown log level %q", raw)
			}
			cfg.Level = lvl
		}
		cfg.File = strings.TrimSpace(rootFlags.logFile)
		logging.Apply(cfg)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&rootFlags.config, "config", "c", "", "config file (server or client, by command)")
	pf.StringVar(&rootFlags.overlay, "overlay", "", "toml file whose defined keys override the config")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "trace|debug|info|warn|error")
	pf.StringVar(&rootFlags.logFile, "log-file", "", "also write JSON logs to this rotated file")
	pf.StringVar(&rootFlags.token, "token", "", "token presented when the config requires one (default $"+tokenEnv+")")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "obexctl: %v\n", err)
		os.Exit(1)
	}
}
