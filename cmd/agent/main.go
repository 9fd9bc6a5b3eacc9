package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ozzus/sensu-agent/internal/config"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

var (
	env config.Env

	flagConfigFile string
	flagConfigDir  string
	flagEnv        string
)

func main() {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "main configuration file (env SENSU_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "directory of configuration fragments (env SENSU_CONFIG_DIR)")
	rootCmd.PersistentFlags().StringVar(&flagEnv, "env", "", "logger flavour: local, dev or prod (env SENSU_ENV)")
	rootCmd.PersistentPreRunE = initAgent

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		var exit *exitCodeError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		slog.Error("sensu-agent failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "sensu-agent",
	Short:         "Monitoring agent executing checks for a Sensu server",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          doRun,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "connect to the bus and start executing checks",
	RunE:  doRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the agent version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sensu-agent: %s\n", version)
		if info, ok := debug.ReadBuildInfo(); ok {
			fmt.Printf("go:          %s\n", info.GoVersion)
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					fmt.Printf("commit:      %s\n", s.Value)
				}
			}
		}
	},
}

// initAgent resolves the environment, letting flags win, and installs the
// default logger.
func initAgent(cmd *cobra.Command, args []string) error {
	var err error
	env, err = config.LoadEnv()
	if err != nil {
		return err
	}
	if flagConfigFile != "" {
		env.ConfigFile = flagConfigFile
	}
	if flagConfigDir != "" {
		env.ConfigDir = flagConfigDir
	}
	if flagEnv != "" {
		env.Env = flagEnv
	}

	slog.SetDefault(setupLogger(env.Env))
	return nil
}
