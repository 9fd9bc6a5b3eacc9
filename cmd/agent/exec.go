package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ozzus/sensu-agent/internal/checks"
	"ozzus/sensu-agent/internal/config"
	"ozzus/sensu-agent/internal/domain"
)

var flagExecTimeout time.Duration

func init() {
	execCmd.Flags().DurationVar(&flagExecTimeout, "timeout", 0, "kill the command after this long")
}

// exitCodeError carries a check status out of a command so main can exit
// with it after deferred work has run.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// execCmd runs one command the way a check would run it, with client
// tokens substituted, and exits with the check status.
var execCmd = &cobra.Command{
	Use:   "exec -- COMMAND",
	Short: "execute a single check command locally and print its output",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	log := slog.Default()
	raw := strings.Join(args, " ")

	plugins := ""
	client := map[string]interface{}{}
	if store, err := config.NewStore(log, env.ConfigFile, env.ConfigDir); err == nil {
		plugins = store.Plugins()
		client = store.ClientTree()
	} else {
		log.Warn("running without configuration", slog.String("error", err.Error()))
	}

	out := cmd.OutOrStdout()
	command, err := checks.Substitute(raw, client)
	if err != nil {
		fmt.Fprintln(out, checks.SubstitutionFailure(err))
		return &exitCodeError{code: domain.StatusUnknown}
	}

	result := newEngine(log).Run(cmd.Context(), checks.CommandConfig{Plugins: plugins, Timeout: flagExecTimeout}, command)
	fmt.Fprint(out, result.Output)
	if !strings.HasSuffix(result.Output, "\n") {
		fmt.Fprintln(out)
	}
	if result.Status != domain.StatusOK {
		return &exitCodeError{code: result.Status}
	}
	return nil
}
