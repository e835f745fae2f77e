package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/openkcm/common-sdk/pkg/utils"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/marko-app/marko/cmd/marko/auth"
	"github.com/marko-app/marko/cmd/marko/device"
	"github.com/marko-app/marko/cmd/marko/groups"
	"github.com/marko-app/marko/cmd/marko/watch"
	"github.com/marko-app/marko/internal/business"
	"github.com/marko-app/marko/internal/cmdutils"
)

var (
	// BuildInfo will be set by the build system
	BuildInfo = "{}"

	isServiceCmd     bool
	gracefulShutdown time.Duration
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Marko Version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		value, err := utils.ExtractFromComplexValue(BuildInfo)
		if err != nil {
			return err
		}

		slog.InfoContext(cmd.Context(), value)
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), value)

		return nil
	},
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "marko",
		Short:         "Marko",
		Long:          "Marko command line client: sign in, manage groups and report where you are.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().DurationVar(&gracefulShutdown, "graceful-shutdown", 1*time.Second, "graceful shutdown of long running commands")
	cmd.PersistentFlags().StringP(cmdutils.OutputFlag, "o", string(cmdutils.FormatYAML), "output format, yaml or json")

	watchCmd := watch.Cmd(BuildInfo)
	run := watchCmd.RunE
	watchCmd.RunE = func(cmd *cobra.Command, args []string) error {
		isServiceCmd = true
		return run(cmd, args)
	}

	cmd.AddCommand(
		versionCmd,
		cmdutils.CobraCommand(
			"health",
			"Check the backend",
			"Check whether the backend answers its health endpoint",
			BuildInfo,
			cmdutils.RunAsJob,
			business.HealthMain,
		),
		cmdutils.CobraCommand(
			"activity",
			"Show recent activity",
			"Show the notifications of your groups",
			BuildInfo,
			cmdutils.RunAsJob,
			business.ActivityMain,
		),
		groups.Cmd(BuildInfo),
		watchCmd,
	)
	cmd.AddCommand(auth.Cmds(BuildInfo)...)
	cmd.AddCommand(device.Cmds(BuildInfo)...)

	return cmd
}

func execute() error {
	ctx, cancelOnSignal := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer cancelOnSignal()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		slogctx.Error(ctx, "failed to run the command", "error", err)
		_, _ = fmt.Fprintln(os.Stderr, err)

		return err
	}

	if isServiceCmd {
		_, _ = fmt.Fprintf(os.Stderr, "Graceful shutdown in %s\n", gracefulShutdown)
		time.Sleep(gracefulShutdown)
	}

	return nil
}

func main() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}
