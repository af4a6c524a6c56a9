// Package main provides the notifylog CLI: run the pipeline as a service,
// emit a single record through it, validate a config file or read the archive.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"notifylog/internal/app"
	"notifylog/internal/config"
	"notifylog/internal/record"
	"notifylog/internal/router"
	logx "notifylog/pkg/logx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "notifylog",
		Short:         "Multi-sink log distribution and notification pipeline",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (json or yaml)")

	root.AddCommand(
		newServeCmd(&cfgPath),
		newEmitCmd(&cfgPath),
		newValidateCmd(&cfgPath),
		newArchiveCmd(&cfgPath),
	)
	return root
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline and the streaming server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *cfgPath)
		},
	}
}

func serve(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return fmt.Errorf("fatal: %w", err)
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("fatal start: %w", err)
	}
	notifySystemd(a.Logger(), daemon.SdNotifyReady)

	reason := app.StopUnknown
	select {
	case sig := <-sigs:
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		} else {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
		if parent.Err() != nil {
			reason = app.StopAppStop
		}
	}

	notifySystemd(a.Logger(), daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	stopErr := a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil {
		return err
	}
	return stopErr
}

// notifySystemd is a no-op outside a systemd unit with NOTIFY_SOCKET.
func notifySystemd(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

type emitFlags struct {
	level   string
	author  string
	details string
	silent  bool
}

func newEmitCmd(cfgPath *string) *cobra.Command {
	var f emitFlags
	cmd := &cobra.Command{
		Use:   "emit [flags] <message>",
		Short: "Send one record through the configured sinks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(cmd.Context(), *cfgPath, f, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&f.level, "level", "l", "INFO", fmt.Sprintf("record level, one of: %v", levelNames()))
	cmd.Flags().StringVar(&f.author, "author", "", "author shown in brackets")
	cmd.Flags().StringVar(&f.details, "details", "", "details appended after the message")
	cmd.Flags().BoolVar(&f.silent, "silent", false, "skip notification sinks")

	if err := cmd.RegisterFlagCompletionFunc("level",
		cobra.FixedCompletions(levelNames(), cobra.ShellCompDirectiveNoFileComp)); err != nil {
		fmt.Fprintf(os.Stderr, "register completions: %v\n", err)
	}
	return cmd
}

func emit(ctx context.Context, cfgPath string, f emitFlags, msg string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	level, err := record.ParseLevel(f.level)
	if err != nil {
		return err
	}
	a, err := app.NewApp(cfgPath, app.WithoutServer())
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	r := a.Router()
	ctx = r.Contextualize(ctx, f.author, f.details)
	var opts []router.Option
	if f.silent {
		opts = append(opts, router.Silent())
	}
	r.Log(ctx, level, msg, opts...)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.Stop(stopCtx, app.StopAppStop)
}

func newValidateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and list the sinks it enables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return validate(cmd.OutOrStdout(), *cfgPath)
		},
	}
}

func validate(out io.Writer, cfgPath string) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	handlers, level, err := router.HandlersFromConfig(cfg.Logging, router.Deps{})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "ok: console at %s plus %d handler(s)\n", level, len(handlers))
	return nil
}

func newArchiveCmd(cfgPath *string) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Print the most recent archived records, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printArchive(cmd.Context(), cmd.OutOrStdout(), *cfgPath, limit, asJSON)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "records to print; 0 prints all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per line")
	return cmd
}

func printArchive(ctx context.Context, out io.Writer, cfgPath string, limit int, asJSON bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	st, err := app.OpenArchive(cfg, logx.Nop())
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.Recent(ctx, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, e := range entries {
		if asJSON {
			if err := enc.Encode(e); err != nil {
				return err
			}
			continue
		}
		line := fmt.Sprintf("%s | %s | %s", e.Time.Format(record.TimestampLayout), e.Level, e.Message)
		if e.Error != "" {
			line += " | " + e.Error
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

func levelNames() []string {
	var names []string
	for _, l := range record.Levels() {
		names = append(names, l.String())
	}
	return names
}
