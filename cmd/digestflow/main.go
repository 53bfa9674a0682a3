package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"digestflow/internal/api"
	"digestflow/internal/config"
	"digestflow/internal/domain"
	"digestflow/internal/queue"
	"digestflow/internal/recurrence"
	"digestflow/internal/scheduler"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var (
		envFiles []string
		cfg      config.Config
	)

	root := &cobra.Command{
		Use:          "digestflow",
		Short:        "Recurring digest scheduler and summary pipeline",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			// Flags override file and environment values.
			flags := cmd.Flags()
			if flags.Changed("db") {
				loaded.DBPath = cfg.DBPath
			}
			if flags.Changed("addr") {
				loaded.Address = cfg.Address
			}
			if flags.Changed("cron") {
				loaded.DispatchCron = cfg.DispatchCron
			}
			if flags.Changed("log-level") {
				loaded.LogLevel = cfg.LogLevel
			}
			cfg = loaded
			setupLogging(cfg)
			return nil
		},
	}

	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load (default ./.env if present)")
	root.PersistentFlags().StringVar(&cfg.DBPath, "db", "digestflow.db", "SQLite DB path")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", "info", "log level")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic dispatch trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
	serve.Flags().StringVar(&cfg.Address, "addr", ":8080", "HTTP bind address")
	serve.Flags().StringVar(&cfg.DispatchCron, "cron", "@every 1m", "dispatch schedule (cron expression)")

	dispatch := &cobra.Command{
		Use:   "dispatch",
		Short: "Run one dispatch pass and wait for it to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd.Context(), cfg)
		},
	}

	var sched domain.RecurrenceSchedule
	var from string
	next := &cobra.Command{
		Use:   "next [owner-id]",
		Short: "Print the next occurrence of an owner's schedule, or of the schedule given by flags",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if from != "" {
				t, err := time.Parse(time.RFC3339, from)
				if err != nil {
					return errors.Wrap(err, "--from")
				}
				now = t
			}
			if len(args) == 1 {
				return runNextForOwner(cmd, cfg, args[0], now)
			}
			for _, p := range recurrence.Problems(sched) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s, using default\n", p)
			}
			printNext(cmd, sched, now)
			return nil
		},
	}
	nf := next.Flags()
	nf.StringVar((*string)(&sched.Frequency), "frequency", string(domain.Weekly), "weekly or monthly")
	nf.StringVar(&sched.TimeOfDay, "time", recurrence.DefaultTimeOfDay, "local time of day, HH:MM")
	nf.IntVar(&sched.DayOfWeek, "day-of-week", 1, "1=Monday..7=Sunday")
	nf.IntVar(&sched.DayOfMonth, "day-of-month", 1, "1..31, clamped to month length")
	nf.IntVar(&sched.TimezoneOffsetMinutes, "offset", 0, "minutes to add to local time to get UTC")
	nf.StringVar(&sched.StopDate, "stop", "", "inclusive local stop date, YYYY-MM-DD")
	nf.StringVar(&from, "from", "", "evaluate from this RFC3339 instant instead of now")

	root.AddCommand(serve, dispatch, next)
	return root
}

func runServe(ctx context.Context, cfg config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	trigger, err := scheduler.NewService(a.disp, cfg.DispatchCron)
	if err != nil {
		return err
	}
	if err := trigger.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{Addr: cfg.Address, Handler: api.NewServerWithDebug(a.repo, a.disp, cfg.EnableDebug)}
	go func() {
		log.Info().Str("addr", cfg.Address).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	<-trigger.Stop().Done()
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	log.Info().Msg("waiting for in-flight deliveries")
	return nil
}

func runDispatch(ctx context.Context, cfg config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.disp.RunPass(ctx, time.Now())
	if err != nil {
		return err
	}
	a.disp.Wait()
	st := a.disp.Stats()
	log.Info().
		Int("launched", n).
		Int64("delivered", st.Delivered).
		Int64("failed", st.Failed).
		Int64("conflicts", st.Conflicts).
		Msg("dispatch pass complete")
	return nil
}

func runNextForOwner(cmd *cobra.Command, cfg config.Config, ownerID string, now time.Time) error {
	db, err := openStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := queue.NewSQLiteRepo(db).GetOwnerSchedule(cmd.Context(), ownerID)
	if err != nil {
		return err
	}
	printNext(cmd, s, now)
	return nil
}

func printNext(cmd *cobra.Command, s domain.RecurrenceSchedule, now time.Time) {
	next, ok := recurrence.Next(s, now)
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "exhausted")
		return
	}
	local := recurrence.ToLocal(next, s.TimezoneOffsetMinutes)
	fmt.Fprintf(cmd.OutOrStdout(), "%s (local %s)\n", next.Format(time.RFC3339), local.Format("2006-01-02 15:04 Mon"))
}
