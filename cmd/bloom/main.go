// Package main is the entry point of the progress service.
//
// bloom serve runs the HTTP API together with the streak role sweep.
// The other subcommands are one-shot operator tools that use the same wiring.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bloom-hub/bloom-progress/config"
	"github.com/bloom-hub/bloom-progress/internal/application/command"
	"github.com/bloom-hub/bloom-progress/internal/application/query"
	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/persistence/postgres"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/scheduler"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/scheduler/jobs"
	bloomhttp "github.com/bloom-hub/bloom-progress/internal/interface/http"
	"github.com/bloom-hub/bloom-progress/internal/interface/http/handlers"
	"github.com/bloom-hub/bloom-progress/pkg/timeutil"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bloom",
		Short:         "Meditation progress, streaks and role ladders",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newProgressCmd())
	root.AddCommand(newCommunityCmd())
	root.AddCommand(newRecordCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newSweepCmd())
	root.AddCommand(newHashTokenCmd())
	return root
}

// withApp loads configuration, wires the application and runs fn with it.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVE
// ══════════════════════════════════════════════════════════════════════════════

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the streak role sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, serve)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	log := a.log
	log.Info("starting bloom progress service",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"store", cfg.Store.Driver,
		"horizon_days", a.ladder.Horizon(),
	)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(scheduler.Config{
			Logger:            log,
			JobTimeout:        cfg.Scheduler.JobTimeout,
			MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		})
		sweep := jobs.NewSweepStreakRolesJob(a.store, a.syncRoles,
			jobs.DefaultSweepStreakRolesConfig(a.ladder.Horizon()), log)
		schedule, err := sweepSchedule(cfg.Scheduler)
		if err != nil {
			return err
		}
		if err := sched.Register(sweep, schedule); err != nil {
			return fmt.Errorf("failed to register sweep job: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
				log.Warn("scheduler stop failed", "error", err)
			}
		}()
	}

	httpCfg := bloomhttp.DefaultConfig()
	httpCfg.Addr = cfg.HTTP.Addr
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout

	auth := handlers.NewTokenAuth(cfg.HTTP.APITokenHash)
	if !auth.Enabled() {
		log.Warn("API_TOKEN_HASH is empty, the API is unauthenticated")
	}

	deps := bloomhttp.Dependencies{
		GetUserProgress:   a.getProgress,
		RecordSession:     a.recordSession,
		SyncRoles:         a.syncRoles,
		GetCommunityStats: a.communityStats,
		Health:            a.health,
		Auth:              auth,
		Logger:            log,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Gatherer = a.registry
	}

	server := bloomhttp.NewServer(httpCfg, deps)
	if err := server.Run(ctx, cfg.App.ShutdownTimeout); err != nil {
		return err
	}
	log.Info("shutdown completed successfully")
	return nil
}

func sweepSchedule(sc config.SchedulerConfig) (scheduler.Schedule, error) {
	if sc.SweepCron == "" {
		return scheduler.NewIntervalSchedule(sc.SweepInterval), nil
	}
	s, err := scheduler.ParseCronSchedule(sc.SweepCron, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("SCHEDULER_SWEEP_CRON: %w", err)
	}
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE
// ══════════════════════════════════════════════════════════════════════════════

func newMigrateCmd() *cobra.Command {
	migrate := &cobra.Command{Use: "migrate", Short: "Manage the postgres schema"}

	run := func(fn func(ctx context.Context, cmd *cobra.Command, m *postgres.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Driver != config.DriverPostgres {
				return fmt.Errorf("migrations apply to the postgres store only (STORE_DRIVER=%s)", cfg.Store.Driver)
			}
			a := &app{cfg: cfg, log: log}
			conn, err := a.connectPostgres(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			return fn(cmd.Context(), cmd, postgres.NewMigrator(conn))
		}
	}

	migrate.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: run(func(ctx context.Context, cmd *cobra.Command, m *postgres.Migrator) error {
			n, err := m.Migrate(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		}),
	})
	migrate.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		RunE: run(func(ctx context.Context, cmd *cobra.Command, m *postgres.Migrator) error {
			if err := m.Rollback(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "rolled back one migration")
			return nil
		}),
	})
	migrate.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: run(func(ctx context.Context, cmd *cobra.Command, m *postgres.Migrator) error {
			migrations, err := m.Status(ctx)
			if err != nil {
				return err
			}
			for _, mig := range migrations {
				state := "pending"
				if mig.IsApplied {
					state = "applied " + mig.AppliedAt.Format(time.RFC3339)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%03d\t%s\t%s\n", mig.Version, mig.Name, state)
			}
			return nil
		}),
	})
	return migrate
}

// ══════════════════════════════════════════════════════════════════════════════
// ONE-SHOT MEMBER COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func newProgressCmd() *cobra.Command {
	var (
		offset    string
		timeframe string
		fresh     bool
	)
	cmd := &cobra.Command{
		Use:   "progress <community> <user>",
		Short: "Print a member's progress as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes, err := timeutil.ParseOffset(offset)
			if err != nil {
				return err
			}
			tf, err := progress.ParseTimeframe(timeframe)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := a.getProgress.Handle(ctx, query.GetUserProgressQuery{
					CommunityID:      args[0],
					UserID:           args[1],
					UTCOffsetMinutes: minutes,
					Timeframe:        tf,
					SkipCache:        fresh,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res.DTO)
			})
		},
	}
	cmd.Flags().StringVar(&offset, "offset", "", "member UTC offset, e.g. +05:30 or -300")
	cmd.Flags().StringVar(&timeframe, "timeframe", "daily", "chart buckets: daily, weekly, monthly or yearly")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "bypass the progress cache")
	return cmd
}

func newCommunityCmd() *cobra.Command {
	var offset, timeframe string
	cmd := &cobra.Command{
		Use:   "community <community>",
		Short: "Print community-wide totals and chart as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes, err := timeutil.ParseOffset(offset)
			if err != nil {
				return err
			}
			tf, err := progress.ParseTimeframe(timeframe)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				dto, err := a.communityStats.Handle(ctx, query.GetCommunityStatsQuery{
					CommunityID:      args[0],
					UTCOffsetMinutes: minutes,
					Timeframe:        tf,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), dto)
			})
		},
	}
	cmd.Flags().StringVar(&offset, "offset", "", "viewer UTC offset, e.g. +05:30 or -300")
	cmd.Flags().StringVar(&timeframe, "timeframe", "daily", "chart buckets: daily, weekly, monthly or yearly")
	return cmd
}

func newRecordCmd() *cobra.Command {
	var (
		minutes, seconds int64
		offset           string
		confirm          bool
	)
	cmd := &cobra.Command{
		Use:   "record <community> <user>",
		Short: "Add a meditation session and sync the member's roles",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			off, err := timeutil.ParseOffset(offset)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := a.recordSession.Handle(ctx, command.RecordSessionCommand{
					CommunityID:      args[0],
					UserID:           args[1],
					Minutes:          minutes,
					Seconds:          seconds,
					UTCOffsetMinutes: off,
					Confirmed:        confirm,
				})
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "session %s recorded at %s\n",
					res.Session.ID, res.Session.OccurredAt.Format("2006-01-02 15:04"))
				if res.RolesError != "" {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "roles not updated: %s\n", res.RolesError)
					return nil
				}
				return printJSON(cmd.OutOrStdout(), res.Roles)
			})
		},
	}
	cmd.Flags().Int64Var(&minutes, "minutes", 0, "session minutes")
	cmd.Flags().Int64Var(&seconds, "seconds", 0, "extra seconds (0-59)")
	cmd.Flags().StringVar(&offset, "offset", "", "member UTC offset")
	cmd.Flags().BoolVar(&confirm, "confirm", false, fmt.Sprintf("confirm a session over %d minutes", command.LargeSessionMinutes))
	return cmd
}

func newSyncCmd() *cobra.Command {
	var offset string
	cmd := &cobra.Command{
		Use:   "sync <community> <user>",
		Short: "Reconcile a member's tier and streak roles",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			off, err := timeutil.ParseOffset(offset)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := a.syncRoles.Handle(ctx, command.SyncRolesCommand{
					CommunityID:      args[0],
					UserID:           args[1],
					UTCOffsetMinutes: off,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&offset, "offset", "", "member UTC offset")
	return cmd
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the streak role sweep once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				job := jobs.NewSweepStreakRolesJob(a.store, a.syncRoles,
					jobs.DefaultSweepStreakRolesConfig(a.ladder.Horizon()), a.log)
				err := job.Run(ctx)
				stats := job.LastStats()
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "members=%d changed=%d skipped=%d failed=%d\n",
					stats.Members, stats.Changed, stats.Skipped, stats.Failed)
				return err
			})
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HASH TOKEN
// ══════════════════════════════════════════════════════════════════════════════

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Print the API_TOKEN_HASH value for a bearer token (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				token = strings.TrimSpace(line)
			}
			if token == "" {
				return errors.New("token is empty")
			}
			hash, err := handlers.HashToken(token)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
