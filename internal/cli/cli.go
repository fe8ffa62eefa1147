// Package cli implements the queue command: worker, maintenance and
// inspection subcommands over the job store.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joshu-sajeev/pollq/internal/app"
	"github.com/joshu-sajeev/pollq/internal/config"
	"github.com/joshu-sajeev/pollq/internal/dto"
	"github.com/joshu-sajeev/pollq/internal/job"
	"github.com/joshu-sajeev/pollq/internal/metrics"
	"github.com/joshu-sajeev/pollq/internal/pool"
	"github.com/joshu-sajeev/pollq/internal/process"
	"github.com/joshu-sajeev/pollq/internal/storage/postgres"
	"github.com/joshu-sajeev/pollq/internal/task"
	"github.com/joshu-sajeev/pollq/internal/worker"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Env holds the dependencies the commands resolve at run time.
type Env struct {
	Logger   *slog.Logger
	LogLevel *slog.LevelVar
	Queue    func(ctx context.Context) (*config.Queue, error)
	Open     func(ctx context.Context, q config.Queue) (*app.Stack, error)
	Tasks    func(ctx context.Context, logger *slog.Logger) (*task.Registry, error)
}

// DefaultEnv reads configuration from the environment and connects to
// Postgres.
func DefaultEnv() Env {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return Env{
		Logger:   logger,
		LogLevel: level,
		Queue:    config.LoadQueueFromEnv,
		Open:     app.Open,
		Tasks: func(ctx context.Context, logger *slog.Logger) (*task.Registry, error) {
			smtp, err := config.LoadSMTPFromEnv(ctx)
			if err != nil {
				return nil, err
			}
			return app.Tasks(logger, *smtp), nil
		},
	}
}

// session is one command invocation's resolved config, store and tasks.
type session struct {
	q     config.Queue
	st    *app.Stack
	tasks *task.Registry
}

func (e Env) session(ctx context.Context) (*session, error) {
	q, err := e.Queue(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue config: %w", err)
	}
	tasks, err := e.Tasks(ctx, e.Logger)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	st, err := e.Open(ctx, *q)
	if err != nil {
		return nil, err
	}
	return &session{q: *q, st: st, tasks: tasks}, nil
}

func (s *session) service() *job.JobService {
	return job.NewJobService(s.st.Jobs, s.st.Procs, s.tasks, s.q)
}

func (s *session) close() {
	s.st.Close()
}

func BuildCLI(env Env) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "queue",
		Short:         "Polling job queue backed by Postgres",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		buildRunWorkerCommand(env),
		buildCleanCommand(env),
		buildKillCommand(env),
		buildResetCommand(env),
		buildHardResetCommand(env),
		buildStatsCommand(env),
		buildSettingsCommand(env),
		buildAddCommand(env),
		buildMigrateCommand(env),
	)
	return rootCmd
}

func buildRunWorkerCommand(env Env) *cobra.Command {
	var (
		groups         []string
		types          []string
		requireProcess bool
		exitWhenIdle   bool
		concurrency    int
	)

	cmd := &cobra.Command{
		Use:   "runworker",
		Short: "Run a worker until it is stopped, idle or out of time",
		Long: `Run a worker that claims and executes jobs one at a time.

SIGINT and SIGTERM let the current job finish, then deregister the worker.
Group and type filters accept "-name" to exclude.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := env.session(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			if cmd.Flags().Changed("exit-when-idle") {
				s.q.ExitWhenIdle = exitWhenIdle
			}
			if s.q.Log && env.LogLevel != nil {
				env.LogLevel.Set(slog.LevelDebug)
			}

			collector := metrics.NewCollector()
			if s.q.MetricsAddr != "" {
				go func() {
					if err := collector.Serve(ctx, s.q.MetricsAddr); err != nil {
						env.Logger.Error("metrics listener failed", slog.Any("error", err))
					}
				}()
			}

			p := pool.NewWorkerPool(concurrency, process.Identity(s.q.WorkerID), func(id string, opts ...worker.Option) *worker.Worker {
				opts = append(opts,
					worker.WithLogger(env.Logger),
					worker.WithObserver(collector),
					worker.WithGroups(groups...),
					worker.WithTypes(types...),
					worker.WithRequireProcess(requireProcess && s.st.TableRegistry()),
				)
				return worker.New(id, s.st.Jobs, s.st.Procs, s.tasks, s.q, opts...)
			})
			return p.Run(ctx)
		},
	}

	cmd.Flags().StringSliceVarP(&groups, "group", "g", nil, "only claim jobs of these groups")
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "only claim jobs of these types")
	cmd.Flags().BoolVar(&requireProcess, "require-process", false, "verify the worker registration inside every claim")
	cmd.Flags().BoolVar(&exitWhenIdle, "exit-when-idle", false, "stop when no job is available")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 1, "run-loops in this process")

	return cmd
}

func buildCleanCommand(env Env) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete expired finished jobs and stale worker registrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := env.session(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			jobs, err := s.st.Jobs.CleanOldJobs(ctx, s.q.CleanupTimeout)
			if err != nil {
				return err
			}
			procs, err := s.st.Procs.CleanKilledProcesses(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %d jobs and %d processes\n", jobs, procs)
			return nil
		},
	}
}

func buildKillCommand(env Env) *cobra.Command {
	return &cobra.Command{
		Use:   "kill [pid|all]",
		Short: "List workers, or terminate one or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := env.session(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			procs, err := s.service().Processes(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				printProcesses(cmd, procs)
				return nil
			}

			targets := []string{args[0]}
			if args[0] == "all" {
				targets = targets[:0]
				for _, p := range procs {
					targets = append(targets, p.PID)
				}
			}
			for _, pid := range targets {
				if err := s.st.Procs.Terminate(ctx, pid); err != nil {
					return fmt.Errorf("terminate %s: %w", pid, err)
				}
				fmt.Fprintf(out, "terminated %s\n", pid)
			}
			return nil
		},
	}
}

func printProcesses(cmd *cobra.Command, procs []dto.ProcessDTO) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tSERVER\tLAST HEARTBEAT\tALIVE")
	for _, p := range procs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", p.PID, p.Server, p.LastHeartbeat.Format(time.RFC3339), p.Alive)
	}
	tw.Flush()
}

func buildResetCommand(env Env) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [job-id]",
		Short: "Return failed jobs, or one job, to pending",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := env.session(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				id, err := strconv.ParseUint(args[0], 10, 0)
				if err != nil || id < 1 {
					return fmt.Errorf("invalid job id %q", args[0])
				}
				if err := s.st.Jobs.Reset(ctx, uint(id)); err != nil {
					return err
				}
				fmt.Fprintf(out, "reset job %d\n", id)
				return nil
			}

			n, err := s.st.Jobs.ResetAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "reset %d failed jobs\n", n)
			return nil
		},
	}
}

func buildHardResetCommand(env Env) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "hard-reset",
		Short: "Delete every job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete every job without --yes")
			}

			ctx := cmd.Context()
			s, err := env.session(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.st.Jobs.Truncate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all jobs deleted")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func buildStatsCommand(env Env) *cobra.Command {
	var pending bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue length, per-type averages and worker status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := env.session(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()
			if pending {
				jobs, err := s.service().PendingJobs(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tATTEMPTS\tFETCHED\tLAST FAILURE")
				for _, j := range jobs {
					fetched := ""
					if j.FetchedAt != nil {
						fetched = j.FetchedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n", j.ID, j.Type, j.Status, j.Attempts, fetched, j.FailureMessage)
				}
				return tw.Flush()
			}

			stats, err := s.service().Stats(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "queue length: %d\n", stats.Length)
			if stats.LastHeartbeat != nil {
				fmt.Fprintf(out, "workers: %d (last heartbeat %s)\n", stats.Workers, stats.LastHeartbeat.Format(time.RFC3339))
			} else {
				fmt.Fprintf(out, "workers: %d\n", stats.Workers)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tPENDING\tDONE\tAVG EXISTENCE\tAVG FETCH DELAY\tAVG RUNTIME")
			seen := make(map[string]bool)
			for _, t := range stats.Types {
				seen[t.Type] = true
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n", t.Type, stats.Pending[t.Type], t.Count,
					seconds(t.AvgExistence), seconds(t.AvgFetchDelay), seconds(t.AvgRuntime))
			}
			for _, name := range s.tasks.Names() {
				if !seen[name] && stats.Pending[name] > 0 {
					fmt.Fprintf(tw, "%s\t%d\t0\t-\t-\t-\n", name, stats.Pending[name])
				}
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&pending, "pending", false, "list unfinished jobs instead")
	return cmd
}

func seconds(s float64) string {
	return (time.Duration(s * float64(time.Second))).Round(time.Millisecond).String()
}

func buildSettingsCommand(env Env) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the effective queue and task settings as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			q, err := env.Queue(ctx)
			if err != nil {
				return fmt.Errorf("load queue config: %w", err)
			}
			tasks, err := env.Tasks(ctx, env.Logger)
			if err != nil {
				return fmt.Errorf("load tasks: %w", err)
			}

			settings := struct {
				Queue config.Queue           `yaml:"queue"`
				Tasks map[string]task.Config `yaml:"tasks"`
			}{
				Queue: *q,
				Tasks: tasks.Configs(q.DefaultTimeout, q.DefaultRetries),
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(settings); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func buildAddCommand(env Env) *cobra.Command {
	var (
		payload string
		group   string
	)

	cmd := &cobra.Command{
		Use:   "add [task]",
		Short: "Enqueue a task, or list the registered tasks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				tasks, err := env.Tasks(ctx, env.Logger)
				if err != nil {
					return err
				}
				for _, name := range tasks.Names() {
					fmt.Fprintln(out, name)
				}
				return nil
			}

			s, err := env.session(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			resp, err := s.service().CreateJob(ctx, &dto.JobCreateDTO{
				Type:    args[0],
				Payload: []byte(payload),
				Group:   group,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "added job %d (%s)\n", resp.ID, resp.Type)
			return nil
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload (default: the task's own)")
	cmd.Flags().StringVar(&group, "group", "", "job group")
	return cmd
}

func buildMigrateCommand(env Env) *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := env.session(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			sqlDB, err := s.st.DB.DB()
			if err != nil {
				return err
			}
			if status {
				return postgres.MigrationStatus(ctx, sqlDB)
			}
			if err := postgres.Migrate(ctx, sqlDB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "print migration status instead")
	return cmd
}
