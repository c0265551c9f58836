package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	mainthread "github.com/Swind/go-mainthread"
	"github.com/Swind/go-mainthread/core"
	mtprom "github.com/Swind/go-mainthread/observability/prometheus"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Ticks       int
	Jobs        int
	Interval    time.Duration
	Workers     int
	Synchronous bool
	MaxSteps    int
	MetricsAddr string
}

// RunReport summarizes one demo run.
type RunReport struct {
	Ticks       int                  `json:"ticks"`
	Jobs        int                  `json:"jobs"`
	Total       int                  `json:"total"`
	Succeeded   int                  `json:"succeeded"`
	Faulted     int                  `json:"faulted"`
	SummaryErr  string               `json:"summary_error,omitempty"`
	Elapsed     time.Duration        `json:"elapsed_ns"`
	Synchronous bool                 `json:"synchronous"`
	Dispatcher  core.DispatcherStats `json:"dispatcher"`
}

// WriteText prints the report for humans.
func (r *RunReport) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"ticks:      %d\njobs:       %d (%d succeeded, %d faulted)\ntotal:      %d\nsync:       %v\ndrains:     %d\nexecuted:   %d\nelapsed:    %v\n",
		r.Ticks, r.Jobs, r.Succeeded, r.Faulted, r.Total, r.Synchronous,
		r.Dispatcher.Drains, r.Dispatcher.ItemsExecuted, r.Elapsed.Round(time.Millisecond))
	if err == nil && r.SummaryErr != "" {
		_, err = fmt.Fprintf(w, "error:      %s\n", r.SummaryErr)
	}
	return err
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Pump a dispatcher while background jobs post work to it",
		Long: `Bind the calling goroutine as the main goroutine and pump it once per tick.

Each job runs on the worker pool, then reports to the main goroutine. A
coroutine task waits for every job and sums their results. With --sync the
coroutine is flattened inside a single drain, so it faults when the jobs are
not finished within --max-steps.

Example:
  mainthread-demo run --jobs 16 --interval 5ms
  mainthread-demo run --metrics-addr :9090 --ticks 100000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			applyRunFlags(cmd, opts, cfg)

			report, err := runDemo(cmd.Context(), opts, cfg)
			if err != nil {
				return err
			}
			if err := writeResult(cmd.OutOrStdout(), opts.Format, report); err != nil {
				return err
			}
			if report.Faulted > 0 || report.SummaryErr != "" {
				return NewExitError(ExitFailure, "demo finished with faulted tasks")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Ticks, "ticks", 600, "maximum number of pump ticks")
	cmd.Flags().IntVar(&opts.Jobs, "jobs", 8, "number of background jobs")
	cmd.Flags().DurationVar(&opts.Interval, "interval", core.DefaultTickInterval, "pump interval")
	cmd.Flags().IntVar(&opts.Workers, "workers", 4, "worker pool size")
	cmd.Flags().BoolVar(&opts.Synchronous, "sync", false, "flatten routines within the drain")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", core.DefaultMaxSteps, "step budget for synchronous flattening")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

// applyRunFlags overrides config values with flags the user set explicitly.
func applyRunFlags(cmd *cobra.Command, opts *RunOptions, cfg *mainthread.Config) {
	flags := cmd.Flags()
	if flags.Changed("interval") || opts.ConfigPath == "" {
		cfg.TickInterval = opts.Interval
	}
	if flags.Changed("workers") || opts.ConfigPath == "" {
		cfg.Workers = opts.Workers
	}
	if flags.Changed("sync") {
		cfg.Synchronous = opts.Synchronous
	}
	if flags.Changed("max-steps") {
		cfg.MaxFlattenSteps = opts.MaxSteps
	}
}

func runDemo(ctx context.Context, opts *RunOptions, cfg *mainthread.Config) (*RunReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Jobs < 0 || opts.Ticks <= 0 {
		return nil, NewExitError(ExitCommandError, "jobs must be >= 0 and ticks > 0")
	}

	reg := prom.NewRegistry()
	exporter, err := mtprom.NewMetricsExporter(cfg.MetricsNamespace, reg, mtprom.ExporterOptions{})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to register metrics", err)
	}
	cfg.Metrics = exporter

	inst := mainthread.Init(cfg)
	defer mainthread.Shutdown()
	d := inst.Dispatcher()

	poller, err := mtprom.NewSnapshotPollerWithNamespace(cfg.MetricsNamespace, reg, time.Second)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to register snapshot gauges", err)
	}
	poller.AddDispatcher("main", d)
	poller.AddPool(inst.Pool().ID(), inst.Pool())
	poller.Start(ctx)
	defer poller.Stop()

	if opts.MetricsAddr != "" {
		srv := &http.Server{Addr: opts.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	stopSignals := mainthread.NotifyQuit(ctx, d)
	defer stopSignals()

	start := time.Now()
	jobs := make([]*core.TaskOf[int], opts.Jobs)
	for i := range jobs {
		jobs[i] = core.RunOf1(inst.Factory(), core.StrategyBackground, runJob, i+1)
	}
	summary := mainthread.RunCoroutineOf(func(t *core.TaskOf[int]) core.Routine {
		return sumJobs(t, jobs)
	})

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	ticks := 0
	for ticks < opts.Ticks && !summary.IsDone() && !d.IsQuitting() {
		<-ticker.C
		if err := d.Pump(); err != nil {
			return nil, WrapExitError(ExitFailure, "pump failed", err)
		}
		ticks++
	}

	report := &RunReport{
		Ticks:       ticks,
		Jobs:        len(jobs),
		Total:       summary.Result(),
		Elapsed:     time.Since(start),
		Synchronous: d.Synchronous(),
		Dispatcher:  d.Stats(),
	}
	for _, j := range jobs {
		switch j.Status() {
		case core.StatusSuccess:
			report.Succeeded++
		case core.StatusFaulted:
			report.Faulted++
		}
	}
	switch {
	case summary.Status() == core.StatusFaulted:
		report.SummaryErr = summary.Err().Error()
	case !summary.IsDone():
		report.SummaryErr = fmt.Sprintf("not finished after %d ticks", ticks)
	}
	return report, nil
}

// runJob simulates background work whose result must be reported on main.
func runJob(ctx context.Context, n int) (int, error) {
	select {
	case <-time.After(time.Duration(n) * time.Millisecond):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	_ = mainthread.Log(mainthread.LogInfo, fmt.Sprintf("job %d done", n))
	return n * n, nil
}

// sumJobs waits for each job in turn and accumulates their results.
func sumJobs(t *core.TaskOf[int], jobs []*core.TaskOf[int]) core.Routine {
	return func(yield func(any) bool) {
		total := 0
		for _, j := range jobs {
			if !yield(j.Task) {
				return
			}
			if err := j.Err(); err != nil {
				t.Fail(err)
				return
			}
			total += j.Result()
			t.SetResult(total)
		}
	}
}
