package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Swind/go-mainthread/core"
)

// FlattenOptions holds flags for the flatten command.
type FlattenOptions struct {
	*RootOptions
	Depth    int
	Width    int
	MaxSteps int
	Infinite bool
}

// FlattenReport is the outcome of one flattening run.
type FlattenReport struct {
	Depth    int  `json:"depth"`
	Width    int  `json:"width"`
	Infinite bool `json:"infinite"`
	MaxSteps int  `json:"max_steps"`
	Steps    int  `json:"steps"`
	Finished bool `json:"finished"`
}

// WriteText prints the report for humans.
func (r *FlattenReport) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "finished: %v\nsteps:    %d/%d\n", r.Finished, r.Steps, r.MaxSteps)
	return err
}

// NewFlattenCommand creates the flatten command.
func NewFlattenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FlattenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "flatten",
		Short: "Run a nested routine to completion synchronously",
		Long: `Build a routine nested --depth levels deep, each level yielding --width
times, and drive it with the sequence flattener under a step budget.

Example:
  mainthread-demo flatten --depth 3 --width 10
  mainthread-demo flatten --infinite --max-steps 1000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Depth < 1 || opts.Width < 0 {
				return NewExitError(ExitCommandError, "depth must be >= 1 and width >= 0")
			}
			report, err := runFlatten(opts)
			if err != nil {
				return WrapExitError(ExitFailure, "flatten failed", err)
			}
			return writeResult(cmd.OutOrStdout(), opts.Format, report)
		},
	}

	cmd.Flags().IntVar(&opts.Depth, "depth", 3, "nesting depth")
	cmd.Flags().IntVar(&opts.Width, "width", 10, "plain yields per level")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", core.DefaultMaxSteps, "step budget")
	cmd.Flags().BoolVar(&opts.Infinite, "infinite", false, "use a routine that never ends")

	return cmd
}

func runFlatten(opts *FlattenOptions) (*FlattenReport, error) {
	f := core.NewFlattener(opts.MaxSteps, core.NewSlogLogger(opts.logger()))

	var r core.Routine
	if opts.Infinite {
		r = func(yield func(any) bool) {
			for yield(nil) {
			}
		}
	} else {
		r = nestedRoutine(opts.Depth, opts.Width)
	}

	finished, err := f.Run(r)
	if err != nil {
		return nil, err
	}
	return &FlattenReport{
		Depth:    opts.Depth,
		Width:    opts.Width,
		Infinite: opts.Infinite,
		MaxSteps: f.MaxSteps(),
		Steps:    f.Steps(),
		Finished: finished,
	}, nil
}

// nestedRoutine yields width times and then, below the last level, yields
// the next level down.
func nestedRoutine(depth, width int) core.Routine {
	return func(yield func(any) bool) {
		for i := 0; i < width; i++ {
			if !yield(i) {
				return
			}
		}
		if depth > 1 {
			yield(nestedRoutine(depth-1, width))
		}
	}
}
