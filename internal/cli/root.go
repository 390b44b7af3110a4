// Package cli implements the stampede command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// Exit codes.
const (
	ExitOK          = 0
	ExitConfigError = 1
	ExitFailed      = 2
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func configError(err error) error { return &ExitError{Code: ExitConfigError, Err: err} }

// errFailed is returned when a run completes but does not pass.
var errFailed = errors.New("acceptance criteria not met")

// globalFlags are shared by every subcommand.
type globalFlags struct {
	logLevel    string
	logDev      bool
	noColor     bool
	quiet       bool
	metricsAddr string
}

// NewRootCmd builds the command tree writing to the given streams.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:     "stampede",
		Short:   "Phased load, stress and benchmark testing",
		Version: version,
		Long: `stampede drives weighted scenarios through warmup, ramp-up, sustain and
ramp-down phases with virtual users, sheds load when the error rate or memory
pressure crosses a threshold, and writes JSON and HTML reports locally or to S3.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	pf.BoolVar(&g.logDev, "log-dev", false, "human-readable development logging")
	pf.BoolVar(&g.noColor, "no-color", false, "disable colored output")
	pf.BoolVarP(&g.quiet, "quiet", "q", false, "print only the final verdict")
	pf.StringVar(&g.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running (e.g. :9090)")

	root.AddCommand(
		newRunCmd(g),
		newStressCmd(g),
		newBenchCmd(g),
		newValidateCmd(g),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return run(os.Args[1:], os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return ExitOK
	}
	fmt.Fprintln(stderr, "Error:", err)

	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	if errors.Is(err, errFailed) {
		return ExitFailed
	}
	return ExitConfigError
}
