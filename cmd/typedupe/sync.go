package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mehmetymw/typedupe/internal/pipeline"
)

const (
	exitFailed = 1
	// exitRetryable (EX_TEMPFAIL) means every failed stream failed with a retryable kind.
	exitRetryable = 75
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one typing and deduping pass over every configured stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		a.pipeline.Run(ctx)
		return runError(a.pipeline.Status())
	},
}

// runError fails the command when any stream failed. Warnings mean the data was merged,
// so they do not.
func runError(st pipeline.RunStatus) error {
	if st.Failed == 0 {
		return nil
	}
	err := fmt.Errorf("%d of %d streams failed (%d retryable)", st.Failed, st.Succeeded+st.Warnings+st.Failed, st.Retryable)
	if st.Retryable == st.Failed {
		return &exitError{code: exitRetryable, err: err}
	}
	return &exitError{code: exitFailed, err: err}
}
