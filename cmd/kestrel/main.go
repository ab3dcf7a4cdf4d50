package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess    = 0 // Run completed and every evaluator passed
	ExitEvalFailed = 1 // Run completed but one or more evaluators failed
	ExitError      = 2 // Configuration or runtime error
)

// EvalFailureError indicates the run executed successfully but one or more
// evaluator checks failed.
type EvalFailureError struct {
	Message string
}

func (e *EvalFailureError) Error() string {
	return e.Message
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var evalFailure *EvalFailureError
		if errors.As(err, &evalFailure) {
			os.Exit(ExitEvalFailed)
		}

		os.Exit(ExitError)
	}
}
