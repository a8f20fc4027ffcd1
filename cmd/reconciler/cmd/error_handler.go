package cmd

import (
	"fmt"
	"os"

	"statement-reconciliation-engine/pkg/errors"
	"statement-reconciliation-engine/pkg/logger"
)

// HandleError prints a user-facing message for a failed command and returns
// the process exit code mapped from the error taxonomy.
func HandleError(err error) int {
	if err == nil {
		return 0
	}

	logger.GetGlobalLogger().WithComponent("cli").WithError(err).Debug("command failed")

	fmt.Fprintln(os.Stderr, errors.FormatUserMessage(err))

	// Not-ready sign-offs and concurrent-run rejections are expected,
	// user-recoverable outcomes; point at the retry path.
	switch {
	case errors.IsNotReady(err):
		fmt.Fprintln(os.Stderr, "\nResolve or waive the open discrepancies, then retry sign-off.")
	case errors.IsConcurrentRun(err):
		fmt.Fprintln(os.Stderr, "\nA cascade is already running; retry once it completes.")
	}

	return errors.GetExitCode(err)
}
