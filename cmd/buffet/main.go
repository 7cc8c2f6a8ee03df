// Command buffet shares a list of tasks among independent worker processes
// that coordinate through a lock file in a shared directory.
package main

import (
	"fmt"
	"os"

	"github.com/taskbuffet/buffet/internal/cmd"
	"github.com/taskbuffet/buffet/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "buffet: %s: %v\n", errors.Kind(err), err)
		if errors.IsRetryable(err) {
			fmt.Fprintln(os.Stderr, "buffet: the condition is transient, running the command again may succeed")
		}
		os.Exit(errors.ExitCode(err))
	}
}
