package worker

import (
	"fmt"
	"strings"

	"github.com/aristath/conductor/internal/state"
)

// Completion tokens. Exactly one must appear on its own line of the
// worker's output stream before it exits; the worker may keep flushing
// output after emitting one, the last token line wins.
const (
	TokenPassed = "CONDUCTOR_RESULT: PASS"
	TokenFailed = "CONDUCTOR_RESULT: FAIL"
)

// CaptureFile is the sink the worker's combined stdout/stderr is
// redirected to, relative to its working directory. It lives under the
// reserved directory so a worker's `git commit` can never pick it up.
const CaptureFile = ".conductor/worker.log"

// BuildDirective constructs the self-contained instruction payload for
// one task. The worker learns the task, the reporting contract, and the
// prohibition on touching the shared state document from this text
// alone.
func BuildDirective(task *state.Task) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are executing task %q", task.ID)
	if task.Title != "" {
		fmt.Fprintf(&b, " (%s)", task.Title)
	}
	b.WriteString(". Work only inside the current directory.\n\n")

	if task.Prompt != "" {
		b.WriteString(task.Prompt)
		b.WriteString("\n\n")
	}

	b.WriteString("Rules:\n")
	b.WriteString("- Do not read or modify the conductor state file or anything under .conductor/.\n")
	b.WriteString("- Commit your changes with git before finishing.\n")
	fmt.Fprintf(&b, "- When the task is done and verified, print the exact line %q.\n", TokenPassed)
	fmt.Fprintf(&b, "- If the task cannot be completed, print the exact line %q instead.\n", TokenFailed)
	b.WriteString("- You must print exactly one of those two lines before exiting.\n")

	return b.String()
}
