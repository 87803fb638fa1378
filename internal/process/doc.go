// Package process runs configured command lines as child processes.
//
// Command lines are split with shell-word rules (quotes and backslash
// escapes are honored) and the first word is executed directly with the
// rest as arguments. No shell is involved, so pipes, redirections and
// variable expansion are passed through as literal arguments.
//
// Features:
//   - Synchronous Execute returning exit code, duration and output tails
//   - Asynchronous Go that never blocks the caller
//   - Bounded Wait for in-flight executions on shutdown
//
// There is no timeout and no kill: a command that never exits keeps its
// goroutine alive until the process ends. Children run in their own
// process group so a terminal interrupt aimed at the bridge does not
// reach them.
//
// Example usage:
//
//	runner := process.NewRunner(process.Config{OutputTail: 4096})
//	runner.Go("Sleep some", "/usr/bin/sleep 10", func(o process.Outcome) {
//	    log.Printf("%s exited %d after %v", o.Name, o.ExitCode, o.Duration)
//	})
//	defer runner.Wait(10 * time.Second)
package process
