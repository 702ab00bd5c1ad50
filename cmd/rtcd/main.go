// Command rtcd runs the master-side Remote Transaction Controller as a
// standalone process, grounded on the teacher's cmd/lockd entry point
// shape (cobra root command, pslog.LoggerFromEnv bootstrap, signal-driven
// shutdown).
package main

import (
	"context"
	"os"
)

func main() {
	os.Exit(submain(context.Background()))
}
