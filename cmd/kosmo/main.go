// Kosmo answers cosmology and astrophysics questions with a reasoning agent
// that calls web search, Wikipedia and sandboxed Python tools.
//
// Usage:
//
//	kosmo ask <question>         Ask a single question
//	kosmo chat                   Start an interactive conversation
//	kosmo sessions list          List stored sessions
//	kosmo sessions show <id>     Show the turns of a session
//	kosmo sessions clear <id>    Clear a session
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/harun/kosmo/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
