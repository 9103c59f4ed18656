// Command worldctl drives a remote world and can run a local reference authority.
//
// Usage:
//
//	worldctl [flags] <command> [args]
//
// Commands:
//
//	serve   - run the reference authority on every configured endpoint
//	spawn   - spawn an entity
//	list    - list entities
//	update  - replace one component of an entity
//	insert  - add components to an entity
//	remove  - despawn entities
//	clear   - despawn every entity
//	apply   - send a raw command
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/worldlink/cmd/worldctl/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.New().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
