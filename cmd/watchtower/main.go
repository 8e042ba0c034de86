// Command watchtower runs the conditional-order chain-watcher service
// described in spec.md: `run`, `run-multi`, `dump-db`, `replay-block`, and
// `replay-tx` subcommands, each its own flag.FlagSet, matching the
// teacher's single-binary-with-subcommands shape generalised from
// cmd/oracle-attesterd's single-purpose Main() pattern.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: watchtower <run|run-multi|dump-db|replay-block|replay-tx> [flags]")
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = cmdRun(flag.NewFlagSet("run", flag.ExitOnError), args)
	case "run-multi":
		err = cmdRunMulti(flag.NewFlagSet("run-multi", flag.ExitOnError), args)
	case "dump-db":
		err = cmdDumpDB(flag.NewFlagSet("dump-db", flag.ExitOnError), args)
	case "replay-block":
		err = cmdReplayBlock(flag.NewFlagSet("replay-block", flag.ExitOnError), args)
	case "replay-tx":
		err = cmdReplayTx(flag.NewFlagSet("replay-tx", flag.ExitOnError), args)
	default:
		fmt.Fprintf(os.Stderr, "watchtower: unknown command %q\n", cmd)
		os.Exit(1)
	}

	if err != nil {
		log.Printf("watchtower: %v", err)
		os.Exit(1)
	}
}
