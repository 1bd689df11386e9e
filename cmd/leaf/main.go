package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err == flag.ErrHelp {
		os.Exit(1)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "", "-h", "--help", "help":
		usage()
		return flag.ErrHelp
	case "config":
		return NewConfigCommand().Run(ctx, args)
	case "trace":
		return NewTraceCommand().Run(ctx, args)
	case "types":
		return NewTypesCommand().Run(ctx, args)
	default:
		return fmt.Errorf(`leaf %s: unknown command`, cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `
Leaf is a toolkit for concolic execution of instrumented programs.

Usage:

	leaf <command> [arguments]

The commands are:

	config      print the effective configuration
	trace       summarize a recorded trace
	types       export type layouts of a package
	help        this screen
`[1:])
}
