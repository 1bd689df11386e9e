package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/benbjohnson/leaf"
	"github.com/benbjohnson/leaf/tyexp"
)

// TypesCommand represents a command for exporting type layouts.
type TypesCommand struct {
	Stdout io.Writer
}

// NewTypesCommand returns a new instance of TypesCommand.
func NewTypesCommand() *TypesCommand {
	return &TypesCommand{Stdout: os.Stdout}
}

// Run executes the "types" subcommand.
func (cmd *TypesCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("leaf-types", flag.ContinueOnError)
	output := fs.String("o", "", "output file")
	arch := fs.String("arch", tyexp.DefaultArch, "target architecture")
	verbose := fs.Bool("v", false, "verbose")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("package required")
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many packages specified")
	}

	log.SetFlags(0)
	if !*verbose {
		log.SetOutput(io.Discard)
	}

	pkgs, err := tyexp.Load("", fs.Arg(0))
	if err != nil {
		return err
	}

	e, err := tyexp.NewExporter(*arch)
	if err != nil {
		return err
	}
	for _, pkg := range pkgs {
		log.Printf("[types] exporting %s", pkg.PkgPath)
		e.AddPackage(pkg.Types)
	}

	tm := leaf.NewTypeManager()
	e.Register(tm)

	if *output == "" {
		return tm.Write(cmd.Stdout)
	}

	f, err := os.Create(*output)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := tm.Write(f); err != nil {
		return err
	}
	return f.Close()
}

func (cmd *TypesCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: leaf types [arguments] [package]

Arguments:

	-o path
	    Write layouts to a file instead of stdout.
	-arch name
	    Compute layouts for the architecture. Defaults to amd64.
	-v
	    Enable verbose logging.
`[1:])
}
