package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/benbjohnson/leaf"
)

// ConfigCommand represents a command for printing the effective configuration.
type ConfigCommand struct {
	Stdout io.Writer
}

// NewConfigCommand returns a new instance of ConfigCommand.
func NewConfigCommand() *ConfigCommand {
	return &ConfigCommand{Stdout: os.Stdout}
}

// Run executes the "config" subcommand.
func (cmd *ConfigCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("leaf-config", flag.ContinueOnError)
	path := fs.String("c", os.Getenv("LEAF_CONFIG"), "config file")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() > 0 {
		return fmt.Errorf("too many arguments specified")
	}

	config, err := leaf.LoadConfig(*path)
	if err != nil {
		return err
	}

	buf, err := config.Marshal()
	if err != nil {
		return err
	}
	_, err = cmd.Stdout.Write(buf)
	return err
}

func (cmd *ConfigCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: leaf config [arguments]

Arguments:

	-c path
	    Configuration file. Defaults to $LEAF_CONFIG.
`[1:])
}
