package main

import "flag"

// Options holds CLI options for the runner.
type Options struct {
	ConfigPath string
	Address    string
	Email      string
	Model      string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("sybl-runner", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.Address, "addr", "", "Coordinator address (overrides config)")
	fs.StringVar(&opts.Email, "email", "", "Account email (overrides config)")
	fs.StringVar(&opts.Model, "model", "", "Model name (overrides config)")
	_ = fs.Parse(args)
	return opts
}
