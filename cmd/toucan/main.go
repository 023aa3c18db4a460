package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

const usageText = `Usage:
  toucan [-config FILE]                     follow the honeypot log and drive the indicator
  toucan [-config FILE] set <protocol> <status>
                                            turn one protocol on (status != 0) or off (0)
  toucan [-config FILE] reset               turn everything off and delete the saved state
  toucan [-config FILE] status              show active protocols and detection counts
  toucan [-config FILE] config              print the effective configuration
  toucan version                            print version information

Protocols: ftp ssh http https snmp mysql rdp git
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("toucan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usageText) }

	var configPath string
	var showVersion bool
	fs.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/toucan/config.yml)")
	fs.BoolVar(&showVersion, "version", false, "print version information")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	rest := fs.Args()
	cmd := ""
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	if showVersion || cmd == "version" {
		printVersion(stdout)
		return 0
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}

	if cmd == "" || cmd == "run" {
		if err := runServer(cfg); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	configureCommandLogger(cfg)
	env := newCommandEnv(cfg, stdout)

	switch cmd {
	case "set":
		err = env.runSet(rest)
	case "reset":
		err = env.runReset(rest)
	case "status":
		err = env.runStatus(rest)
	case "config":
		err = writeConfig(stdout, cfg)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		err = errUsage
	}

	switch {
	case errors.Is(err, errUsage):
		fmt.Fprint(stderr, usageText)
		return 1
	case err != nil:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "Toucan - Honeypot Activity Indicator\n")
	fmt.Fprintf(w, "  Version:    %s\n", version)
	fmt.Fprintf(w, "  Commit:     %s\n", commit)
	fmt.Fprintf(w, "  Built:      %s\n", buildTime)
	fmt.Fprintf(w, "  Go version: %s\n", goVersion)
}
