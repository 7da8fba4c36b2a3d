// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command-line parsing and top-level handlers for chatlink.
package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdAsk
	CmdChat
	CmdSession
	CmdConfig
	CmdVersion
	CmdHelp
	CmdUnknown
)

var commandNames = map[Command]string{
	CmdTUI:     "tui",
	CmdAsk:     "ask",
	CmdChat:    "chat",
	CmdSession: "session",
	CmdConfig:  "config",
	CmdVersion: "version",
	CmdHelp:    "help",
	CmdUnknown: "unknown",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet      bool
	Verbose    bool // debug logging to stderr
	JSON       bool // machine-readable output
	NoColor    bool
	ConfigPath string // --config, overrides ~/.chatlink/config.toml

	// ask
	Query     string
	Lang      string
	SessionID string

	// session, config
	Subcommand string

	// Name is the command word as typed, kept for error messages.
	Name string

	// Raw holds the arguments after the command word.
	Raw []string

	Stdout io.Writer
	Stderr io.Writer
}

const usageText = `chatlink - terminal client for the assistant chat service

Talks to the assistant over its event stream and hands the conversation to a
human operator over STOMP when asked.

Usage:
  chatlink                          Start the terminal UI (default)
  chatlink ask [flags] <prompt>     Stream one answer to stdout
  chatlink chat                     Line-mode chat with history
  chatlink session <subcommand>     Inspect the stored session
  chatlink config <subcommand>      Inspect the configuration
  chatlink version                  Show version
  chatlink help                     Show this help

Ask flags:
  --lang <ro|en|hu>                 Answer language (default: session or config)
  --session <id>                    Session id sent to the service

Session subcommands:
  show                              Print the active session
  clear [--confirm]                 Archive and delete the active session
  history                           List archived sessions, newest first
  search <text>                     Search archived sessions
  view <id>                         Print an archived session
  export <id|current> [--format md|json] [--out dir]
                                    Write a session to a file

Config subcommands:
  show                              Print the effective configuration
  get <key>                         Print one setting (e.g. stream.url)
  keys                              List setting keys
  path                              Print the config file path
  init [--force]                    Write a default config file

Global flags:
  --config <path>                   Use this config file
  --json                            JSON output
  -q, --quiet                       Less output
  -v, --verbose                     Debug logging to stderr
  --no-color                        Disable colors

Chat commands (inside 'chatlink chat'):
  /lang <ro|en|hu>  /quick <n>  /operator --county <c> <name> <contact>  /end  /reset  /quit

Environment:
  CHATLINK_STREAM_URL, CHATLINK_ORIGIN, CHATLINK_OPERATOR_URL,
  CHATLINK_STORE, CHATLINK_LOG_LEVEL, CHATLINK_RELAY, NO_COLOR
`

// PrintUsage writes the help text to w.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}

// VersionData is the JSON form of the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// HandleVersion prints version information.
func HandleVersion(args Args) error {
	if args.JSON {
		return NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}).Write(args.Stdout)
	}
	fmt.Fprintf(args.Stdout, "chatlink version %s\n", Version)
	if !args.Quiet {
		fmt.Fprintf(args.Stdout, "  Git commit: %s\n", GitCommit)
		fmt.Fprintf(args.Stdout, "  Build date: %s\n", BuildDate)
		fmt.Fprintf(args.Stdout, "  Go:         %s\n", runtime.Version())
	}
	return nil
}

// HandleHelp prints the usage text.
func HandleHelp(args Args) error {
	PrintUsage(args.Stdout)
	return nil
}

// =============================================================================
// PARSING
// =============================================================================

// Parse parses os.Args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses argv (without the program name). Global flags may appear
// before or after the command word.
func ParseArgs(argv []string) (Command, Args) {
	remaining, args := parseGlobalFlags(argv)
	args.Stdout = os.Stdout
	args.Stderr = os.Stderr

	if args.Name == "help" || args.Name == "version" {
		if args.Name == "help" {
			return CmdHelp, args
		}
		return CmdVersion, args
	}
	if len(remaining) == 0 {
		return CmdTUI, args
	}

	args.Name = strings.ToLower(remaining[0])
	args.Raw = remaining[1:]

	switch args.Name {
	case "tui":
		return CmdTUI, args
	case "ask", "a":
		parseAskArgs(&args)
		return CmdAsk, args
	case "chat":
		return CmdChat, args
	case "session", "sessions":
		args.Subcommand = NewArgParser(args.Raw, "confirm").Subcommand()
		return CmdSession, args
	case "config":
		args.Subcommand = NewArgParser(args.Raw, "force").Subcommand()
		return CmdConfig, args
	case "version":
		return CmdVersion, args
	case "help":
		return CmdHelp, args
	default:
		return CmdUnknown, args
	}
}

// parseGlobalFlags strips the flags every command accepts. --help and
// --version are recorded in Name.
func parseGlobalFlags(argv []string) ([]string, Args) {
	var remaining []string
	var args Args

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch {
		case arg == "--":
			remaining = append(remaining, argv[i:]...)
			return remaining, args
		case arg == "-q" || arg == "--quiet":
			args.Quiet = true
		case arg == "-v" || arg == "--verbose":
			args.Verbose = true
		case arg == "--json":
			args.JSON = true
		case arg == "--no-color":
			args.NoColor = true
		case arg == "-h" || arg == "--help":
			args.Name = "help"
		case arg == "-V" || arg == "--version":
			args.Name = "version"
		case arg == "--config":
			if i+1 < len(argv) {
				i++
				args.ConfigPath = argv[i]
			}
		case strings.HasPrefix(arg, "--config="):
			args.ConfigPath = strings.TrimPrefix(arg, "--config=")
		default:
			remaining = append(remaining, arg)
		}
	}
	return remaining, args
}

func parseAskArgs(args *Args) {
	p := NewArgParser(args.Raw)
	args.Lang = p.Flag("lang")
	args.SessionID = p.Flag("session")
	args.Query = strings.TrimSpace(p.JoinFrom(0))
}
