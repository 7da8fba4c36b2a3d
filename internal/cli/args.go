// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// args.go - Argument parsing shared by the chatlink subcommands.
//
// Subcommands receive the arguments that follow their name and read them
// through an ArgParser instead of indexing os.Args by hand:
//
//	p := NewArgParser(args.Raw, "confirm")
//	sub := p.Subcommand()        // "clear"
//	confirm := p.BoolFlag("confirm")
//	query := p.JoinFrom(1)       // remaining positionals
//
// Flags may appear anywhere. "--name value" and "--name=value" are both
// accepted; flags declared as boolean never consume the next argument.
// A bare "--" ends flag parsing.

package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// ArgParser splits raw arguments into positionals and flags.
type ArgParser struct {
	flags      map[string]string
	boolFlags  map[string]bool
	positional []string
	raw        []string
}

// NewArgParser parses raw. Names listed in boolNames are treated as boolean
// flags.
func NewArgParser(raw []string, boolNames ...string) *ArgParser {
	p := &ArgParser{
		flags:     make(map[string]string),
		boolFlags: make(map[string]bool),
		raw:       raw,
	}
	isBool := make(map[string]bool, len(boolNames))
	for _, name := range boolNames {
		isBool[name] = true
	}

	for i := 0; i < len(raw); i++ {
		arg := raw[i]
		if arg == "--" {
			p.positional = append(p.positional, raw[i+1:]...)
			break
		}
		if len(arg) < 2 || arg[0] != '-' {
			p.positional = append(p.positional, arg)
			continue
		}

		name := strings.TrimLeft(arg, "-")
		if key, value, ok := strings.Cut(name, "="); ok {
			if b, err := ParseBoolString(value); err == nil && isBool[key] {
				p.boolFlags[key] = b
			} else {
				p.flags[key] = value
			}
			continue
		}
		if isBool[name] {
			p.boolFlags[name] = true
			continue
		}
		if i+1 < len(raw) && !strings.HasPrefix(raw[i+1], "-") {
			p.flags[name] = raw[i+1]
			i++
			continue
		}
		p.boolFlags[name] = true
	}
	return p
}

// Subcommand returns the first positional argument.
func (p *ArgParser) Subcommand() string {
	return p.Positional(0)
}

// Flag returns the value of a string flag, or "".
func (p *ArgParser) Flag(name string) string {
	return p.flags[strings.TrimLeft(name, "-")]
}

// FlagOrDefault returns the flag value or def when unset.
func (p *ArgParser) FlagOrDefault(name, def string) string {
	if v := p.Flag(name); v != "" {
		return v
	}
	return def
}

// FlagInt parses a positive integer flag. Unset flags return def.
func (p *ArgParser) FlagInt(name string, def int) (int, error) {
	v := p.Flag(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, usageErrorf("--%s must be a positive integer, got %q", name, v)
	}
	return n, nil
}

// BoolFlag reports whether a boolean flag was set.
func (p *ArgParser) BoolFlag(name string) bool {
	return p.boolFlags[strings.TrimLeft(name, "-")]
}

// HasFlag reports whether the flag appeared in either form.
func (p *ArgParser) HasFlag(name string) bool {
	name = strings.TrimLeft(name, "-")
	_, s := p.flags[name]
	_, b := p.boolFlags[name]
	return s || b
}

// Positional returns the positional argument at index, or "".
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// PositionalFrom returns the positionals starting at index.
func (p *ArgParser) PositionalFrom(index int) []string {
	if index < 0 || index >= len(p.positional) {
		return nil
	}
	return p.positional[index:]
}

// PositionalCount returns the number of positionals.
func (p *ArgParser) PositionalCount() int {
	return len(p.positional)
}

// JoinFrom joins the positionals from index with single spaces.
func (p *ArgParser) JoinFrom(index int) string {
	return strings.Join(p.PositionalFrom(index), " ")
}

// Raw returns the unparsed arguments.
func (p *ArgParser) Raw() []string {
	return p.raw
}

// ParseBoolString accepts the usual spellings of a boolean.
func ParseBoolString(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "on":
		return true, nil
	case "false", "no", "n", "0", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s", s)
	}
}
