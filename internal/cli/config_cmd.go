// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - The "config" command.

package cli

import (
	"fmt"
	"os"

	"github.com/jeranaias/chatlink/internal/config"
)

var configSubcommands = []string{"show", "get", "keys", "path", "init"}

// HandleConfig dispatches the config subcommands. Only "init" writes; the
// rest read the configuration already loaded into app.
func HandleConfig(app *App, args Args) error {
	p := NewArgParser(args.Raw, "force")
	switch sub := p.Subcommand(); sub {
	case "", "show":
		if args.JSON {
			return NewJSONResponse("config show", app.Config).Write(args.Stdout)
		}
		if !args.Quiet {
			source := app.ConfigPath
			if source == "" {
				source = "defaults"
			}
			fmt.Fprintln(args.Stdout, DimStyle.Render("# source: "+source))
		}
		fmt.Fprint(args.Stdout, app.Config.String())
		return nil

	case "get":
		key := p.Positional(1)
		if key == "" {
			return ErrMissingArgument("key", "chatlink config get <section.key>")
		}
		return outputValue(args, key, func() (interface{}, error) {
			v, err := app.Config.Get(key)
			if err != nil {
				return nil, &UsageError{Message: err.Error(), Usage: "chatlink config keys"}
			}
			return v, nil
		})

	case "keys":
		keys := config.Keys()
		if args.JSON {
			return NewJSONResponse("config keys", keys).Write(args.Stdout)
		}
		for _, k := range keys {
			fmt.Fprintln(args.Stdout, k)
		}
		return nil

	case "path":
		path := app.ConfigPath
		if path == "" {
			var err error
			if path, err = config.ConfigPathTOML(); err != nil {
				return err
			}
		}
		return outputValue(args, "path", func() (interface{}, error) { return path, nil })

	case "init":
		return configInit(args, p.Flag("path"), p.BoolFlag("force"))

	default:
		return ErrUnknownSubcommand("config", sub, configSubcommands)
	}
}

// outputValue prints one value plainly or as {"key": ..., "value": ...}.
func outputValue(args Args, key string, get func() (interface{}, error)) error {
	if args.JSON {
		return outputJSON(args.Stdout, "config "+key, func() (interface{}, error) {
			v, err := get()
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"key": key, "value": v}, nil
		})
	}
	v, err := get()
	if err != nil {
		return err
	}
	fmt.Fprintln(args.Stdout, v)
	return nil
}

// configInit writes the default configuration. An existing file is kept
// unless force is set.
func configInit(args Args, path string, force bool) error {
	if path == "" {
		path = args.ConfigPath
	}
	if path == "" {
		if err := config.EnsureConfigDir(); err != nil {
			return err
		}
		var err error
		if path, err = config.ConfigPathTOML(); err != nil {
			return err
		}
	}
	if _, err := os.Stat(path); err == nil && !force {
		return &UsageError{
			Message: fmt.Sprintf("%s already exists", path),
			Usage:   "chatlink config init --force",
		}
	}
	if err := config.SaveTOML(config.Default(), path); err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("config init", map[string]string{"path": path}).Write(args.Stdout)
	}
	fmt.Fprintln(args.Stdout, SuccessStyle.Render("Wrote "+path))
	return nil
}
