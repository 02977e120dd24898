/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/tomoncle/dbwire/config"
	"github.com/tomoncle/dbwire/database"
	"github.com/tomoncle/dbwire/utils"
)

const maskedSecret = "******"

// NewApp builds the dbwire command line. Results are written to out.
func NewApp(version string, out io.Writer) *cli.Command {
	if out == nil {
		out = os.Stdout
	}
	var settings *config.Settings

	return &cli.Command{
		Name:    "dbwire",
		Usage:   "Validates database connection configurations and wires connections.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error).",
				Sources: cli.NewValueSourceChain(cli.EnvVar(config.EnvPrefix + "_LOG_LEVEL")),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			var err error
			settings, err = config.LoadSettings(config.EnvPrefix)
			if err != nil {
				return ctx, err
			}
			if lvl := cmd.String("log-level"); lvl != "" {
				settings.LogLevel = lvl
			}
			utils.ConfigureLogLevel(settings.LogLevel)
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:  "validate",
				Usage: "Validate every connection and print the normalized parameters.",
				Flags: []cli.Flag{configFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					file, err := loadFile(cmd, settings)
					if err != nil {
						return err
					}
					return runValidate(out, file)
				},
			},
			{
				Name:  "ping",
				Usage: "Wire every connection and check that it answers.",
				Flags: []cli.Flag{
					configFlag(),
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Timeout of each health check.",
						Value: 5 * time.Second,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					file, err := loadFile(cmd, settings)
					if err != nil {
						return err
					}
					return runPing(ctx, out, file, settings, cmd.Duration("timeout"))
				},
			},
		},
	}
}

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the YAML connections file.",
		Sources: cli.NewValueSourceChain(cli.EnvVar(config.EnvPrefix + "_CONFIG_FILE")),
	}
}

func loadFile(cmd *cli.Command, settings *config.Settings) (*config.File, error) {
	path := cmd.String("config")
	if path == "" {
		path = settings.ConfigFile
	}
	file, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := file.ApplyEnv(config.EnvPrefix); err != nil {
		return nil, err
	}
	if file.DefaultConnection == "" {
		file.DefaultConnection = settings.DefaultConnection
	}
	return file, nil
}

func runValidate(out io.Writer, file *config.File) error {
	normalized := make(map[string]map[string]interface{}, len(file.Connections))
	var errs []error
	for _, name := range sortedNames(file.Connections) {
		params, _, err := database.Normalize(name, file.Connections[name])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		normalized[name] = printable(params)
	}
	if len(errs) > 0 {
		return reportViolations(out, errors.Join(errs...))
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]interface{}{"connections": normalized}); err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	return enc.Close()
}

func reportViolations(out io.Writer, err error) error {
	violations := database.Violations(err)
	if len(violations) == 0 {
		fmt.Fprintf(out, "%s %v\n", color.RedString("FAIL"), err)
		return err
	}
	for _, v := range violations {
		fmt.Fprintf(out, "%s %s: %s\n", color.RedString("FAIL"), v.Path, v.Reason)
	}
	return fmt.Errorf("%d configuration error(s)", len(violations))
}

func runPing(ctx context.Context, out io.Writer, file *config.File, settings *config.Settings, timeout time.Duration) error {
	opts := []database.EmitterOption{
		database.WithSlowQueryThreshold(settings.SlowQueryTime),
	}
	if file.DefaultConnection != "" {
		opts = append(opts, database.WithDefaultConnection(file.DefaultConnection))
	}
	if settings.Debug {
		opts = append(opts,
			database.WithDebug(database.NewMemoryPanel()),
			database.WithDebugStackLimit(settings.DebugStackLimit),
		)
		if settings.DebugVerbose {
			opts = append(opts, database.WithDebugConsole(os.Stderr, true))
		}
	}

	registry, err := database.InitConnections(file.Connections, opts...)
	if err != nil {
		return reportViolations(out, err)
	}
	defer func() { _ = database.CloseConnections() }()

	failed := 0
	for _, name := range registry.Names() {
		conn, _ := registry.Get(name)
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		status := conn.HealthCheck(checkCtx)
		cancel()

		marker := ""
		if name == registry.DefaultName() {
			marker = " (default)"
		}
		if status.Healthy {
			fmt.Fprintf(out, "%s %s%s %s\n", color.GreenString("OK  "), name, marker, status.ResponseTime.Round(time.Microsecond))
			continue
		}
		failed++
		fmt.Fprintf(out, "%s %s%s %s\n", color.RedString("FAIL"), name, marker, status.LastError)
	}
	if failed > 0 {
		return fmt.Errorf("%d connection(s) unhealthy", failed)
	}
	return nil
}

// printable masks secrets and renders deferred values in their
// configuration syntax.
func printable(params database.Params) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = printableValue(k, v)
	}
	return out
}

func printableValue(key string, v interface{}) interface{} {
	switch t := v.(type) {
	case database.Deferred:
		if t.IsReference() {
			return t.String()
		}
		if key == "password" {
			return maskedSecret
		}
		return t.Literal()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, inner := range t {
			out[k] = printableValue(k, inner)
		}
		return out
	default:
		if key == "password" {
			return maskedSecret
		}
		return v
	}
}

func sortedNames(m map[string]database.RawConnectionConfig) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
