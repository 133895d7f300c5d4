package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/atlas/config"
	"github.com/becomeliminal/atlas/engine"
	"github.com/becomeliminal/atlas/tracing"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// cli holds the persistent flags shared by every command.
type cli struct {
	out        io.Writer
	configPath string
	envFile    string
	backends   []string
	settings   []string
	verbose    bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:           "atlas",
		Version:       version,
		Short:         "Semantic memory for your notes",
		Long:          "atlas ingests files into a local semantic memory, searches it, and consolidates related chunks over time.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !c.verbose {
				log.SetOutput(io.Discard)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "Config file (default: $ATLAS_CONFIG)")
	flags.StringVar(&c.envFile, "env-file", ".env", "Dotenv file layered under the process environment")
	flags.StringArrayVarP(&c.backends, "backend", "b", nil, "Backend override capability=provider[:model] (repeatable)")
	flags.StringArrayVar(&c.settings, "set", nil, "Setting override section.key=value (repeatable)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Log to stderr")

	root.AddCommand(
		c.ingestCmd(),
		c.searchCmd(),
		c.consolidateCmd(),
		c.healthCmd(),
		c.statusCmd(),
		c.serveCmd(),
		c.configCmd(),
	)
	return root
}

func (c *cli) env() config.Env {
	if c.envFile == "" {
		return config.ProcessEnv
	}
	return config.WithDotEnv(config.ProcessEnv, c.envFile)
}

// resolver builds the layered config with command-line overrides applied.
func (c *cli) resolver(env config.Env) (*config.Resolver, error) {
	opts := []config.ResolverOption{config.WithEnv(env)}
	if c.configPath != "" {
		opts = append(opts, config.WithFile(c.configPath))
	}
	r := config.NewResolver(opts...)
	if _, err := r.Load(); err != nil {
		return nil, err
	}

	backends, err := config.ParseAssignments(c.backends)
	if err != nil {
		return nil, fmt.Errorf("--backend: %w", err)
	}
	settings, err := config.ParseAssignments(c.settings)
	if err != nil {
		return nil, fmt.Errorf("--set: %w", err)
	}
	o := config.Overrides{Backends: backends, Settings: settings}
	if !o.IsEmpty() {
		if _, err := r.ApplyOverrides(o); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// open runs fn against a freshly opened engine.
func (c *cli) open(ctx context.Context, fn func(e *engine.Engine) error) error {
	env := c.env()
	r, err := c.resolver(env)
	if err != nil {
		return err
	}
	shutdown, err := tracing.Setup(ctx, r.Get().Tracing, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Printf("[TRACING] Shutdown: %v", err)
		}
	}()

	e, err := engine.Open(ctx, engine.WithResolver(r), engine.WithEnv(env))
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(e)
}

func (c *cli) print(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(b))
	return err
}
