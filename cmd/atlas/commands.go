package main

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/atlas/config"
	"github.com/becomeliminal/atlas/core"
	"github.com/becomeliminal/atlas/engine"
	"github.com/becomeliminal/atlas/server"
)

func (c *cli) ingestCmd() *cobra.Command {
	var importance string
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Chunk, key, embed and store files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd.Context(), func(e *engine.Engine) error {
				res, err := e.Ingest(cmd.Context(), core.IngestInput{Paths: args, Importance: importance})
				if err != nil {
					return err
				}
				return c.print(res)
			})
		},
	}
	cmd.Flags().StringVar(&importance, "importance", "", "Importance of the new chunks: low, normal, high, critical")
	return cmd
}

func (c *cli) searchCmd() *cobra.Command {
	var (
		in       core.SearchInput
		minScore float64
	)
	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search memory by meaning",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Query = strings.Join(args, " ")
			if cmd.Flags().Changed("min-score") {
				in.MinScore = &minScore
			}
			return c.open(cmd.Context(), func(e *engine.Engine) error {
				res, err := e.Search(cmd.Context(), in)
				if err != nil {
					return err
				}
				return c.print(res)
			})
		},
	}
	f := cmd.Flags()
	f.IntVarP(&in.Limit, "limit", "l", 0, "Max results (default from config)")
	f.Float64Var(&minScore, "min-score", 0, "Minimum similarity (default from config)")
	f.IntVar(&in.MinLevel, "min-level", 0, "Minimum consolidation level")
	f.StringVar(&in.PathPrefix, "path", "", "Only chunks whose file path starts with this prefix")
	f.BoolVar(&in.IncludeSuperseded, "include-superseded", false, "Include absorbed chunks")
	f.BoolVar(&in.NoRerank, "no-rerank", false, "Skip reranking")
	return cmd
}

func (c *cli) consolidateCmd() *cobra.Command {
	var in core.ConsolidateInput
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Merge related chunks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd.Context(), func(e *engine.Engine) error {
				res, err := e.Consolidate(cmd.Context(), in)
				if err != nil {
					return err
				}
				return c.print(res)
			})
		},
	}
	f := cmd.Flags()
	f.BoolVar(&in.DryRun, "dry-run", false, "Preview decisions without writing")
	f.StringVar(&in.Keep, "keep", "", "Surviving chunk: first, second or merged (default from config)")
	f.BoolVar(&in.Sweep, "sweep", false, "Also run the deletion-eligibility sweep")
	return cmd
}

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe backends and storage tiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd.Context(), func(e *engine.Engine) error {
				report, err := e.Health(cmd.Context())
				if err != nil {
					return err
				}
				if err := c.print(report); err != nil {
					return err
				}
				if !report.Healthy {
					return errors.New("unhealthy")
				}
				return nil
			})
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show collection and system statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd.Context(), func(e *engine.Engine) error {
				report, err := e.Status(cmd.Context())
				if err != nil {
					return err
				}
				return c.print(report)
			})
		},
	}
}

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: websocket API, watchdog and config reload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.verbose {
				log.SetOutput(cmd.ErrOrStderr())
			}
			return c.open(cmd.Context(), func(e *engine.Engine) error {
				d := e.Config().Daemon
				if addr == "" {
					addr = d.Addr
				}
				srv := server.New(e, addr, server.WithRateLimit(d.RequestsPerMinute, 0))

				g, ctx := errgroup.WithContext(cmd.Context())
				g.Go(func() error { return e.Run(ctx) })
				g.Go(func() error { return srv.ListenAndServe(ctx) })
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the resolved configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the resolved configuration as YAML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := c.resolver(c.env())
				if err != nil {
					return err
				}
				data, err := config.Encode(r.Get())
				if err != nil {
					return err
				}
				_, err = c.out.Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the configuration without opening storage",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := c.resolver(c.env())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(c.out, "ok (%d backends, file=%q)\n", len(r.Get().Backends), r.Path())
				return err
			},
		},
	)
	return cmd
}
