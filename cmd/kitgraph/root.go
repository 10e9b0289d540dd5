package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kittclouds/kitgraph/internal/config"
	"github.com/kittclouds/kitgraph/pkg/pgraph"
)

// app carries what every subcommand shares.
type app struct {
	configPath string
	backend    string
	path       string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "kitgraph",
		Short:         "Persistent knowledge graph index",
		Long:          "kitgraph keeps a graph of bibliographic entities and their relationships\nacross sessions and answers neighborhood and path queries over it.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.backend, "backend", "", "storage backend: memory, fs, sqlite or badger")
	root.PersistentFlags().StringVar(&a.path, "path", "", "database file or directory for the backend")

	root.AddCommand(
		newImportCmd(a),
		newStatsCmd(a),
		newNodeCmd(a),
		newNeighborsCmd(a),
		newPathCmd(a),
		newSubgraphCmd(a),
		newStubsCmd(a),
		newTopCmd(a),
		newClearCmd(a),
		newCopyCmd(a),
		newMetricsCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("backend") {
		cfg.Backend = config.Backend(a.backend)
	}
	if cmd.Flags().Changed("path") {
		cfg.Path = a.path
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.Logger(cmd.ErrOrStderr())
	return nil
}

// withGraph hydrates the configured graph, runs fn and closes the graph
// whatever fn returns.
func (a *app) withGraph(ctx context.Context, fn func(ctx context.Context, pg *pgraph.PersistentGraph) error) (err error) {
	pg := pgraph.New(a.cfg.Opener(a.logger), a.cfg.GraphOptions(a.logger))
	defer func() {
		if cerr := pg.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := pg.Initialize(ctx); err != nil {
		return err
	}
	if err := pg.Hydrate(ctx); err != nil {
		return err
	}
	return fn(ctx, pg)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
