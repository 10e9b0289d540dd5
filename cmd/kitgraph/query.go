package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kittclouds/kitgraph/pkg/model"
	"github.com/kittclouds/kitgraph/pkg/pgraph"
)

func relationTypes(names []string) []model.RelationType {
	if len(names) == 0 {
		return nil
	}
	out := make([]model.RelationType, len(names))
	for i, n := range names {
		out[i] = model.RelationType(n)
	}
	return out
}

// queryCmd builds a read-only command whose result is printed as JSON.
func queryCmd(a *app, use, short string, args cobra.PositionalArgs, run func(ctx context.Context, pg *pgraph.PersistentGraph, args []string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withGraph(cmd.Context(), func(ctx context.Context, pg *pgraph.PersistentGraph) error {
				v, err := run(ctx, pg, args)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), v)
			})
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return queryCmd(a, "stats", "Print graph statistics", cobra.NoArgs,
		func(ctx context.Context, pg *pgraph.PersistentGraph, _ []string) (any, error) {
			return pg.Statistics(ctx)
		})
}

func newNodeCmd(a *app) *cobra.Command {
	return queryCmd(a, "node <id>", "Print one node", cobra.ExactArgs(1),
		func(ctx context.Context, pg *pgraph.PersistentGraph, args []string) (any, error) {
			return pg.GetNode(ctx, args[0])
		})
}

func newNeighborsCmd(a *app) *cobra.Command {
	var (
		direction string
		types     []string
		limit     int
	)
	cmd := queryCmd(a, "neighbors <id>", "List the IDs adjacent to a node", cobra.ExactArgs(1),
		func(ctx context.Context, pg *pgraph.PersistentGraph, args []string) (any, error) {
			return pg.Neighbors(ctx, args[0], pgraph.NeighborOptions{
				Direction: pgraph.Direction(direction),
				Types:     relationTypes(types),
				Limit:     limit,
			})
		})
	cmd.Flags().StringVarP(&direction, "direction", "d", string(pgraph.Both), "both, outbound or inbound")
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "only follow these relation types")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of neighbors (0 for all)")
	return cmd
}

func newPathCmd(a *app) *cobra.Command {
	var (
		direction string
		types     []string
	)
	cmd := queryCmd(a, "path <from> <to>", "Print the shortest path between two nodes", cobra.ExactArgs(2),
		func(ctx context.Context, pg *pgraph.PersistentGraph, args []string) (any, error) {
			return pg.ShortestPath(ctx, args[0], args[1], pgraph.PathOptions{
				Direction: pgraph.Direction(direction),
				Types:     relationTypes(types),
			})
		})
	cmd.Flags().StringVarP(&direction, "direction", "d", string(pgraph.Both), "both, outbound or inbound")
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "only follow these relation types")
	return cmd
}

func newSubgraphCmd(a *app) *cobra.Command {
	return queryCmd(a, "subgraph <id>...", "Print the subgraph induced by a set of nodes", cobra.MinimumNArgs(1),
		func(ctx context.Context, pg *pgraph.PersistentGraph, args []string) (any, error) {
			return pg.Subgraph(ctx, args)
		})
}

func newStubsCmd(a *app) *cobra.Command {
	var entityType string
	cmd := queryCmd(a, "stubs", "List stub nodes awaiting details", cobra.NoArgs,
		func(ctx context.Context, pg *pgraph.PersistentGraph, _ []string) (any, error) {
			stubs, err := pg.NodesByCompleteness(ctx, model.Stub)
			if err != nil || entityType == "" {
				return stubs, err
			}
			out := stubs[:0]
			for _, n := range stubs {
				if n.EntityType == model.EntityType(entityType) {
					out = append(out, n)
				}
			}
			return out, nil
		})
	cmd.Flags().StringVarP(&entityType, "entity-type", "e", "", "only stubs of this entity type")
	return cmd
}

func newTopCmd(a *app) *cobra.Command {
	var limit int
	cmd := queryCmd(a, "top", "List the most connected nodes", cobra.NoArgs,
		func(ctx context.Context, pg *pgraph.PersistentGraph, _ []string) (any, error) {
			return pg.MostConnected(ctx, limit)
		})
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of nodes")
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every node and edge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errConfirm
			}
			return a.withGraph(cmd.Context(), func(ctx context.Context, pg *pgraph.PersistentGraph) error {
				return pg.Clear(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
