package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kittclouds/kitgraph/internal/config"
	"github.com/kittclouds/kitgraph/internal/store"
)

var errConfirm = errors.New("refusing to delete data without --yes")

type copyResult struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// copyStore writes every record of src into dst. Records keep their
// timestamps so dst hydrates in the same order.
func copyStore(ctx context.Context, src, dst store.Storer) (copyResult, error) {
	var res copyResult
	nodes, err := src.AllNodes(ctx)
	if err != nil {
		return res, err
	}
	if err := dst.BulkPutNodes(ctx, nodes); err != nil {
		return res, err
	}
	res.Nodes = len(nodes)

	edges, err := src.AllEdges(ctx)
	if err != nil {
		return res, err
	}
	if err := dst.BulkPutEdges(ctx, edges); err != nil {
		return res, err
	}
	res.Edges = len(edges)
	return res, nil
}

func newCopyCmd(a *app) *cobra.Command {
	var (
		toBackend string
		toPath    string
		replace   bool
	)
	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy every node and edge into another backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			dstCfg := a.cfg
			dstCfg.Backend = config.Backend(toBackend)
			dstCfg.Path = toPath
			if err := dstCfg.Validate(); err != nil {
				return err
			}
			if dstCfg.Backend == a.cfg.Backend && dstCfg.Path == a.cfg.Path {
				return errors.New("source and destination are the same store")
			}

			src, err := a.cfg.OpenStore(ctx, a.logger)
			if err != nil {
				return fmt.Errorf("open source: %w", err)
			}
			defer src.Close()
			if v, err := src.SchemaVersion(ctx); err != nil {
				return err
			} else if v != store.SchemaVersion {
				return fmt.Errorf("source schema version %d, want %d", v, store.SchemaVersion)
			}

			dst, err := dstCfg.OpenStore(ctx, a.logger)
			if err != nil {
				return fmt.Errorf("open destination: %w", err)
			}
			defer func() {
				if cerr := dst.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			st, err := dst.Stats(ctx)
			if err != nil {
				return err
			}
			if st.Nodes+st.Edges > 0 {
				if !replace {
					return fmt.Errorf("destination holds %d nodes and %d edges, pass --replace to overwrite", st.Nodes, st.Edges)
				}
				if err := dst.Clear(ctx); err != nil {
					return err
				}
			}

			res, err := copyStore(ctx, src, dst)
			if err != nil {
				return err
			}
			a.logger.Info("copied store", "from", a.cfg.Backend, "to", dstCfg.Backend, "nodes", res.Nodes, "edges", res.Edges)
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&toBackend, "to-backend", "", "destination backend")
	cmd.Flags().StringVar(&toPath, "to-path", "", "destination file or directory")
	cmd.Flags().BoolVar(&replace, "replace", false, "clear a non-empty destination first")
	_ = cmd.MarkFlagRequired("to-backend")
	return cmd
}
