package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kittclouds/kitgraph/pkg/pgraph"
)

// Envelope kinds accepted on an import stream.
const (
	kindEntity       = "entity"
	kindRelationship = "relationship"
)

// maxLine bounds a single JSON line. Entities with large metadata blobs
// exceed bufio's 64KiB default.
const maxLine = 4 << 20

type importResult struct {
	Lines         int `json:"lines"`
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
	Skipped       int `json:"skipped"`
}

// importObservations applies a JSON Lines stream of observation envelopes:
//
//	{"kind":"entity","id":"W1","completeness":"full","label":"..."}
//	{"kind":"relationship","source":"W1","target":"A1","type":"AUTHORSHIP"}
//
// Blank lines are ignored. With keepGoing a bad line is counted and
// skipped, otherwise the first failure stops the import.
func importObservations(ctx context.Context, pg *pgraph.PersistentGraph, r io.Reader, keepGoing bool, log func(line int, err error)) (importResult, error) {
	var res importResult
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		res.Lines++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		kind, err := applyLine(ctx, pg, raw)
		if err == nil {
			switch kind {
			case kindEntity:
				res.Entities++
			case kindRelationship:
				res.Relationships++
			}
			continue
		}
		if ctx.Err() != nil || !keepGoing || errors.Is(err, pgraph.ErrStorageIO) {
			return res, fmt.Errorf("line %d: %w", res.Lines, err)
		}
		res.Skipped++
		if log != nil {
			log(res.Lines, err)
		}
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("line %d: read: %w", res.Lines+1, err)
	}
	return res, nil
}

func applyLine(ctx context.Context, pg *pgraph.PersistentGraph, raw []byte) (string, error) {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", fmt.Errorf("%w: %v", pgraph.ErrInvalidInput, err)
	}
	switch head.Kind {
	case kindEntity:
		var in pgraph.NodeInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return "", fmt.Errorf("%w: %v", pgraph.ErrInvalidInput, err)
		}
		_, err := pg.AddNode(ctx, in)
		return head.Kind, err
	case kindRelationship:
		var in pgraph.EdgeInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return "", fmt.Errorf("%w: %v", pgraph.ErrInvalidInput, err)
		}
		_, err := pg.AddEdge(ctx, in)
		return head.Kind, err
	}
	return "", fmt.Errorf("%w: unknown kind %q", pgraph.ErrInvalidInput, head.Kind)
}

func newImportCmd(a *app) *cobra.Command {
	var keepGoing bool
	cmd := &cobra.Command{
		Use:   "import [file|-]",
		Short: "Apply a JSON Lines stream of entity and relationship observations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open %s: %w", args[0], err)
				}
				defer f.Close()
				in = f
			}
			return a.withGraph(cmd.Context(), func(ctx context.Context, pg *pgraph.PersistentGraph) error {
				res, err := importObservations(ctx, pg, in, keepGoing, func(line int, err error) {
					a.logger.Warn("skipped line", "line", line, "error", err)
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().BoolVarP(&keepGoing, "keep-going", "k", false, "skip invalid lines instead of stopping")
	return cmd
}
