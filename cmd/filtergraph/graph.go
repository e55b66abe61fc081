package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/filtergraph/pkg/pipeline"
)

func graphCmd(g *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph <graph>",
		Short: "Print a human-readable summary of a graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gr, err := loadGraph(args[0], loadRegistry(g.plugins))
			if err != nil {
				return err
			}

			switch strings.ToLower(format) {
			case "dot":
				fmt.Fprint(cmd.OutOrStdout(), pipeline.RenderDOT(gr))
			case "text", "":
				fmt.Fprint(cmd.OutOrStdout(), renderText(gr))
			default:
				return fmt.Errorf("unknown format %q: use text or dot", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text or dot")
	return cmd
}

func convertCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Convert a graph between the script and DOT formats",
		Long: `Convert reads and writes graphs by file extension: .dot and .gv are
Graphviz DOT, anything else is the line script format.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := loadRegistry(g.plugins)
			gr, err := loadGraph(args[0], reg)
			if err != nil {
				return err
			}
			if err := saveGraph(args[1], gr, reg); err != nil {
				return fmt.Errorf("write %s: %w", args[1], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d nodes, %d edges)\n", args[1], gr.Len(), len(gr.Edges()))
			return nil
		},
	}
}

// topoOrder returns node IDs in evaluation order. A cyclic graph is listed
// in insertion order instead.
func topoOrder(g *pipeline.Graph) []pipeline.NodeID {
	if order, err := pipeline.TopoOrder(g); err == nil {
		return order
	}
	nodes := g.Nodes()
	order := make([]pipeline.NodeID, len(nodes))
	for i, n := range nodes {
		order[i] = n.ID
	}
	return order
}

// renderText produces the human-readable text summary.
func renderText(g *pipeline.Graph) string {
	var sb strings.Builder

	order := topoOrder(g)
	edges := g.Edges()
	fmt.Fprintf(&sb, "Graph: %s  (%d nodes, %d edges)\n", g.Name, g.Len(), len(edges))

	maxIDLen := 4 // minimum "node"
	for _, id := range order {
		if len(id) > maxIDLen {
			maxIDLen = len(id)
		}
	}

	fmt.Fprintf(&sb, "\nNodes:\n")
	for _, id := range order {
		n, _ := g.Node(id)
		params := make([]string, len(n.Params))
		for i, p := range n.Params {
			params[i] = p.Name + "=" + strconv.FormatFloat(p.Value, 'g', -1, 64)
		}
		arity := fmt.Sprintf("%d->%d", n.Inputs, n.Outputs)
		fmt.Fprintf(&sb, "  %-*s  %-16s  %-5s  %s\n", maxIDLen, id, n.Op, arity, strings.Join(params, " "))
	}

	fmt.Fprintf(&sb, "\nEdges:\n")
	maxFromLen := 4
	for _, e := range edges {
		if l := len(e.From.String()); l > maxFromLen {
			maxFromLen = l
		}
	}
	for _, e := range edges {
		fmt.Fprintf(&sb, "  %-*s  ->  %s\n", maxFromLen, e.From, e.To)
	}
	return sb.String()
}
