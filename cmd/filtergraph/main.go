package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/filtergraph/pkg/pipeline"
	"github.com/ravi-parthasarathy/filtergraph/pkg/pipeline/ops"
	"github.com/ravi-parthasarathy/filtergraph/pkg/plugin"
	"github.com/ravi-parthasarathy/filtergraph/pkg/raster"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	logLevel  string
	logFormat string
	plugins   []string
}

func rootCmd() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:   "filtergraph",
		Short: "filtergraph: image filter graph evaluator",
		Long: `filtergraph evaluates dataflow graphs of image filters.

Each node applies a named operation (blur, gamma_correction, sobel, ...) to
the images arriving on its input ports. Graphs are read from line scripts or,
for .dot/.gv files, from Graphviz DOT.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return initLogger(g.logLevel, g.logFormat)
		},
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "log format: text or json")
	root.PersistentFlags().StringArrayVar(&g.plugins, "plugin", nil, "plugin manifest to load (repeatable)")

	root.AddCommand(runCmd(g))
	root.AddCommand(probeCmd(g))
	root.AddCommand(lintCmd(g))
	root.AddCommand(graphCmd(g))
	root.AddCommand(convertCmd(g))
	root.AddCommand(opsCmd(g))
	root.AddCommand(inspectCmd())
	return root
}

// ─── run ──────────────────────────────────────────────────────────────────────

type runOptions struct {
	outDir    string
	workers   int
	normalize bool
}

func runCmd(g *globalOptions) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run <graph> <image>...",
		Short: "Evaluate a graph over one or more images",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := loadRegistry(g.plugins)
			written, err := runGraph(signalContext(cmd.Context()), reg, args[0], args[1:], opts)
			for _, path := range written {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&opts.outDir, "out", ".", "directory for result images")
	cmd.Flags().IntVar(&opts.workers, "workers", runtime.NumCPU(), "images evaluated in parallel")
	cmd.Flags().BoolVar(&opts.normalize, "normalize", true, "clip intermediate images to the 8-bit range")
	return cmd
}

// runGraph evaluates the graph once per image and writes every result as
// <stem>_<i><ext> into opts.outDir. It returns the paths written.
func runGraph(ctx context.Context, reg *ops.Registry, graphPath string, images []string, opts runOptions) ([]string, error) {
	eng, err := buildEngine(graphPath, reg, opts.normalize)
	if err != nil {
		return nil, err
	}

	inputs := make([]map[pipeline.NodeID]*raster.Image, len(images))
	for i, path := range images {
		img, err := raster.Load(path)
		if err != nil {
			return nil, err
		}
		inputs[i] = eng.Bind(img)
	}

	results, err := eng.EvaluateBatch(ctx, inputs, opts.workers)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	var written []string
	for i, res := range results {
		for j, img := range res.Images() {
			path := filepath.Join(opts.outDir, outputName(images[i], j))
			if err := raster.Save(path, img); err != nil {
				return written, err
			}
			slog.Info("saved result", "path", path, "sink", res.Outputs[j].Node)
			written = append(written, path)
		}
	}
	return written, nil
}

// outputName derives "<stem>_<i><ext>" from the input image path.
func outputName(input string, i int) string {
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(base, ext), i, ext)
}

// ─── probe ────────────────────────────────────────────────────────────────────

func probeCmd(g *globalOptions) *cobra.Command {
	var (
		node      string
		outDir    string
		normalize bool
	)

	cmd := &cobra.Command{
		Use:   "probe <graph> <image>",
		Short: "Evaluate a graph only up to one node and save what it produces",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := loadRegistry(g.plugins)
			eng, err := buildEngine(args[0], reg, normalize)
			if err != nil {
				return err
			}
			img, err := raster.Load(args[1])
			if err != nil {
				return err
			}
			imgs, err := eng.Probe(signalContext(cmd.Context()), eng.Bind(img), pipeline.NodeID(node))
			if err != nil {
				return fmt.Errorf("probe %q: %w", node, err)
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			for i, m := range imgs {
				path := filepath.Join(outDir, fmt.Sprintf("probe_%d.png", i))
				if err := raster.Save(path, m); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&node, "node", "", "ID of the node to probe")
	cmd.Flags().StringVar(&outDir, "out", ".", "directory for probe images")
	cmd.Flags().BoolVar(&normalize, "normalize", true, "clip intermediate images to the 8-bit range")
	_ = cmd.MarkFlagRequired("node")
	return cmd
}

// ─── lint ─────────────────────────────────────────────────────────────────────

func lintCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lint <graph>",
		Short: "Validate a graph without evaluating it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := loadRegistry(g.plugins)
			gr, err := loadGraph(args[0], reg)
			if err != nil {
				return err
			}
			if lintErr := pipeline.ValidateErr(gr, reg); lintErr != nil {
				return lintErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: graph %q is valid (%d nodes, %d edges)\n",
				gr.Name, gr.Len(), len(gr.Edges()))
			return nil
		},
	}
}

// ─── ops ──────────────────────────────────────────────────────────────────────

func opsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List the available operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := loadRegistry(g.plugins)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tARITY\tPARAMS\tDESCRIPTION")
			for _, op := range reg.List() {
				params := make([]string, len(op.Params))
				for i, p := range op.Params {
					params[i] = fmt.Sprintf("%s=%g", p.Name, p.Default)
				}
				arity := fmt.Sprintf("%d->%d", op.Inputs, op.Outputs)
				if op.Variadic {
					arity += "+"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", op.Name, arity, strings.Join(params, " "), op.Description)
			}
			return tw.Flush()
		},
	}
}

// ─── inspect ──────────────────────────────────────────────────────────────────

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <image>...",
		Short: "Print shape and mean brightness of images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				img, err := raster.Load(path)
				if err != nil {
					return err
				}
				h, w := raster.Shape(img)
				fmt.Fprintf(cmd.OutOrStdout(), "%s: shape=(%d, %d) channels=%d mean_brightness=%.2f\n",
					path, h, w, img.Channels, raster.MeanBrightness(img))
			}
			return nil
		},
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// initLogger installs the default slog logger.
func initLogger(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q: use text or json", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// loadRegistry returns the built-in operations plus those of every plugin
// manifest that loads. Broken plugins are reported and skipped.
func loadRegistry(plugins []string) *ops.Registry {
	reg := ops.Builtin()
	for _, path := range plugins {
		loaded, err := plugin.LoadFile(path)
		if err != nil {
			slog.Warn("skipping plugin", "err", err)
			continue
		}
		if err := reg.Merge(loaded...); err != nil {
			slog.Warn("skipping plugin", "path", path, "err", err)
			continue
		}
		slog.Info("loaded plugin", "path", path, "operations", len(loaded))
	}
	return reg
}

func isDOT(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dot", ".gv":
		return true
	}
	return false
}

// loadGraph reads a graph, choosing the codec by file extension.
func loadGraph(path string, reg pipeline.OperationRegistry) (*pipeline.Graph, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file: %w", err)
	}
	var g *pipeline.Graph
	if isDOT(path) {
		g, err = pipeline.ParseDOT(string(src), reg)
	} else {
		g, err = pipeline.DecodeScript(bytes.NewReader(src), reg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse graph: %w", err)
	}
	if g.Name == "" {
		g.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return g, nil
}

// saveGraph writes g, choosing the codec by file extension. reg is needed to
// check that a script reloads as the same graph.
func saveGraph(path string, g *pipeline.Graph, reg pipeline.OperationRegistry) error {
	var buf bytes.Buffer
	if isDOT(path) {
		buf.WriteString(pipeline.RenderDOT(g))
	} else if err := pipeline.EncodeScript(&buf, g, reg); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func buildEngine(graphPath string, reg *ops.Registry, normalize bool) (*pipeline.Engine, error) {
	g, err := loadGraph(graphPath, reg)
	if err != nil {
		return nil, err
	}
	var opts []pipeline.Option
	if normalize {
		opts = append(opts, pipeline.WithPostApply(raster.ClipAll))
	}
	eng, err := pipeline.NewEngine(g, reg, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	return eng, nil
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		select {
		case <-ch:
			fmt.Fprintln(os.Stderr, "\n[filtergraph] interrupted, cancelling evaluation")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
