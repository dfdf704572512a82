package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jobrunner/geopreview/internal/adapters/storage"
	"github.com/jobrunner/geopreview/internal/app"
	"github.com/jobrunner/geopreview/internal/config"
	"github.com/jobrunner/geopreview/internal/domain"
	"github.com/jobrunner/geopreview/internal/ports/input"
	"github.com/jobrunner/geopreview/internal/ports/output"
)

var previewCmd = &cobra.Command{
	Use:   "preview FILE...",
	Short: "Write the preview of a local file as JSON",
	Long: `Reads a main file and its companions, detects the coordinate system and
writes the categorized preview to stdout. Companion files next to the main
file (.dbf, .shx, .prj, .cpg) are picked up automatically.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPreview,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE...",
	Short: "Write the layers, bounds and detected coordinate system of a local file",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAnalyze,
}

var systemsCmd = &cobra.Command{
	Use:   "systems",
	Short: "List the supported coordinate systems",
	Args:  cobra.NoArgs,
	RunE:  runSystems,
}

func init() {
	addPreviewFlags(previewCmd)
	analyzeCmd.Flags().Bool("pretty", false, "indent the JSON output")
}

func addPreviewFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("target", "", "target coordinate system (default from config)")
	f.String("source", "", "source coordinate system, skips detection")
	f.StringSlice("layers", nil, "visible layers (default all)")
	f.Int("max-features", 0, "maximum preview features (default from config)")
	f.Int("max-memory", 0, "memory ceiling in MB (default from config)")
	f.Bool("smart-sampling", true, "grid sampling instead of keeping the first features")
	f.Float64("simplify", 0, "simplification tolerance in target units")
	f.Bool("progress", false, "report progress on stderr")
	f.Bool("pretty", false, "indent the JSON output")
}

// cliPipeline loads the configuration and builds a pipeline that logs to
// stderr so stdout stays machine readable.
func cliPipeline() (*app.Pipeline, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging, os.Stderr)
	return app.NewPipeline(cfg, &output.NoOpMetrics{}, logger), nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	p, err := cliPipeline()
	if err != nil {
		return err
	}

	src, err := loadSource(args, p.Formats.MainExtensions())
	if err != nil {
		return err
	}

	opts, err := previewOptions(cmd, p.Previews.DefaultOptions())
	if err != nil {
		return err
	}

	req := input.PreviewRequest{Source: src, Options: opts}
	if progress, _ := cmd.Flags().GetBool("progress"); progress {
		stderr := cmd.ErrOrStderr()
		req.Progress = func(processed, total int) {
			fmt.Fprintf(stderr, "\r%d/%d features", processed, total)
		}
	}

	preview, err := p.Previews.Preview(cmd.Context(), req)
	if req.Progress != nil {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if err != nil {
		return err
	}

	pretty, _ := cmd.Flags().GetBool("pretty")
	return writeJSON(cmd.OutOrStdout(), preview, pretty)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	p, err := cliPipeline()
	if err != nil {
		return err
	}

	src, err := loadSource(args, p.Formats.MainExtensions())
	if err != nil {
		return err
	}

	analysis, err := p.Previews.Analyze(cmd.Context(), src)
	if err != nil {
		return err
	}

	pretty, _ := cmd.Flags().GetBool("pretty")
	return writeJSON(cmd.OutOrStdout(), analysis, pretty)
}

func runSystems(cmd *cobra.Command, _ []string) error {
	p, err := cliPipeline()
	if err != nil {
		return err
	}
	return writeSystems(cmd.OutOrStdout(), p.Systems.All())
}

func writeSystems(w io.Writer, systems []domain.CoordinateSystem) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tUNITS\tNAME")
	for _, cs := range systems {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", cs.Code, cs.Units, cs.Name)
	}
	return tw.Flush()
}

// previewOptions applies the flags the user set on top of defaults.
func previewOptions(cmd *cobra.Command, opts domain.PreviewOptions) (domain.PreviewOptions, error) {
	f := cmd.Flags()
	if f.Changed("target") {
		opts.TargetCoordinateSystem, _ = f.GetString("target")
	}
	if f.Changed("source") {
		opts.SourceCoordinateSystem, _ = f.GetString("source")
	}
	if f.Changed("layers") {
		opts.SelectedLayers, _ = f.GetStringSlice("layers")
	}
	if f.Changed("max-features") {
		opts.MaxPreviewFeatures, _ = f.GetInt("max-features")
	}
	if f.Changed("max-memory") {
		opts.MaxMemoryMB, _ = f.GetInt("max-memory")
	}
	if f.Changed("smart-sampling") {
		opts.SmartSampling, _ = f.GetBool("smart-sampling")
	}
	if f.Changed("simplify") {
		opts.SimplifyTolerance, _ = f.GetFloat64("simplify")
	}
	// Caching only pays off across requests.
	opts.EnableCaching = false

	if opts.MaxPreviewFeatures < 1 {
		return opts, &domain.ValidationError{Field: "max-features", Value: opts.MaxPreviewFeatures, Message: "must be positive"}
	}
	if opts.MaxMemoryMB < 1 {
		return opts, &domain.ValidationError{Field: "max-memory", Value: opts.MaxMemoryMB, Message: "must be positive"}
	}
	if opts.SimplifyTolerance < 0 {
		return opts, &domain.ValidationError{Field: "simplify", Value: opts.SimplifyTolerance, Message: "must not be negative"}
	}
	return opts, nil
}

// loadSource reads the given files plus the companion files lying next
// to them and groups them into exactly one source.
func loadSource(paths []string, mainExts []string) (*domain.Source, error) {
	var files []domain.SourceFile
	seen := make(map[string]bool)

	add := func(path string) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		if seen[abs] {
			return nil
		}
		seen[abs] = true
		data, err := os.ReadFile(abs)
		if err != nil {
			return err
		}
		files = append(files, domain.SourceFile{Name: filepath.Base(abs), Data: data})
		return nil
	}

	for _, path := range paths {
		if err := add(path); err != nil {
			return nil, err
		}
		siblings, err := companionsOf(path)
		if err != nil {
			return nil, err
		}
		for _, s := range siblings {
			if err := add(s); err != nil {
				return nil, err
			}
		}
	}

	sources := domain.GroupSources(files, mainExts)
	switch len(sources) {
	case 0:
		return nil, fmt.Errorf("no main file among %s: %w", strings.Join(paths, ", "), domain.ErrUnsupportedFormat)
	case 1:
		return &sources[0], nil
	default:
		return nil, &domain.ValidationError{Field: "files", Value: len(sources), Message: "exactly one main file is required"}
	}
}

// companionsOf lists the companion files sharing the base name of path.
func companionsOf(path string) ([]string, error) {
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	base := domain.BaseName(path)
	var out []string
	for _, e := range entries {
		if e.IsDir() || domain.BaseName(e.Name()) != base {
			continue
		}
		if slices.Contains(storage.CompanionExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

func writeJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
