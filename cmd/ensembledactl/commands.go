package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	api "ensembleda/pkg/ensembleda"
)

func newRunCommand(opts *globalOptions) *cobra.Command {
	f := &runFlags{}
	var runID string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one search",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadRunConfig(cmd, f)
			if err != nil {
				return err
			}
			client, cleanup, err := newClient(cmd, withMetrics(opts, cfg.MetricsAddr))
			if err != nil {
				return err
			}
			defer cleanup()

			summary, err := client.Run(cmd.Context(), api.RunRequest{RunID: runID, Config: cfg})
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	bindRunFlags(cmd, f)
	cmd.Flags().StringVar(&runID, "run-id", "", "run id (generated when empty)")
	return cmd
}

func newBatchCommand(opts *globalOptions) *cobra.Command {
	f := &runFlags{}
	var (
		seeds    string
		parallel int
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run independent searches, one per seed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadRunConfig(cmd, f)
			if err != nil {
				return err
			}
			parsed, err := parseSeeds(seeds)
			if err != nil {
				return err
			}
			client, cleanup, err := newClient(cmd, withMetrics(opts, cfg.MetricsAddr))
			if err != nil {
				return err
			}
			defer cleanup()

			items, err := client.Batch(cmd.Context(), api.BatchRequest{Config: cfg, Seeds: parsed, Workers: parallel})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "SEED\tRUN\tSTOP\tGENERATIONS\tBEST\tERROR")
			failed := 0
			for _, item := range items {
				if item.Err != nil {
					failed++
					fmt.Fprintf(w, "%d\t-\t-\t-\t-\t%v\n", item.Seed, item.Err)
					continue
				}
				s := item.Summary
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%.6f\t\n", item.Seed, s.RunID, s.StopReason, s.Completed, s.BestQuality)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, len(items))
			}
			return nil
		},
	}
	bindRunFlags(cmd, f)
	cmd.Flags().StringVar(&seeds, "seeds", "1,2,3", "comma-separated seeds or a range like 1-5")
	cmd.Flags().IntVar(&parallel, "parallel", 2, "runs executed concurrently")
	return cmd
}

func newRunsCommand(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, cleanup, err := newClient(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := client.Runs(cmd.Context(), api.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tCREATED\tSEED\tINDIVIDUALS\tGENERATIONS\tSTOP\tBEST")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d/%d\t%s\t%.6f\n",
					r.RunID, createdAgo(r.CreatedAtUTC), r.Seed, humanize.Comma(int64(r.Individuals)),
					r.Completed, r.Generations, r.StopReason, r.BestQuality)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs listed")
	return cmd
}

func newDiagnosticsCommand(opts *globalOptions) *cobra.Command {
	var (
		runID  string
		latest bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Show per-generation diagnostics of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, cleanup, err := newClient(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			diagnostics, err := client.Diagnostics(cmd.Context(), api.DiagnosticsRequest{RunID: runID, Latest: latest, Limit: limit})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "GEN\tMIN\tMEDIAN\tMAX\tVALIDATION\tOVERALL\tTHINNED\tINVALID\tEDGES")
			for _, d := range diagnostics {
				fmt.Fprintf(w, "%d\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t%d\t%d\t%d\n",
					d.Generation, d.MinQuality, d.MedianQuality, d.MaxQuality, d.ValidationQuality,
					d.OverallBest, d.ThinnedDiscarded, d.InvalidDiscarded, d.Edges)
			}
			return w.Flush()
		},
	}
	bindRunSelector(cmd, &runID, &latest)
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum generations shown, 0 for all")
	return cmd
}

func newStructureCommand(opts *globalOptions) *cobra.Command {
	var (
		runID      string
		latest     bool
		generation int
	)
	cmd := &cobra.Command{
		Use:   "structure",
		Short: "Show the parent sets of a structure snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, cleanup, err := newClient(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			snap, err := client.Structure(cmd.Context(), api.StructureRequest{RunID: runID, Latest: latest, Generation: generation})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "generation %d\n", snap.Generation)
			w := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "VARIABLE\tKIND\tFIXED\tPROBABILISTIC\tROWS")
			for _, v := range snap.Variables {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", v.Name, v.Kind, joinOrDash(v.FixedParents), joinOrDash(v.ProbabilisticParents), len(v.Rows))
			}
			return w.Flush()
		},
	}
	bindRunSelector(cmd, &runID, &latest)
	cmd.Flags().IntVar(&generation, "generation", -1, "snapshot generation, -1 for the last one")
	return cmd
}

func newBestCommand(opts *globalOptions) *cobra.Command {
	var (
		runID  string
		latest bool
	)
	cmd := &cobra.Command{
		Use:   "best",
		Short: "Show the best configurations of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, cleanup, err := newClient(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			best, err := client.Best(cmd.Context(), api.BestRequest{RunID: runID, Latest: latest})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, b := range best {
				fmt.Fprintf(out, "%s generation=%d quality=%.6f validation=%.6f\n", b.Label, b.Generation, b.Quality, b.ValidationQuality)
				for _, name := range b.Configuration.Active() {
					fmt.Fprintf(out, "  %s=%s\n", name, b.Configuration[name])
				}
			}
			return nil
		},
	}
	bindRunSelector(cmd, &runID, &latest)
	return cmd
}

func newExportCommand(opts *globalOptions) *cobra.Command {
	var (
		runID  string
		latest bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy the artifacts of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, cleanup, err := newClient(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			exported, err := client.Export(cmd.Context(), api.ExportRequest{RunID: runID, Latest: latest, OutDir: outDir})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
			return nil
		},
	}
	bindRunSelector(cmd, &runID, &latest)
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (defaults to --exports-dir)")
	return cmd
}

func newModelCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect bootstrap models",
	}
	var modelDir, outDir string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the initial tables of a model as CSV files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, cleanup, err := newClient(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			dir, err := client.ExportModel(cmd.Context(), api.ModelExportRequest{ModelDir: modelDir, OutDir: outDir})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported model dir=%s\n", dir)
			return nil
		},
	}
	export.Flags().StringVar(&modelDir, "model-dir", "", "bootstrap model directory (embedded default when empty)")
	export.Flags().StringVar(&outDir, "out", "", "output directory")
	_ = export.MarkFlagRequired("out")
	cmd.AddCommand(export)
	return cmd
}

func newAggregatorsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregators",
		Short: "List the registered aggregation policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, cleanup, err := newClient(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()
			for _, name := range client.Aggregators() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func bindRunSelector(cmd *cobra.Command, runID *string, latest *bool) {
	cmd.Flags().StringVar(runID, "run-id", "", "run id")
	cmd.Flags().BoolVar(latest, "latest", false, "use the most recent run")
	cmd.MarkFlagsMutuallyExclusive("run-id", "latest")
}

// withMetrics lets a configured metrics address apply when no flag set one.
func withMetrics(opts *globalOptions, addr string) *globalOptions {
	if opts.metricsAddr != "" || addr == "" {
		return opts
	}
	copied := *opts
	copied.metricsAddr = addr
	return &copied
}

func printSummary(w io.Writer, s api.RunSummary) {
	fmt.Fprintf(w, "run_id=%s stop=%s generations=%d evaluations=%s best=%.6f validation=%.6f elapsed=%s\n",
		s.RunID, s.StopReason, s.Completed, humanize.Comma(int64(s.Evaluations)), s.BestQuality, s.ValidationQuality, s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "artifacts=%s\n", s.ArtifactsDir)
	names := make([]string, 0, len(s.Best))
	for name, value := range s.Best {
		if value != "" && value != "null" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s=%s\n", name, s.Best[name])
	}
	for _, f := range s.Final {
		fmt.Fprintf(w, "%s quality=%.6f\n", f.Label, f.Quality.Learn)
	}
}

func parseSeeds(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("at least one seed is required")
	}
	if lo, hi, ok := strings.Cut(raw, "-"); ok && !strings.Contains(raw, ",") && lo != "" {
		from, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid seed range %q: %w", raw, err)
		}
		to, err := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid seed range %q: %w", raw, err)
		}
		if to < from {
			return nil, fmt.Errorf("invalid seed range %q", raw)
		}
		seeds := make([]int64, 0, to-from+1)
		for s := from; s <= to; s++ {
			seeds = append(seeds, s)
		}
		return seeds, nil
	}
	var seeds []int64
	for _, part := range strings.Split(raw, ",") {
		s, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid seed %q: %w", part, err)
		}
		seeds = append(seeds, s)
	}
	return seeds, nil
}

func createdAgo(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}
