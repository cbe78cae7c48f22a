package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"PatentTriage/internal/app"
	"PatentTriage/internal/config"
	"PatentTriage/internal/domain"
	"PatentTriage/internal/logging"
	"PatentTriage/internal/ports"
)

var (
	jsonOutput bool
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "patenttriage",
		Short: "Patent ingestion, triage and tracker sync",
		Long: `patenttriage extracts patents from CSV, XML, gzip and zip exports,
deduplicates them by content fingerprint, classifies them for relevance
and mirrors the relevant ones to the tracking table.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (overrides PATENT_TRIAGE_CONFIG)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{"version": app.Version})
				return
			}
			fmt.Printf("patenttriage %s\n", app.Version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "ingest <file>...",
		Short: "Extract files and enqueue new documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				reports, err := a.Ingest(ctx, args)
				for _, r := range reports {
					if r.JobID == "" {
						continue
					}
					if jsonOutput {
						printJSON(r)
						continue
					}
					fmt.Printf("%s: parsed %d, already scored %d, already queued %d, new to score %d\n",
						r.Filename, r.TotalParsed, r.Existing, r.QueuedDuplicate, r.Enqueued)
				}
				return err
			})
		},
	})

	var (
		limit        int
		minRelevance string
		all          bool
	)
	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Classify pending queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			var threshold domain.Relevance
			if minRelevance != "" {
				r, err := domain.ParseRelevance(minRelevance)
				if err != nil {
					return err
				}
				threshold = r
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				res, err := a.Process(ctx, limit, threshold, all)
				if jsonOutput {
					printJSON(res)
				} else {
					fmt.Printf("processed %d, scored %d, filtered %d, errors %d\n",
						res.Processed, res.Scored, res.Filtered, res.Errors)
				}
				return err
			})
		},
	}
	processCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Items per batch (default from config)")
	processCmd.Flags().StringVar(&minRelevance, "min-relevance", "", "Threshold counted as scored: High, Medium or Low")
	processCmd.Flags().BoolVarP(&all, "all", "a", false, "Repeat batches until the queue is drained")
	rootCmd.AddCommand(processCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "sync [patent-id]...",
		Short: "Mirror High and Medium results to the tracker and retire Low ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				report, err := a.Sync(ctx, args)
				if report.RunID == "" {
					return err
				}
				if jsonOutput {
					printJSON(report)
					return err
				}
				fmt.Printf("run %s: considered %d, created %d, already present %d, failed %d, retired %d\n",
					report.RunID, report.Considered, report.Created, report.AlreadyPresent, report.Failed, report.Retired)
				for _, d := range report.Details {
					fmt.Fprintf(os.Stderr, "  %s: %s\n", d.ExternalID, d.Error)
				}
				return err
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "skip <patent-id>...",
		Short: "Mark pending queue items as skipped",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				updated, err := a.Skip(ctx, args)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(map[string]any{"updated": updated, "patentIds": args})
					return nil
				}
				fmt.Printf("skipped %d\n", updated)
				return nil
			})
		},
	})

	var (
		exportOut       string
		exportRelevance string
		exportSource    string
		exportSearch    string
	)
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write scored results as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ports.ResultFilter{Search: exportSearch}
			if exportRelevance != "" {
				r, err := domain.ParseRelevance(exportRelevance)
				if err != nil {
					return err
				}
				filter.Relevance = r
			}
			if exportSource != "" {
				filter.Source = domain.ParseSource(exportSource)
			}

			return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				w := io.Writer(os.Stdout)
				if exportOut != "" && exportOut != "-" {
					f, err := os.Create(exportOut)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}

				rows, err := a.Export(ctx, w, filter)
				if err != nil {
					return err
				}
				if exportOut != "" && exportOut != "-" {
					fmt.Fprintf(os.Stderr, "wrote %d rows to %s\n", rows, exportOut)
				}
				return nil
			})
		},
	}
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default stdout)")
	exportCmd.Flags().StringVar(&exportRelevance, "relevance", "", "Only High, Medium or Low results")
	exportCmd.Flags().StringVar(&exportSource, "source", "", "Only results from GRANT, PREGRANT or CSV")
	exportCmd.Flags().StringVar(&exportSearch, "search", "", "Substring of id, title or abstract")
	rootCmd.AddCommand(exportCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				return a.Serve(ctx)
			})
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.Application) error) error {
	if configPath != "" {
		os.Setenv("PATENT_TRIAGE_CONFIG", configPath)
	}
	cfg := config.Load()
	logger := logging.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}()

	return fn(ctx, application)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}
