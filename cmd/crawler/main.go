// Package main is the entry point for the funding program crawler CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alqutdigital/funding-crawler/internal/app"
	"github.com/alqutdigital/funding-crawler/internal/config"
	"github.com/alqutdigital/funding-crawler/internal/crawler"
	"github.com/alqutdigital/funding-crawler/internal/storage"
	"github.com/alqutdigital/funding-crawler/pkg/logger"
	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:          "crawler",
		Short:        "Austrian funding program crawler",
		Long:         "Discovers funding program pages on institution websites and extracts them into structured records.",
		Version:      fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newScrapeCmd(&ScrapeOptions{}))
	rootCmd.AddCommand(newDiscoverCmd())
	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newStatusCmd())

	return rootCmd.ExecuteContext(ctx)
}

// ScrapeOptions holds flags of the scrape command. Unset flags keep the
// values from the environment.
type ScrapeOptions struct {
	Institutions []string
	Cycle        bool
	Short        bool
	Deep         bool
	ScrapeOnly   bool
	MaxURLs      int
	JSON         bool
}

func newScrapeCmd(opts *ScrapeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Discover and scrape funding programs",
		Long:  "Run discovery for the selected institutions, scrape new detail pages and merge them into the program store.",
		Example: `  # Full run over every institution
  crawler scrape

  # Scheduled cycle run limited to two institutions
  crawler scrape --cycle --institutions=ffg,aws

  # Quick run: ten URLs per institution, no discovery
  crawler scrape --short --scrape-only

  # Rebuild discovery state from scratch
  crawler scrape --deep`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Institutions, "institutions", "i", nil, "Institution names or ids to process (default: all)")
	cmd.Flags().BoolVar(&opts.Cycle, "cycle", false, "Cycle run with the smaller per-institution URL cap")
	cmd.Flags().BoolVar(&opts.Short, "short", false, "Short run: at most ten URLs per institution")
	cmd.Flags().BoolVar(&opts.Deep, "deep", false, "Clear discovery state and re-explore every section")
	cmd.Flags().BoolVar(&opts.ScrapeOnly, "scrape-only", false, "Skip discovery and scrape the stored unscraped URLs")
	cmd.Flags().IntVar(&opts.MaxURLs, "max-urls", 0, "Cap on URLs per institution (0: mode default)")
	cmd.Flags().BoolVarP(&opts.JSON, "json", "j", false, "Output statistics as JSON")

	return cmd
}

func runScrape(cmd *cobra.Command, opts *ScrapeOptions) error {
	ctx := cmd.Context()
	a, log, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	runOpts := runOptions(a.Config, cmd, opts)
	log.Info("starting scrape",
		"institutions", runOpts.Targets,
		"mode", runOpts.Mode,
		"cycle", runOpts.CycleOnly,
		"short", runOpts.ShortCycle,
		"scrape_only", runOpts.ScrapeOnly,
		"max_urls", runOpts.MaxURLs,
	)

	s := newSpinner(" scraping funding programs...")
	s.Start()
	result := a.Orchestrator.ScrapeAll(ctx, runOpts)
	s.Stop()

	if opts.JSON {
		if err := printJSON(os.Stdout, result.Stats); err != nil {
			return err
		}
	} else {
		printRunStats(os.Stdout, result.Stats)
	}

	if result.Stats.Error != "" {
		return errors.New(result.Stats.Error)
	}
	return nil
}

// runOptions merges explicitly set flags over the environment configuration.
func runOptions(cfg *config.Config, cmd *cobra.Command, opts *ScrapeOptions) crawler.RunOptions {
	run := crawler.RunOptions{
		Targets:    cfg.Run.TargetInstitutions,
		Mode:       cfg.Run.DiscoveryMode,
		CycleOnly:  cfg.Run.CycleOnly,
		ShortCycle: cfg.Run.ShortCycle,
		ScrapeOnly: cfg.Run.ScrapeOnly,
		MaxURLs:    cfg.Run.MaxURLs,
	}

	flags := cmd.Flags()
	if flags.Changed("institutions") {
		run.Targets = opts.Institutions
	}
	if flags.Changed("cycle") {
		run.CycleOnly = opts.Cycle
	}
	if flags.Changed("short") {
		run.ShortCycle = opts.Short
	}
	if flags.Changed("scrape-only") {
		run.ScrapeOnly = opts.ScrapeOnly
	}
	if flags.Changed("max-urls") {
		run.MaxURLs = opts.MaxURLs
	}
	if flags.Changed("deep") {
		run.Mode = crawler.ModeIncremental
		if opts.Deep {
			run.Mode = crawler.ModeDeep
		}
	}
	return run
}

func newDiscoverCmd() *cobra.Command {
	var name string
	var timeout time.Duration
	var deep bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run URL discovery for one institution",
		Long:  "Explore one institution's site within a time budget and update its discovery state without scraping.",
		Example: `  crawler discover --institution=FFG --timeout=30s
  crawler discover --institution=aws --deep`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			inst, err := a.Registry.Find(name)
			if err != nil {
				return fmt.Errorf("institution %q: %w", name, err)
			}
			mode := crawler.ModeIncremental
			if deep {
				mode = crawler.ModeDeep
			}

			s := newSpinner(fmt.Sprintf(" discovering %s...", inst.Name))
			s.Start()
			summary := a.Orchestrator.DiscoverURLsOnly(ctx, inst, timeout, mode)
			s.Stop()

			if jsonOutput {
				return printJSON(os.Stdout, summary)
			}
			fmt.Printf("%s: %d new URLs, %d unscraped in total (%s)\n",
				inst.Name, summary.NewURLs, summary.TotalURLs, summary.TimeElapsed.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "institution", "i", "", "Institution name or id (required)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 30*time.Second, "Wall-time budget for discovery")
	cmd.Flags().BoolVar(&deep, "deep", false, "Re-explore every section")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	_ = cmd.MarkFlagRequired("institution")

	return cmd
}

func newExtractCmd() *cobra.Command {
	var name string
	var check bool

	cmd := &cobra.Command{
		Use:   "extract [url...]",
		Short: "Fetch and extract program pages",
		Long:  "Fetch each URL, extract a program record and print the records as JSON. Nothing is stored.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, log, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			inst, err := a.Registry.Find(name)
			if err != nil {
				return fmt.Errorf("institution %q: %w", name, err)
			}

			bar := newProgressBar(len(args), "Extracting pages")
			programs := make([]storage.ScrapedProgram, 0, len(args))
			var failed int
			for _, u := range args {
				if ctx.Err() != nil {
					break
				}
				res := a.Fetcher.Fetch(ctx, u)
				_ = bar.Add(1)
				if !res.OK() {
					failed++
					log.WithURL(u).WithError(res.Err).Warn("fetch failed", "reason", res.Reason)
					continue
				}
				extracted := a.Extractor.Extract(res.HTML, u, inst)
				if !extracted.OK() {
					failed++
					log.WithURL(u).WithError(extracted.Err).Warn("extraction failed", "reason", extracted.Reason)
					continue
				}
				if check && !crawler.IsValidProgram(extracted.Program) {
					failed++
					log.WithURL(u).Warn("record rejected", "name", extracted.Program.Name)
					continue
				}
				programs = append(programs, extracted.Program)
			}
			_ = bar.Finish()
			fmt.Fprintln(os.Stderr)

			if err := printJSON(os.Stdout, programs); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d pages could not be extracted", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "institution", "i", "", "Institution the pages belong to (required)")
	cmd.Flags().BoolVar(&check, "check", true, "Drop records that fail the quality check")
	_ = cmd.MarkFlagRequired("institution")

	return cmd
}

func newValidateCmd() *cobra.Command {
	var relaxed bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "validate [url...]",
		Short: "Pre-validate candidate program URLs",
		Long:  "Request each URL directly and report whether it looks like a program detail page.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			bar := newProgressBar(len(args), "Validating URLs")
			verdicts := make([]crawler.Verdict, 0, len(args))
			for _, u := range args {
				if ctx.Err() != nil {
					break
				}
				verdicts = append(verdicts, a.Validator.Validate(ctx, u, relaxed))
				_ = bar.Add(1)
			}
			_ = bar.Finish()
			fmt.Fprintln(os.Stderr)

			if jsonOutput {
				return printJSON(os.Stdout, verdicts)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VALID\tSTATUS\tSIGNALS\tREASON\tURL")
			for _, v := range verdicts {
				fmt.Fprintf(w, "%t\t%d\t%s\t%s\t%s\n", v.Valid, v.Status, strings.Join(v.Signals, ","), v.Reason, v.URL)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&relaxed, "relaxed", false, "Use the longer timeout and accept pages without signals")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")

	return cmd
}

// InstitutionStatus is one row of the status command.
type InstitutionStatus struct {
	Name         string     `json:"name"`
	Programs     int        `json:"programs"`
	Known        int        `json:"known_urls"`
	Unscraped    int        `json:"unscraped_urls"`
	Sections     int        `json:"sections"`
	LastFullScan *time.Time `json:"last_full_scan,omitempty"`
	LastScraped  *time.Time `json:"last_scraped,omitempty"`
}

// StatusReport is the output of the status command.
type StatusReport struct {
	Programs     int                 `json:"total_programs"`
	Snapshots    int                 `json:"snapshots"`
	Institutions []InstitutionStatus `json:"institutions"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stored programs and discovery progress",
		Long:  "Summarise the program store and each institution's discovery state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})

			programs := storage.NewProgramStore(cfg.Paths.DataDir, log)
			states := storage.NewDiscoveryStore(cfg.Paths.DataDir, log)
			report, err := buildStatus(programs, states)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(os.Stdout, report)
			}
			printStatus(os.Stdout, report)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")

	return cmd
}

func buildStatus(programs *storage.ProgramStore, states *storage.DiscoveryStore) (StatusReport, error) {
	stored := programs.Load()
	snaps, err := programs.Snapshots()
	if err != nil {
		return StatusReport{}, fmt.Errorf("failed to list snapshots: %w", err)
	}

	rows := make(map[string]*InstitutionStatus)
	row := func(name string) *InstitutionStatus {
		if r, ok := rows[name]; ok {
			return r
		}
		r := &InstitutionStatus{Name: name}
		rows[name] = r
		return r
	}

	for _, p := range stored {
		r := row(p.Institution)
		r.Programs++
		if r.LastScraped == nil || p.ScrapedAt.After(*r.LastScraped) {
			at := p.ScrapedAt
			r.LastScraped = &at
		}
	}
	for name, st := range states.All() {
		r := row(name)
		r.Known = len(st.KnownURLs)
		r.Unscraped = len(st.UnscrapedURLs)
		r.Sections = len(st.ExploredSections)
		r.LastFullScan = st.LastFullScan
	}

	report := StatusReport{
		Programs:     len(stored),
		Snapshots:    len(snaps),
		Institutions: make([]InstitutionStatus, 0, len(rows)),
	}
	for _, r := range rows {
		report.Institutions = append(report.Institutions, *r)
	}
	sort.Slice(report.Institutions, func(i, k int) bool {
		return report.Institutions[i].Name < report.Institutions[k].Name
	})
	return report, nil
}

// setup loads configuration, installs the logger and wires the crawler.
// Logs go to stderr so command output on stdout stays machine-readable.
func setup(ctx context.Context) (*app.App, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
		Output:    os.Stderr,
	})
	log.SetDefault()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise crawler: %w", err)
	}
	return a, log, nil
}

func newSpinner(suffix string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = suffix
	return s
}

func newProgressBar(n int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(n,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func printRunStats(w io.Writer, s crawler.RunStats) {
	fmt.Fprintln(w, "Scrape run")
	fmt.Fprintf(w, "  Run ID:        %s\n", s.RunID)
	fmt.Fprintf(w, "  Mode:          %s\n", s.Mode)
	fmt.Fprintf(w, "  Institutions:  %d\n", s.Institutions)
	fmt.Fprintf(w, "  Candidates:    %d\n", s.Candidates)
	fmt.Fprintf(w, "  Filtered:      %d\n", s.Filtered)
	fmt.Fprintf(w, "  Scraped:       %d\n", s.Scraped)
	fmt.Fprintf(w, "  Rejected:      %d\n", s.Rejected)
	fmt.Fprintf(w, "  Failed:        %d\n", s.Failed)
	fmt.Fprintf(w, "  Total stored:  %d\n", s.Total)
	fmt.Fprintf(w, "  Elapsed:       %s\n", s.Elapsed.Round(time.Millisecond))
	if s.Error != "" {
		fmt.Fprintf(w, "  Error:         %s\n", s.Error)
	}
}

func printStatus(w io.Writer, r StatusReport) {
	fmt.Fprintf(w, "Programs stored: %d (%d snapshots)\n\n", r.Programs, r.Snapshots)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTITUTION\tPROGRAMS\tKNOWN\tUNSCRAPED\tSECTIONS\tLAST FULL SCAN")
	for _, inst := range r.Institutions {
		scan := "never"
		if inst.LastFullScan != nil {
			scan = inst.LastFullScan.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", inst.Name, inst.Programs, inst.Known, inst.Unscraped, inst.Sections, scan)
	}
	_ = tw.Flush()
}
