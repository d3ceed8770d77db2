/*
Package main is the entry point for the topdomains command-line application.

topdomains turns a ranked top-domain list (the Tranco top-1M CSV) into a
JavaScript fragment that a mail handler imports to recognise well-known
domains. Its functionalities are:
  - Exporting the domain column of the list as 'a.com', 'b.com', ... tokens.
  - Fetching the latest list, unpacking it when it is zipped.
  - Checking the links of an HTML document against the list and reporting
    the registrable domains it does not contain.

Running topdomains without a subcommand performs an export with the
defaults: ../top-1m.csv in, topDomains.js out.

Configuration comes from defaults, an optional YAML file (--config) and
flags, in increasing order of precedence. Logs are written to stderr with
zap; command output goes to stdout. Prometheus metrics are served when
--metrics is given. SIGINT and SIGTERM cancel the running command, which
then leaves any existing output untouched.
*/
package main

/*
topdomains — fast tool in Go for exporting and checking top-domain lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/x-stp/topdomains/internal/client"
	"github.com/x-stp/topdomains/internal/config"
	"github.com/x-stp/topdomains/internal/core"
	"github.com/x-stp/topdomains/internal/logging"
	"github.com/x-stp/topdomains/internal/metrics"
	"github.com/x-stp/topdomains/internal/toplist"
	"github.com/x-stp/topdomains/internal/util"
)

// defaultListFilename is used when the list URL has no usable file name.
const defaultListFilename = "top-1m.csv"

// errUnlisted is returned by check --fail-unlisted when a domain is missing.
var errUnlisted = errors.New("links point to domains outside the list")

// app holds state shared by all commands for one invocation.
type app struct {
	configPath  string
	debug       bool
	metricsOn   bool
	metricsAddr string

	cfg    config.Config
	logger *zap.Logger
}

// exportFlags back the export flags, which are registered on both the root
// command and the export subcommand.
type exportFlags struct {
	input      string
	output     string
	delimiter  string
	column     int
	varName    string
	compress   bool
	loadAll    bool
	bufferSize int
	showStats  bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close()
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	ef := &exportFlags{}
	rootCmd := &cobra.Command{
		Use:   "topdomains",
		Short: "topdomains - export and check ranked top-domain lists",
		Long: `Exports the domain column of a ranked CSV (such as the Tranco top-1M list)
as a JavaScript fragment, fetches fresh lists, and checks links against them.
Without a subcommand an export with the default paths is run.`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExport(cmd, ef)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML configuration file")
	pf.BoolVar(&a.debug, "debug", false, "Enable debug logging")
	pf.BoolVar(&a.metricsOn, "metrics", false, "Serve Prometheus metrics")
	pf.StringVar(&a.metricsAddr, "metrics-addr", config.DefaultMetricsAddr, "Listen address for the metrics endpoint")

	ef.register(rootCmd.Flags())
	rootCmd.AddCommand(newExportCmd(a), newFetchCmd(a), newCheckCmd(a))
	return rootCmd
}

func newExportCmd(a *app) *cobra.Command {
	ef := &exportFlags{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the domain column of a list as a JavaScript fragment",
		Long: `Reads the input CSV and writes one token per row, 'domain', followed by a
space, in input order. The output only replaces the destination once it is
complete; on error the previous file is kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExport(cmd, ef)
		},
	}
	ef.register(cmd.Flags())
	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	var listURL, dest string
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the latest list and store it as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("url") {
				listURL = a.cfg.ListURL
			}
			if dest == "" {
				dest = util.ListFilename(listURL, defaultListFilename)
			}
			return a.runFetch(cmd, listURL, dest)
		},
	}
	cmd.Flags().StringVar(&listURL, "url", core.DefaultListURL, "List URL (plain or zipped CSV)")
	cmd.Flags().StringVarP(&dest, "output", "o", "", "Destination file (default: derived from the URL)")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	var listPath, htmlPath string
	var unlistedOnly, failUnlisted bool
	cmd := &cobra.Command{
		Use:   "check [links...]",
		Short: "Report link domains that are not in the list",
		Long: `Extracts links from an HTML document (--html, "-" for stdin) and from the
arguments, reduces each to its registrable domain and reports whether the
list contains it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("list") {
				listPath = a.cfg.Input
			}
			return a.runCheck(cmd, checkOptions{
				listPath:     listPath,
				htmlPath:     htmlPath,
				links:        args,
				unlistedOnly: unlistedOnly,
				failUnlisted: failUnlisted,
			})
		},
	}
	cmd.Flags().StringVar(&listPath, "list", core.DefaultInputPath, "Ranked CSV to check against")
	cmd.Flags().StringVar(&htmlPath, "html", "", "HTML document to extract links from")
	cmd.Flags().BoolVar(&unlistedOnly, "unlisted", false, "Only print domains missing from the list")
	cmd.Flags().BoolVar(&failUnlisted, "fail-unlisted", false, "Exit with status 1 when a domain is missing")
	return cmd
}

func (ef *exportFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&ef.input, "input", "i", core.DefaultInputPath, "Input CSV file")
	fs.StringVarP(&ef.output, "output", "o", core.DefaultOutputPath, "Output JavaScript fragment")
	fs.StringVarP(&ef.delimiter, "delimiter", "d", string(core.DefaultDelimiter), "Field delimiter")
	fs.IntVar(&ef.column, "column", core.DomainColumn, "0-based domain column")
	fs.StringVar(&ef.varName, "var", "", "Wrap the fragment as 'export const NAME = [...];'")
	fs.BoolVar(&ef.compress, "compress", false, "Gzip the output")
	fs.BoolVar(&ef.loadAll, "load-all", false, "Read the whole input before writing")
	fs.IntVarP(&ef.bufferSize, "buffer", "b", core.DefaultDiskBufferSize, "Output buffer size in bytes")
	fs.BoolVarP(&ef.showStats, "stats", "s", false, "Show progress and final statistics")
}

// apply overlays explicitly set flags on cfg.
func (ef *exportFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("input") {
		cfg.Input = ef.input
	}
	if fs.Changed("output") {
		cfg.Output = ef.output
	}
	if fs.Changed("delimiter") {
		cfg.Delimiter = ef.delimiter
	}
	if fs.Changed("column") {
		cfg.Column = ef.column
	}
	if fs.Changed("var") {
		cfg.VarName = ef.varName
	}
	if fs.Changed("compress") {
		cfg.Compress = ef.compress
	}
	if fs.Changed("load-all") {
		cfg.LoadAll = ef.loadAll
	}
	if fs.Changed("buffer") {
		cfg.BufferSize = ef.bufferSize
	}
}

// setup builds the logger, loads configuration and starts metrics. It runs
// before every command.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(logging.Config{Debug: a.debug, Console: true})
	if err != nil {
		return err
	}
	a.logger = logger

	a.cfg = config.Default()
	if a.configPath != "" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
		a.logger.Debug("Configuration loaded", zap.String("path", a.configPath))
	}

	if a.metricsOn || a.cfg.Metrics.Enabled {
		addr := a.cfg.Metrics.Addr
		if cmd.Flags().Changed("metrics-addr") || addr == "" {
			addr = a.metricsAddr
		}
		metrics.EnableMetrics()
		if err := metrics.StartMetricsServer(addr, a.logger); err != nil {
			a.logger.Warn("Failed to start metrics server", zap.Error(err))
		}
	}
	return nil
}

// close releases what setup acquired. Safe to call when setup never ran.
func (a *app) close() {
	if metrics.IsMetricsEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metrics.ShutdownMetricsServer(ctx); err != nil && a.logger != nil {
			a.logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *app) runExport(cmd *cobra.Command, ef *exportFlags) error {
	cfg := a.cfg
	ef.apply(cmd.Flags(), &cfg)
	if err := cfg.Validate(); err != nil {
		return core.NewError("cli.export", core.KindInvalidConfig, "", err)
	}
	ec, err := cfg.ExportConfig()
	if err != nil {
		return err
	}
	exporter, err := core.NewDomainListExporter(ec, a.logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var statsWg sync.WaitGroup
	if ef.showStats {
		statsWg.Add(1)
		go func() {
			defer statsWg.Done()
			displayExportStats(ctx, cmd.ErrOrStderr(), exporter)
		}()
	}

	err = exporter.Export(ctx)

	cancel()
	statsWg.Wait()

	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	if ef.showStats {
		displayFinalExportStats(cmd.ErrOrStderr(), exporter)
	}
	return nil
}

func (a *app) runFetch(cmd *cobra.Command, listURL, dest string) error {
	fc := a.cfg.Fetch
	client.InitHTTPClient(&client.Config{RequestTimeout: fc.Timeout})
	defer client.GetHTTPClient().CloseIdleConnections()

	delim, err := a.cfg.DelimiterRune()
	if err != nil {
		return core.NewError("cli.fetch", core.KindInvalidConfig, "", err)
	}
	fetcher := toplist.NewFetcher(&toplist.FetcherOptions{
		Delimiter:     delim,
		Column:        a.cfg.Column,
		MaxRetries:    fc.Retries,
		RetryInterval: fc.RetryInterval,
		MaxBytes:      fc.MaxBytes,
	}, a.logger)
	res, err := fetcher.Fetch(cmd.Context(), listURL, dest)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %d rows to %s (%d bytes, xxh3 %016x, %d attempt(s))\n",
		res.Rows, res.Path, res.Bytes, res.Digest, res.Attempts)
	return nil
}

type checkOptions struct {
	listPath     string
	htmlPath     string
	links        []string
	unlistedOnly bool
	failUnlisted bool
}

func (a *app) runCheck(cmd *cobra.Command, opts checkOptions) error {
	links := append([]string(nil), opts.links...)
	if opts.htmlPath != "" {
		found, err := extractFrom(cmd, opts.htmlPath)
		if err != nil {
			return err
		}
		links = append(found, links...)
	}
	if len(links) == 0 {
		return core.NewError("cli.check", core.KindInvalidConfig, "", errors.New("no links to check: pass --html or link arguments"))
	}

	delim, err := a.cfg.DelimiterRune()
	if err != nil {
		return core.NewError("cli.check", core.KindInvalidConfig, "", err)
	}
	ix, err := toplist.LoadIndex(cmd.Context(), opts.listPath, delim, a.cfg.Column, a.logger)
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}

	findings := ix.CheckLinks(links)
	unlisted := toplist.Unlisted(findings)
	a.logger.Info("Links checked",
		zap.Int("links", len(links)),
		zap.Int("domains", len(findings)),
		zap.Int("unlisted", len(unlisted)),
		zap.Int("list_size", ix.Len()))

	shown := findings
	if opts.unlistedOnly {
		shown = unlisted
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, f := range shown {
		status := "listed"
		if !f.Listed {
			status = "UNLISTED"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", status, f.Domain, f.Link)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if opts.failUnlisted && len(unlisted) > 0 {
		return fmt.Errorf("%w: %d of %d domains", errUnlisted, len(unlisted), len(findings))
	}
	return nil
}

func extractFrom(cmd *cobra.Command, path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := core.OpenInput(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	links, err := toplist.ExtractLinks(r)
	if err != nil {
		return nil, core.NewError("cli.check", core.KindIO, path, err)
	}
	return links, nil
}

// displayExportStats periodically shows export progress until ctx is done.
func displayExportStats(ctx context.Context, w io.Writer, exporter *core.DomainListExporter) {
	ticker := time.NewTicker(core.StatsReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := exporter.GetStats()
			started := stats.Started()
			if started.IsZero() {
				continue
			}
			elapsed := time.Since(started).Seconds()
			if elapsed < 0.1 {
				elapsed = 0.1
			}
			rows := stats.RowsRead.Load()
			fmt.Fprintf(w, "\rRows: %d | Tokens: %d | Rate: %.0f rows/s | Written: %.2fMB",
				rows,
				stats.TokensWritten.Load(),
				float64(rows)/elapsed,
				float64(stats.BytesWritten.Load())/(1024*1024),
			)
		case <-ctx.Done():
			return
		}
	}
}

// displayFinalExportStats shows the summary statistics.
func displayFinalExportStats(w io.Writer, exporter *core.DomainListExporter) {
	stats := exporter.GetStats()
	cfg := exporter.Config()
	elapsed := time.Duration(stats.Duration.Load())
	rows := stats.RowsRead.Load()
	rate := 0.0
	if elapsed.Seconds() > 0 {
		rate = float64(rows) / elapsed.Seconds()
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "\n--- Final Export Statistics ---\n")
	fmt.Fprintf(w, "  Processing Time: %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "            Input: %s\n", cfg.InputPath)
	fmt.Fprintf(w, "           Output: %s\n", cfg.OutputPath)
	fmt.Fprintf(w, "        Rows Read: %d\n", rows)
	fmt.Fprintf(w, "   Tokens Written: %d\n", stats.TokensWritten.Load())
	fmt.Fprintf(w, "     Overall Rate: %.0f rows/sec\n", rate)
	fmt.Fprintf(w, "   Fragment Bytes: %d (%d on disk)\n", stats.BytesWritten.Load(), stats.BytesOnDisk.Load())
	fmt.Fprintf(w, "           Digest: xxh3 %016x\n", stats.Digest.Load())
	if rss, err := metrics.GetMetrics().SampleProcessRSS(); err == nil {
		fmt.Fprintf(w, "      Process RSS: %.2f MB\n", float64(rss)/(1024*1024))
	}
	fmt.Fprintf(w, "-------------------------------\n")
}
