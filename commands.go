package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"jdata/internal/bse"
	"jdata/internal/config"
	"jdata/internal/coordinator"
	"jdata/internal/daterange"
	"jdata/internal/diskcache"
	"jdata/internal/fetcher"
	"jdata/internal/format"
	"jdata/internal/livecache"
	"jdata/internal/nse"
	"jdata/internal/pool"
	"jdata/internal/rbi"
)

const dateLayout = "2006-01-02"

// runtime carries what every command needs. It is filled in by the root
// Before hook once the global flags and the configuration are known.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	cache  *diskcache.Cache

	concurrent bool
	workers    int
	progress   bool

	stdout io.Writer
	stderr io.Writer
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	rt := &runtime{stdout: stdout, stderr: stderr}

	return &cli.Command{
		Name:      "jdata",
		Usage:     "Download Indian stock market data from NSE, NiftyIndices, BSE and RBI",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-cache", Usage: "fetch every month from upstream without reading or writing the disk cache"},
			&cli.BoolFlag{Name: "no-progress", Usage: "hide the progress bar"},
			&cli.BoolFlag{Name: "sequential", Usage: "fetch months one at a time"},
			&cli.IntFlag{Name: "workers", Usage: "number of months fetched in parallel (default from config)"},
		},
		Before: rt.setup,
		Commands: []*cli.Command{
			stockCommand(rt),
			derivativesCommand(rt),
			indexCommand(rt),
			indexPECommand(rt),
			bhavcopyCommand(rt),
			expiriesCommand(rt),
			quoteCommand(rt),
			announcementsCommand(rt),
			rbiCommand(rt),
			cacheCommand(rt),
		},
	}
}

// setup loads the configuration and applies the global flags.
func (r *runtime) setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.Load()
	if err != nil {
		return ctx, fmt.Errorf("failed to load configuration: %w", err)
	}
	r.cfg = cfg

	r.logger = slog.New(slog.NewTextHandler(r.stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(r.logger)

	r.concurrent = cfg.UseConcurrency && !cmd.Bool("sequential")
	r.workers = cfg.Workers
	if n := cmd.Int("workers"); n > 0 {
		r.workers = n
	}
	r.progress = !cmd.Bool("no-progress")

	if !cmd.Bool("no-cache") {
		root, err := diskcache.ResolveRoot(cfg.CacheDir, config.AppName)
		if err != nil {
			return ctx, err
		}
		r.cache = diskcache.New(root, r.logger)
	}
	return ctx, nil
}

func (r *runtime) clientOptions(timeout time.Duration) []fetcher.ClientOption {
	return []fetcher.ClientOption{
		fetcher.WithTimeout(timeout),
		fetcher.WithRetryCount(r.cfg.RetryCount),
	}
}

// coordinator builds a coordinator for one series between from and to. The
// returned func finishes the progress bar.
func (r *runtime) coordinator(from, to time.Time, desc string) (*coordinator.Coordinator, func()) {
	opts := pool.Options{Concurrent: r.concurrent, MaxWorkers: r.workers}
	finish := func() {}

	if r.progress {
		if ranges, err := daterange.Partition(from, to); err == nil && len(ranges) > 0 {
			bar := progressbar.NewOptions(len(ranges),
				progressbar.OptionSetWriter(r.stderr),
				progressbar.OptionSetDescription(desc),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			opts.OnDone = func() { _ = bar.Add(1) }
			finish = func() { _ = bar.Finish() }
		}
	}

	return coordinator.New(r.cache, opts, r.logger), finish
}

// writeRecords renders records with w. Tables go to stdout unless -o is
// given; CSV goes to -o, or to defaultName when -o is empty. An output of "-"
// always means stdout. An empty result writes nothing.
func (r *runtime) writeRecords(cmd *cli.Command, w format.Writer, s format.Schema, records []fetcher.Record, defaultName string) error {
	if len(records) == 0 {
		r.logger.Warn("no records, nothing written", "schema", s.Name)
		return nil
	}

	out := cmd.String("output")
	if out == "" {
		if _, isTable := w.(format.TableWriter); isTable {
			out = "-"
		} else {
			out = defaultName
		}
	}
	if out == "-" {
		return w.Write(r.stdout, s, records)
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	if err := w.Write(f, s, records); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", out, err)
	}

	r.logger.Info("saved records", "path", out, "records", len(records))
	return nil
}

func (r *runtime) printJSON(v any) error {
	enc := json.NewEncoder(r.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dateFlag(name, alias, usage string, required bool) *cli.TimestampFlag {
	f := &cli.TimestampFlag{
		Name:     name,
		Usage:    usage + " in `YYYY-MM-DD` format",
		Required: required,
		Config:   cli.TimestampConfig{Layouts: []string{dateLayout}},
	}
	if alias != "" {
		f.Aliases = []string{alias}
	}
	return f
}

// seriesFlags are shared by every historical series command.
func seriesFlags(extra ...cli.Flag) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "symbol or index name", Required: true},
		dateFlag("from", "f", "first day", true),
		dateFlag("to", "t", "last day", true),
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output file, - for stdout"},
		&cli.StringFlag{Name: "format", Usage: "output format, csv or table", Value: "csv"},
	}
	return append(flags, extra...)
}

func stockCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "stock",
		Usage: "Download the daily equity history of a symbol",
		Flags: seriesFlags(
			&cli.StringFlag{Name: "series", Aliases: []string{"S"}, Usage: "equity series", Value: nse.DefaultSeries},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p := nse.StockParams{
				Symbol: cmd.String("symbol"),
				From:   cmd.Timestamp("from"),
				To:     cmd.Timestamp("to"),
				Series: cmd.String("series"),
			}
			w, err := format.New(cmd.String("format"))
			if err != nil {
				return err
			}

			coord, finish := rt.coordinator(p.From, p.To, p.Symbol)
			h, err := nse.NewHistory(rt.cfg.NSEBaseURL, coord, rt.clientOptions(rt.cfg.Timeout)...)
			if err != nil {
				return err
			}
			records, err := h.Stock(ctx, p)
			finish()
			if err != nil {
				return err
			}
			return rt.writeRecords(cmd, w, format.StockSchema, records, format.FileName(p.Symbol, p.From, p.To, p.Series))
		},
	}
}

func derivativesCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "derivatives",
		Usage: "Download the daily history of a futures or options contract",
		Flags: seriesFlags(
			dateFlag("expiry", "e", "contract expiry", true),
			&cli.StringFlag{Name: "instrument", Aliases: []string{"i"}, Usage: "OPTIDX, OPTSTK, FUTIDX or FUTSTK", Required: true},
			&cli.Float64Flag{Name: "strike", Usage: "strike price, options only"},
			&cli.StringFlag{Name: "option-type", Usage: "CE or PE, options only"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p := nse.DerivativesParams{
				Symbol:         cmd.String("symbol"),
				From:           cmd.Timestamp("from"),
				To:             cmd.Timestamp("to"),
				Expiry:         cmd.Timestamp("expiry"),
				InstrumentType: cmd.String("instrument"),
				StrikePrice:    cmd.Float64("strike"),
				OptionType:     cmd.String("option-type"),
			}
			w, err := format.New(cmd.String("format"))
			if err != nil {
				return err
			}
			schema, err := format.DerivativesSchema(p.InstrumentType)
			if err != nil {
				return err
			}

			coord, finish := rt.coordinator(p.From, p.To, p.Symbol)
			h, err := nse.NewHistory(rt.cfg.NSEBaseURL, coord, rt.clientOptions(rt.cfg.Timeout)...)
			if err != nil {
				return err
			}
			records, err := h.Derivatives(ctx, p)
			finish()
			if err != nil {
				return err
			}

			extra := []string{p.InstrumentType, p.Expiry.Format(dateLayout)}
			if p.IsOption() {
				extra = append(extra, fmt.Sprintf("%.2f", p.StrikePrice), p.OptionType)
			}
			return rt.writeRecords(cmd, w, schema, records, format.FileName(p.Symbol, p.From, p.To, extra...))
		},
	}
}

func indexCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Download the daily price history of an index",
		Flags: seriesFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return rt.runIndex(ctx, cmd, format.IndexSchema, (*nse.Indices).Index)
		},
	}
}

func indexPECommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "index-pe",
		Usage: "Download the daily P/E, P/B and dividend yield history of an index",
		Flags: seriesFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return rt.runIndex(ctx, cmd, format.IndexPESchema, (*nse.Indices).IndexPE)
		},
	}
}

func (r *runtime) runIndex(ctx context.Context, cmd *cli.Command, s format.Schema,
	fetch func(*nse.Indices, context.Context, nse.IndexParams) ([]fetcher.Record, error)) error {
	p := nse.IndexParams{
		Symbol: cmd.String("symbol"),
		From:   cmd.Timestamp("from"),
		To:     cmd.Timestamp("to"),
	}
	w, err := format.New(cmd.String("format"))
	if err != nil {
		return err
	}

	coord, finish := r.coordinator(p.From, p.To, p.Symbol)
	indices := nse.NewIndices(r.cfg.NiftyIndicesBaseURL, coord, r.clientOptions(r.cfg.Timeout)...)
	records, err := fetch(indices, ctx, p)
	finish()
	if err != nil {
		return err
	}
	return r.writeRecords(cmd, w, s, records, format.FileName(p.Symbol, p.From, p.To, s.Name))
}

func (r *runtime) archives() *nse.Archives {
	return nse.NewArchives(r.cfg.NSEArchivesBaseURL, r.cfg.NiftyIndicesArchivesBaseURL,
		r.clientOptions(r.cfg.ArchiveTimeout)...)
}

func bhavcopyCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "bhavcopy",
		Usage: "Save an end-of-day bhavcopy file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "cm, full, fo or index", Value: string(nse.KindEquity)},
			dateFlag("date", "d", "trading day", true),
			&cli.StringFlag{Name: "dest", Usage: "destination directory", Value: "."},
			&cli.BoolFlag{Name: "skip-existing", Usage: "do not download when the file already exists"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			kind, err := nse.ParseBhavcopyKind(cmd.String("kind"))
			if err != nil {
				return err
			}
			path, err := rt.archives().Save(ctx, kind, cmd.Timestamp("date"), cmd.String("dest"), cmd.Bool("skip-existing"))
			if err != nil {
				return err
			}
			fmt.Fprintln(rt.stdout, path)
			return nil
		},
	}
}

func expiriesCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "expiries",
		Usage: "List the contract expiry dates traded on a day",
		Flags: []cli.Flag{
			dateFlag("date", "d", "trading day", true),
			&cli.StringFlag{Name: "instrument", Aliases: []string{"i"}, Usage: "instrument type filter, e.g. OPTIDX"},
			&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "symbol filter"},
			&cli.Int64Flag{Name: "min-contracts", Usage: "only count contracts with more trades than this"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dates, err := rt.archives().ExpiryDates(ctx, cmd.Timestamp("date"),
				cmd.String("instrument"), cmd.String("symbol"), cmd.Int64("min-contracts"))
			if err != nil {
				return err
			}
			for _, d := range dates {
				fmt.Fprintln(rt.stdout, d.Format(dateLayout))
			}
			return nil
		},
	}
}

func quoteCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "quote",
		Usage: "Print the live equity quote of a symbol",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "equity symbol", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cache := livecache.New[nse.Payload](rt.cfg.LiveCacheTTL)
			live, err := nse.NewLive(rt.cfg.NSEBaseURL, cache, rt.clientOptions(rt.cfg.LiveTimeout)...)
			if err != nil {
				return err
			}
			quote, err := live.StockQuote(ctx, cmd.String("symbol"))
			if err != nil {
				return err
			}
			return rt.printJSON(quote)
		},
	}
}

func announcementsCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "announcements",
		Usage: "Print BSE corporate announcements with attachment links",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "scrip", Usage: "BSE scrip code, empty for all"},
			&cli.StringFlag{Name: "category", Usage: "announcement category"},
			dateFlag("from", "f", "first day", false),
			dateFlag("to", "t", "last day", false),
			&cli.IntFlag{Name: "page", Usage: "result page", Value: 1},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cache := livecache.New[bse.Payload](rt.cfg.LiveCacheTTL)
			client := bse.NewClient(rt.cfg.BSEBaseURL, cache, rt.clientOptions(rt.cfg.LiveTimeout)...)
			payload, err := client.AnnouncementsWithURLs(ctx, bse.AnnouncementParams{
				ScripCode: cmd.String("scrip"),
				Category:  cmd.String("category"),
				From:      cmd.Timestamp("from"),
				To:        cmd.Timestamp("to"),
				PageNo:    cmd.Int("page"),
			})
			if err != nil {
				return err
			}
			return rt.printJSON(payload)
		},
	}
}

func rbiCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "rbi",
		Usage: "Print the current RBI policy rates",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client := rbi.NewClient(rt.cfg.RBIBaseURL, rt.clientOptions(rt.cfg.Timeout)...)
			rates, err := client.CurrentRates(ctx)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(rates))
			for name := range rates {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(rt.stdout, "%s: %s\n", name, rates[name])
			}
			return nil
		},
	}
}

// cacheNamespaces lists every namespace the historical clients write.
var cacheNamespaces = []string{
	nse.NamespaceStock,
	nse.NamespaceDerivatives,
	nse.NamespaceIndex,
	nse.NamespaceIndexPE,
}

func cacheCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage the disk cache",
		Commands: []*cli.Command{
			{
				Name:  "clear",
				Usage: "Remove cached months",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "namespace", Aliases: []string{"n"}, Usage: "namespace to clear, empty for all"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if rt.cache == nil {
						return fetcher.NewInvalidArgumentError("cache clear cannot be combined with --no-cache")
					}

					namespaces := cacheNamespaces
					if ns := cmd.String("namespace"); ns != "" {
						namespaces = []string{ns}
					}
					for _, ns := range namespaces {
						n, err := rt.cache.Clear(ns)
						if err != nil {
							return err
						}
						fmt.Fprintf(rt.stdout, "%s: removed %d entries\n", ns, n)
					}
					return nil
				},
			},
		},
	}
}
