// Package main provides the CLI entrypoint for keytally.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"keytally/internal/config"
	"keytally/internal/counter"
	"keytally/internal/flush"
	"keytally/internal/listener"
	"keytally/internal/model"
	"keytally/internal/query"
	"keytally/internal/store"
)

const (
	defaultFlushSeconds   = 60
	defaultTrendDays      = 7
	shutdownFlushTimeout  = 5 * time.Second
	sessionIDSuffixLength = 8
)

var (
	trackDB           string
	trackFlushSeconds int
	trackCountNumbers bool
	trackCountSymbols bool

	statsDate   string
	statsAll    bool
	statsHourly bool

	rangeFrom string
	rangeTo   string

	weeklyStart  string
	monthlyYear  int
	monthlyMonth int
	trendDays    int
	sessionsLast int

	exportFrom   string
	exportTo     string
	exportOutput string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "keytally",
		Short:         "Count typed characters by category and keep daily statistics",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runTrackCmd,
	}

	rootCmd.PersistentFlags().StringVar(&trackDB, "db", "", "database path (default: XDG data dir)")
	rootCmd.Flags().IntVar(&trackFlushSeconds, "flush-interval", defaultFlushSeconds, "seconds between flushes")
	rootCmd.Flags().BoolVar(&trackCountNumbers, "count-numbers", true, "count digits as their own category")
	rootCmd.Flags().BoolVar(&trackCountSymbols, "count-symbols", true, "count symbols as their own category")

	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newRangeCmd())
	rootCmd.AddCommand(newWeeklyCmd())
	rootCmd.AddCommand(newMonthlyCmd())
	rootCmd.AddCommand(newTrendCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newBackupCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func resolveDBPath() string {
	if trackDB != "" {
		return trackDB
	}
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err == nil && fileCfg.Tracker.DBPath != nil && *fileCfg.Tracker.DBPath != "" {
		return *fileCfg.Tracker.DBPath
	}
	return config.DefaultDBPath()
}

func openStore() (*store.Store, func(), error) {
	st, err := store.Open(resolveDBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db: %w", err)
	}
	closeFn := func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}
	return st, closeFn, nil
}

func runTrackCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "db", &trackDB, fileCfg.Tracker.DBPath)
	applyIntConfig(cmd, "flush-interval", &trackFlushSeconds, fileCfg.Tracker.FlushInterval)
	applyBoolConfig(cmd, "count-numbers", &trackCountNumbers, fileCfg.Tracker.CountNumbers)
	applyBoolConfig(cmd, "count-symbols", &trackCountSymbols, fileCfg.Tracker.CountSymbols)

	if trackFlushSeconds <= 0 {
		return fmt.Errorf("--flush-interval must be > 0")
	}

	st, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	agg := counter.New()
	start := time.Now()
	sessionID := fmt.Sprintf("%s-%s",
		start.Format("20060102T150405"),
		uuid.NewString()[:sessionIDSuffixLength])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := st.OpenSession(ctx, sessionID, start); err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	agg.StartSession(sessionID, start)
	logErrf("session %s started, reading characters from stdin (Ctrl-D to stop)\n", sessionID)

	flusher := flush.New(agg, st, time.Duration(trackFlushSeconds)*time.Second)
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		flusher.Run(ctx, func(ferr error) {
			logErrf("flush failed, keeping delta for retry: %v\n", ferr)
		})
	}()

	lst := listener.New(agg, listener.Options{
		CountNumbers: trackCountNumbers,
		CountSymbols: trackCountSymbols,
	})
	// The stdin read cannot be interrupted, so a signal stops waiting
	// for the listener instead of stopping the read itself.
	lstDone := make(chan error, 1)
	go func() {
		lstDone <- lst.Run(ctx, os.Stdin)
	}()
	select {
	case <-ctx.Done():
	case runErr := <-lstDone:
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			logErrf("input stopped: %v\n", runErr)
		}
	}

	stop()
	<-flushDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()
	if err := flusher.Shutdown(shutdownCtx); err != nil {
		logErrf("best-effort save failed: %v\n", err)
	}

	id, startedAt, counters := agg.Session()
	endedAt := time.Now()
	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer closeCancel()
	if err := st.CloseSession(closeCtx, id, endedAt, counters); err != nil {
		logErrf("failed to close session: %v\n", err)
	}

	fmt.Printf("session %s: %s\n", id, endedAt.Sub(startedAt).Round(time.Second))
	printCounters(counters)
	return nil
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show statistics for one day, or overall with --all",
		Args:  cobra.NoArgs,
		RunE:  runStatsCmd,
	}
	cmd.Flags().StringVar(&statsDate, "date", "", "date (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&statsAll, "all", false, "show the overall summary")
	cmd.Flags().BoolVar(&statsHourly, "hourly", false, "show the per-hour breakdown")
	return cmd
}

func runStatsCmd(_ *cobra.Command, _ []string) error {
	st, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()
	svc := query.New(st)
	ctx := context.Background()

	if statsAll {
		sum, err := svc.Summary(ctx)
		if err != nil {
			return err
		}
		printSummary(sum)
		return nil
	}

	date := statsDate
	if date == "" {
		date = time.Now().Format(model.DateFormat)
	}
	rec, ok, err := svc.Daily(ctx, date)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("no data for %s\n", date)
		return nil
	}
	fmt.Printf("%s (%d sessions)\n", rec.Date, rec.SessionCount)
	printCounters(rec.Counters)

	if statsHourly {
		hours, err := svc.Hourly(ctx, date)
		if err != nil {
			return err
		}
		printHourly(hours)
	}
	return nil
}

func newRangeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "range",
		Short: "Show daily statistics over a date range",
		Args:  cobra.NoArgs,
		RunE:  runRangeCmd,
	}
	cmd.Flags().StringVar(&rangeFrom, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&rangeTo, "to", "", "end date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runRangeCmd(_ *cobra.Command, _ []string) error {
	st, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := query.New(st).Range(context.Background(), rangeFrom, rangeTo)
	if err != nil {
		return err
	}
	printDailyTable(records)
	return nil
}

func newWeeklyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weekly",
		Short: "Sum statistics over a 7-day window",
		Args:  cobra.NoArgs,
		RunE:  runWeeklyCmd,
	}
	cmd.Flags().StringVar(&weeklyStart, "start", "", "window start date (YYYY-MM-DD, default 6 days ago)")
	return cmd
}

func runWeeklyCmd(_ *cobra.Command, _ []string) error {
	st, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	start := weeklyStart
	if start == "" {
		start = time.Now().AddDate(0, 0, -6).Format(model.DateFormat)
	}
	sum, err := query.New(st).WeeklySummary(context.Background(), start)
	if err != nil {
		return err
	}
	fmt.Printf("week %s .. %s (%d sessions)\n", sum.StartDate, sum.EndDate, sum.Sessions)
	printCounters(sum.Counters)
	return nil
}

func newMonthlyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monthly",
		Short: "Sum statistics over a calendar month",
		Args:  cobra.NoArgs,
		RunE:  runMonthlyCmd,
	}
	now := time.Now()
	cmd.Flags().IntVar(&monthlyYear, "year", now.Year(), "year")
	cmd.Flags().IntVar(&monthlyMonth, "month", int(now.Month()), "month (1-12)")
	return cmd
}

func runMonthlyCmd(_ *cobra.Command, _ []string) error {
	st, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	sum, err := query.New(st).MonthlySummary(context.Background(), monthlyYear, monthlyMonth)
	if err != nil {
		return err
	}
	fmt.Printf("%04d-%02d (%d sessions)\n", monthlyYear, monthlyMonth, sum.Sessions)
	printCounters(sum.Counters)
	return nil
}

func newTrendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Show the trailing per-day trend",
		Args:  cobra.NoArgs,
		RunE:  runTrendCmd,
	}
	cmd.Flags().IntVar(&trendDays, "days", defaultTrendDays, "trailing window length in days")
	return cmd
}

func runTrendCmd(_ *cobra.Command, _ []string) error {
	st, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	report, err := query.New(st).TrendAnalysis(context.Background(), trendDays)
	if err != nil {
		return err
	}
	printDailyTable(report.Days)
	fmt.Printf("total %d chars over %d days, %.1f chars/day\n",
		report.TotalChars, report.WindowDays, report.DailyAverage)
	return nil
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List tracking sessions",
		Args:  cobra.NoArgs,
		RunE:  runSessionsCmd,
	}
	cmd.Flags().IntVar(&sessionsLast, "last", 0, "limit to last N sessions")
	return cmd
}

func runSessionsCmd(_ *cobra.Command, _ []string) error {
	st, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	sessions, err := query.New(st).Sessions(context.Background(), sessionsLast)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "id\tstarted\tduration\tchinese\tenglish\ttotal")
	for _, s := range sessions {
		duration := "open"
		if s.EndedAt != nil {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
			s.ID, s.StartedAt.Local().Format("2006-01-02 15:04:05"), duration,
			s.Counters.Chinese, s.Counters.English, s.Counters.Total)
	}
	return w.Flush()
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a daily range as CSV",
		Args:  cobra.NoArgs,
		RunE:  runExportCmd,
	}
	cmd.Flags().StringVar(&exportFrom, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&exportTo, "to", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runExportCmd(_ *cobra.Command, _ []string) error {
	st, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	out := os.Stdout
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				logErrf("failed to close output file: %v\n", cerr)
			}
		}()
		out = f
	}
	return query.New(st).WriteCSV(context.Background(), out, exportFrom, exportTo)
}

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup [path]",
		Short: "Back up the database",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBackupCmd,
	}
}

func runBackupCmd(_ *cobra.Command, args []string) error {
	st, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		stamp := time.Now().Format("20060102_150405")
		path = filepath.Join(filepath.Dir(resolveDBPath()), fmt.Sprintf("keytally_backup_%s.db", stamp))
	}
	if err := st.Backup(context.Background(), path); err != nil {
		return err
	}
	fmt.Printf("backed up to %s\n", path)
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# keytally configuration
# Uncomment a value to enable it. CLI flags override config values.

[tracker]
# db-path = ""            # Database path (default: XDG data dir)
# flush-interval = %d     # Seconds between flushes
# count-numbers = true    # Count digits as their own category
# count-symbols = true    # Count symbols as their own category
`,
		defaultFlushSeconds,
	)
}

func printCounters(c model.Counters) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "chinese\t%d\n", c.Chinese)
	fmt.Fprintf(w, "english\t%d\n", c.English)
	fmt.Fprintf(w, "number\t%d\n", c.Number)
	fmt.Fprintf(w, "symbol\t%d\n", c.Symbol)
	fmt.Fprintf(w, "other\t%d\n", c.Other)
	fmt.Fprintf(w, "total\t%d\n", c.Total)
	if err := w.Flush(); err != nil {
		logErrf("failed to write output: %v\n", err)
	}
}

func printDailyTable(records []model.DailyRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "date\tchinese\tenglish\tnumber\tsymbol\tother\ttotal\tsessions")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			rec.Date, rec.Counters.Chinese, rec.Counters.English, rec.Counters.Number,
			rec.Counters.Symbol, rec.Counters.Other, rec.Counters.Total, rec.SessionCount)
	}
	if err := w.Flush(); err != nil {
		logErrf("failed to write output: %v\n", err)
	}
}

func printHourly(records []model.HourlyRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "hour\tchinese\tenglish\tnumber\tsymbol\tother\ttotal")
	for _, rec := range records {
		fmt.Fprintf(w, "%02d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			rec.Hour, rec.Counters.Chinese, rec.Counters.English, rec.Counters.Number,
			rec.Counters.Symbol, rec.Counters.Other, rec.Counters.Total)
	}
	if err := w.Flush(); err != nil {
		logErrf("failed to write output: %v\n", err)
	}
}

func printSummary(sum model.OverallSummary) {
	if sum.TrackedDays == 0 {
		fmt.Println("no data yet")
		return
	}
	fmt.Printf("%d days tracked (%s .. %s), %d sessions\n",
		sum.TrackedDays, sum.FirstDate, sum.LastDate, sum.Sessions)
	printCounters(sum.Counters)
	fmt.Printf("daily averages: chinese %.1f, english %.1f, total %.1f\n",
		sum.AvgChinese, sum.AvgEnglish, sum.AvgTotal)
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
