package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dvloznov/order-intake/internal/api/handlers"
	"github.com/dvloznov/order-intake/internal/bootstrap"
	"github.com/dvloznov/order-intake/internal/config"
	"github.com/dvloznov/order-intake/internal/domain"
	"github.com/dvloznov/order-intake/internal/events"
	"github.com/dvloznov/order-intake/internal/logger"
	"github.com/dvloznov/order-intake/internal/settings"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: .env not loaded: %v\n", err)
	}
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "analyze":
		runAnalyze(log)
	case "export":
		runExport(log)
	case "corrections":
		runCorrections(log)
	case "apikey":
		runAPIKey(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Order Intake CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  analyze      Analyze order and invoice PDFs")
	fmt.Println("  export       Write analyzed rows into the order workbook")
	fmt.Println("  corrections  List, learn or remove product name corrections")
	fmt.Println("  apikey       Store or show the analysis API key")
	fmt.Println("  help         Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// setup loads the configuration and wires the services.
func setup(ctx context.Context, log zerolog.Logger, opts bootstrap.Options) (*bootstrap.Services, zerolog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log = logger.NewWithOptions(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: os.Stderr})

	svc, err := bootstrap.Build(ctx, cfg, log, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}

	// Operator notices go to stdout, logs to stderr.
	svc.Bus.Subscribe(events.Notice, func(_ string, payload any) {
		if n, ok := payload.(events.NoticePayload); ok {
			fmt.Printf("[%s] %s\n", n.Level, n.Message)
		}
	})
	return svc, log
}

func runAnalyze(log zerolog.Logger) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	dir := fs.String("dir", "", "Folder with PDFs (defaults to the configured PDF folder)")
	files := fs.String("files", "", "Comma-separated PDF paths, instead of -dir")
	concurrency := fs.Int("concurrency", -1, "Parallel analyses; 0 for chunked mode (defaults to the saved setting)")
	out := fs.String("json", "", "Write the resulting rows to this JSON file")
	fs.Parse(os.Args[2:])

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, log := setup(ctx, log, bootstrap.Options{})
	defer svc.Close()
	ctx = logger.WithContext(ctx, log)

	// 1) Collect rows from the file names
	var err error
	if *files != "" {
		_, err = svc.App.AddPaths(splitList(*files))
	} else {
		_, err = svc.App.LoadFolder(ctx, *dir)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to collect PDFs")
	}
	rows := svc.Store.Snapshot()
	if len(rows) == 0 {
		fmt.Println("No PDF files found.")
		return
	}

	// 2) Analyze, stopping dispatch on interrupt
	n := *concurrency
	if n < 0 {
		n = svc.Settings.Load(ctx).ConcurrencyLimit
	}
	go func() {
		<-ctx.Done()
		svc.Runner.Cancel()
	}()

	log.Info().Int("documents", len(rows)).Int("concurrency", n).Msg("Starting analysis")
	outcome, err := svc.Runner.Run(context.WithoutCancel(ctx), rows, n)
	if err != nil {
		log.Fatal().Err(err).Msg("Analysis failed")
	}

	// 3) Report
	fmt.Printf("Analysis %s: %d of %d documents, %d failed, %d rows.\n",
		outcome.State, outcome.Completed, outcome.Total, outcome.Failed, len(outcome.Rows))
	for _, r := range outcome.Rows {
		if r.HasWarning {
			fmt.Printf("  ! %s: %s\n", r.SourcePath, domain.Deref(r.Notes))
		}
	}

	if *out != "" {
		data, err := json.MarshalIndent(outcome.Rows, "", "  ")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to encode rows")
		}
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			log.Fatal().Err(err).Str("path", *out).Msg("Failed to write rows")
		}
		fmt.Printf("Rows written to %s\n", *out)
	}
}

func runExport(log zerolog.Logger) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	in := fs.String("in", "", "JSON file with rows, as written by 'cli analyze -json'")
	workbook := fs.String("out", "", "Workbook to update (defaults to the configured workbook)")
	processed := fs.String("processed", "", "Move exported PDFs to this folder")
	all := fs.Bool("all", false, "Export every row, not only confirmed ones")
	fs.Parse(os.Args[2:])

	if *in == "" {
		log.Fatal().Msg("Usage: cli export -in rows.json [-out workbook.xlsx] [-processed DIR] [-all]")
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		log.Fatal().Err(err).Str("path", *in).Msg("Failed to read rows")
	}
	var rows []domain.Record
	if err := json.Unmarshal(data, &rows); err != nil {
		log.Fatal().Err(err).Str("path", *in).Msg("Failed to decode rows")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	svc, log := setup(ctx, log, bootstrap.Options{
		Settings: func(st *settings.Settings) {
			if *workbook != "" {
				st.DefaultExcelPath = *workbook
			}
			st.DefaultProcessedPath = *processed
			st.MoveFilesEnabled = *processed != ""
			st.AutoOpenExcel = false
		},
	})
	defer svc.Close()
	ctx = logger.WithContext(ctx, log)

	svc.Store.Replace(rows)
	if *all {
		svc.Store.ConfirmAll(true)
	}

	// Results are reported through the notices.
	outcome, err := svc.App.Export(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Export failed")
	}
	if outcome.Aborted {
		fmt.Println("Export aborted: no workbook given, use -out or set a default workbook.")
	}
}

func runCorrections(log zerolog.Logger) {
	if len(os.Args) < 3 {
		fmt.Println("Usage: cli corrections <list|learn|remove> [options]")
		os.Exit(1)
	}

	fs := flag.NewFlagSet("corrections "+os.Args[2], flag.ExitOnError)
	wrong := fs.String("wrong", "", "Product name as recognized")
	correct := fs.String("correct", "", "Product name to use instead")
	fs.Parse(os.Args[3:])

	ctx := context.Background()
	svc, log := setup(ctx, log, bootstrap.Options{})
	defer svc.Close()
	ctx = logger.WithContext(ctx, log)

	switch os.Args[2] {
	case "list":
		list, err := svc.App.Corrections(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list corrections")
		}
		fmt.Printf("=== Corrections (%d) ===\n", len(list))
		for _, c := range list {
			fmt.Printf("  %s -> %s\n", c.Wrong, c.Correct)
		}
	case "learn":
		if *wrong == "" || *correct == "" {
			log.Fatal().Msg("Usage: cli corrections learn -wrong NAME -correct NAME")
		}
		learned, err := svc.App.LearnCorrection(ctx, *wrong, *correct)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to learn correction")
		}
		if !learned {
			fmt.Println("Nothing to learn: names are empty or identical.")
			return
		}
		fmt.Printf("Learned: %s -> %s\n", *wrong, *correct)
	case "remove":
		if *wrong == "" {
			log.Fatal().Msg("Usage: cli corrections remove -wrong NAME")
		}
		if err := svc.App.RemoveCorrection(ctx, *wrong); err != nil {
			log.Fatal().Err(err).Msg("Failed to remove correction")
		}
		fmt.Printf("Removed: %s\n", *wrong)
	default:
		fmt.Fprintf(os.Stderr, "Unknown corrections command: %s\n", os.Args[2])
		os.Exit(1)
	}
}

func runAPIKey(log zerolog.Logger) {
	if len(os.Args) < 3 {
		fmt.Println("Usage: cli apikey <set|show> [options]")
		os.Exit(1)
	}

	fs := flag.NewFlagSet("apikey "+os.Args[2], flag.ExitOnError)
	key := fs.String("key", "", "API key to store")
	fs.Parse(os.Args[3:])

	ctx := context.Background()
	svc, log := setup(ctx, log, bootstrap.Options{})
	defer svc.Close()
	ctx = logger.WithContext(ctx, log)

	switch os.Args[2] {
	case "set":
		if strings.TrimSpace(*key) == "" {
			log.Fatal().Msg("Usage: cli apikey set -key KEY")
		}
		if err := svc.App.SaveAPIKey(ctx, *key); err != nil {
			log.Fatal().Err(err).Msg("Failed to store API key")
		}
		fmt.Println("API key stored.")
	case "show":
		if !svc.App.HasAPIKey() {
			fmt.Println("No API key configured.")
			return
		}
		fmt.Printf("API key: %s\n", handlers.MaskKey(svc.App.APIKey()))
	default:
		fmt.Fprintf(os.Stderr, "Unknown apikey command: %s\n", os.Args[2])
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
