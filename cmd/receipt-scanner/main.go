package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-scanner/internal/categorize"
	"github.com/zombor/receipt-scanner/internal/engine"
	"github.com/zombor/receipt-scanner/internal/receipt"
	"github.com/zombor/receipt-scanner/internal/taxonomy"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	// amounts are numbers in API responses and parse output
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(os.Stdin, os.Stdout)
	if err := root.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix("RECEIPT_SCANNER")); err != nil {
		if errors.Is(err, ff.ErrHelp) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
			os.Exit(0)
		}
		if errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root))
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// options shared by every subcommand
type rootOptions struct {
	logLevel     *string
	logFormat    *string
	taxonomyPath *string
	timeout      *time.Duration
	models       modelFlags
}

func newRootCommand(stdin io.Reader, stdout io.Writer) *ff.Command {
	rootFlags := ff.NewFlagSet("receipt-scanner")
	opts := rootOptions{
		logLevel:     rootFlags.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
		logFormat:    rootFlags.StringLong("log-format", "text", "Log format: text or json"),
		taxonomyPath: rootFlags.StringLong("taxonomy", "", "YAML file replacing the built-in category keywords (optional)"),
		timeout:      rootFlags.DurationLong("model-timeout", engine.DefaultTimeout, "Maximum time to wait for the model to structure a receipt"),
		models:       registerModelFlags(rootFlags),
	}
	rootFlags.BoolLong("version", "Show version information")

	return &ff.Command{
		Name:  "receipt-scanner",
		Usage: "receipt-scanner [FLAGS] <SUBCOMMAND> ...",
		Flags: rootFlags,
		Subcommands: []*ff.Command{
			newServeCommand(rootFlags, &opts),
			newParseCommand(rootFlags, &opts, stdin, stdout),
		},
	}
}

func newServeCommand(rootFlags *ff.FlagSet, opts *rootOptions) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(rootFlags)
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "receipts.db", "Database file path")
		storagePath = fs.StringLong("storage", "./receipts", "Storage directory path")
		maxUploadMB = fs.IntLong("max-upload-mb", receipt.DefaultMaxUploadBytes>>20, "Largest accepted receipt file in megabytes")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
	)

	return &ff.Command{
		Name:      "serve",
		Usage:     "receipt-scanner serve [FLAGS]",
		ShortHelp: "run the receipt HTTP API",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := setupLogger(*opts.logLevel, *opts.logFormat, os.Stderr); err != nil {
				return err
			}

			extractor, closeStructurer, err := newEngine(ctx, opts)
			if err != nil {
				return err
			}
			defer closeStructurer()

			recognizer, err := newRecognizer(ctx, opts.models.config())
			if err != nil {
				return err
			}
			if recognizer != nil {
				defer recognizer.Close()
			}

			slog.Info("Initializing database...")
			db, err := receipt.NewBoltDB(*dbPath)
			if err != nil {
				return fmt.Errorf("initializing database: %w", err)
			}
			defer db.Close()

			slog.Info("Initializing storage...")
			store, err := receipt.NewLocalStorage(*storagePath)
			if err != nil {
				return fmt.Errorf("initializing storage: %w", err)
			}

			service := receipt.NewService(db, recognizer, extractor, store)
			service.SetMaxUploadBytes(int64(*maxUploadMB) << 20)

			server := receipt.NewServer(service, receipt.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			})

			addr := fmt.Sprintf(":%d", *port)
			errc := make(chan error, 1)
			go func() {
				errc <- server.Start(addr)
			}()

			slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
			if *authUser != "" || *authPass != "" {
				slog.Info("Basic auth enabled", "user", *authUser)
			}

			select {
			case err := <-errc:
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
				slog.Info("Shutting down...")
				return nil
			}
		},
	}
}

func newParseCommand(rootFlags *ff.FlagSet, opts *rootOptions, stdin io.Reader, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("parse").SetParent(rootFlags)

	return &ff.Command{
		Name:      "parse",
		Usage:     "receipt-scanner parse [FLAGS] [FILE]",
		ShortHelp: "structure receipt text from FILE or stdin and print it as JSON",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := setupLogger(*opts.logLevel, *opts.logFormat, os.Stderr); err != nil {
				return err
			}

			text, err := readInput(args, stdin)
			if err != nil {
				return err
			}

			extractor, closeStructurer, err := newEngine(ctx, opts)
			if err != nil {
				return err
			}
			defer closeStructurer()

			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(extractor.ProcessText(ctx, text))
		},
	}
}

// readInput returns the contents of the single file argument, or stdin
// when there is none or it is "-"
func readInput(args []string, stdin io.Reader) (string, error) {
	if len(args) > 1 {
		return "", fmt.Errorf("expected at most one file, got %d", len(args))
	}

	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("reading receipt text: %w", err)
	}
	return string(data), nil
}

// newEngine builds the extraction engine and returns a func releasing its
// model client
func newEngine(ctx context.Context, opts *rootOptions) (*engine.Engine, func(), error) {
	tax := taxonomy.Default()
	if *opts.taxonomyPath != "" {
		var err error
		tax, err = taxonomy.Load(*opts.taxonomyPath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Loaded taxonomy", "path", *opts.taxonomyPath, "categories", len(tax.Names()))
	}

	structurer, closeFn, err := newStructurer(ctx, opts.models.config())
	if err != nil {
		return nil, nil, err
	}
	return engine.New(categorize.New(tax), structurer, *opts.timeout), closeFn, nil
}

func setupLogger(level, format string, w io.Writer) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(w, handlerOpts)))
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(w, handlerOpts)))
	default:
		return fmt.Errorf("invalid log format %q, use text or json", format)
	}
	return nil
}
