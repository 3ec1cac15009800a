package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pavelanni/gradedesk/internal/analytics"
	"github.com/pavelanni/gradedesk/internal/blob"
	"github.com/pavelanni/gradedesk/internal/grading"
	"github.com/pavelanni/gradedesk/internal/handler"
	appI18n "github.com/pavelanni/gradedesk/internal/i18n"
	"github.com/pavelanni/gradedesk/internal/llm"
	"github.com/pavelanni/gradedesk/internal/metrics"
	"github.com/pavelanni/gradedesk/internal/ocr"
	"github.com/pavelanni/gradedesk/internal/segment"
	"github.com/pavelanni/gradedesk/internal/store"
	"github.com/pavelanni/gradedesk/internal/tracing"
)

func main() {
	// OCR credentials usually live in a local .env file.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gradedesk",
		Short: "Grading assistant for math competition answer sheets",
	}

	serve := serveCmd()
	root.AddCommand(serve, gradeCmd(), exportCmd(), resetCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `gradedesk --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(f *pflag.FlagSet) {
	f.String("db", "gradedesk.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated by size")
}

func addGradingFlags(f *pflag.FlagSet) {
	f.String("blob-backend", "local", "Image storage backend (local, minio)")
	f.String("blob-dir", "data/blobs", "Directory for the local image store")
	f.String("minio-endpoint", "localhost:9000", "MinIO endpoint")
	f.String("minio-access-key", "", "MinIO access key")
	f.String("minio-secret-key", "", "MinIO secret key")
	f.String("minio-bucket", "gradedesk", "MinIO bucket")
	f.Bool("minio-secure", false, "Use TLS for MinIO")
	f.String("ocr-url", ocr.DefaultBaseURL, "OCR provider base URL")
	f.String("ocr-api-key", "", "OCR API key (or set GRADEDESK_OCR_API_KEY)")
	f.String("ocr-secret-key", "", "OCR secret key (or set GRADEDESK_OCR_SECRET_KEY)")
	f.Float64("ocr-qps", 2, "Maximum OCR requests per second (0 = unlimited)")
	f.String("llm-url", "", "OpenAI-compatible API base URL for error analysis")
	f.String("llm-key", "", "API key for the LLM")
	f.String("llm-model", "", "LLM model name; empty disables LLM error analysis")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	addCommonFlags(f)
	addGradingFlags(f)
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default report language (en, zh)")
	f.String("admin-user", "admin", "Basic auth user name")
	f.String("admin-password", "", "Basic auth password; empty disables auth (or set GRADEDESK_ADMIN_PASSWORD)")
	f.String("admin-password-hash", "", "bcrypt hash of the basic auth password, used instead of --admin-password")
	f.Int64("max-upload-mb", 32, "Maximum multipart upload size in MiB")
	f.String("trace-endpoint", "", "Jaeger collector endpoint; empty disables tracing")
	return cmd
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Run a grading pass over an exam's ungraded answer sheets",
		RunE:  runGrade,
	}
	f := cmd.Flags()
	addCommonFlags(f)
	addGradingFlags(f)
	f.String("exam-id", "", "Exam to grade (required)")
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an exam with its submissions and analysis as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	addCommonFlags(f)
	f.String("exam-id", "", "Exam to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all students, exams, questions and submissions",
		RunE:  runReset,
	}
	f := cmd.Flags()
	addCommonFlags(f)
	f.Bool("yes", false, "Confirm the reset")
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("GRADEDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("gradedesk")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/gradedesk")
	v.AddConfigPath("/etc/gradedesk")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// newBlobs opens the configured image store.
func newBlobs(ctx context.Context, v *viper.Viper) (blob.Provider, error) {
	switch backend := v.GetString("blob-backend"); backend {
	case "local", "":
		return blob.NewLocalProvider(v.GetString("blob-dir"))
	case "minio":
		return blob.NewMinioProvider(ctx, blob.MinioConfig{
			Endpoint:  v.GetString("minio-endpoint"),
			AccessKey: v.GetString("minio-access-key"),
			SecretKey: v.GetString("minio-secret-key"),
			Bucket:    v.GetString("minio-bucket"),
			Secure:    v.GetBool("minio-secure"),
		})
	default:
		return nil, fmt.Errorf("unknown blob backend %q", backend)
	}
}

func newGateway(v *viper.Viper) *ocr.Client {
	gw := ocr.New(ocr.Config{
		BaseURL:   v.GetString("ocr-url"),
		APIKey:    v.GetString("ocr-api-key"),
		SecretKey: v.GetString("ocr-secret-key"),
		QPS:       v.GetFloat64("ocr-qps"),
	})
	if v.GetString("ocr-api-key") == "" || v.GetString("ocr-secret-key") == "" {
		slog.Warn("OCR credentials are not configured; segmentation and grading will fail until they are set")
	}
	return gw
}

func newExplainer(v *viper.Viper) grading.Explainer {
	modelName := v.GetString("llm-model")
	if modelName == "" {
		return nil
	}
	slog.Info("LLM error analysis enabled", "url", v.GetString("llm-url"), "model", modelName)
	return llm.New(v.GetString("llm-url"), v.GetString("llm-key"), modelName)
}

func adminPasswordHash(v *viper.Viper) (string, error) {
	if hash := v.GetString("admin-password-hash"); hash != "" {
		return hash, nil
	}
	password := v.GetString("admin-password")
	if password == "" {
		slog.Warn("no admin password configured, API is unauthenticated")
		return "", nil
	}
	hash, err := handler.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash admin password: %w", err)
	}
	return hash, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	blobs, err := newBlobs(ctx, v)
	if err != nil {
		return fmt.Errorf("open image store: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	metrics.Init()
	if endpoint := v.GetString("trace-endpoint"); endpoint != "" {
		shutdownTracing, err := tracing.InitTracer("gradedesk", endpoint)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(shutdownCtx); err != nil {
				slog.Warn("flush traces", "error", err)
			}
		}()
		slog.Info("tracing enabled", "endpoint", endpoint)
	}

	hash, err := adminPasswordHash(v)
	if err != nil {
		return err
	}

	gw := newGateway(v)
	engine := grading.NewEngine(blobs, gw, newExplainer(v))
	tracker := grading.NewTracker(ctx, grading.NewBatch(db, engine))
	h := handler.New(db, blobs, segment.New(db, blobs, gw), tracker, analytics.NewService(db), handler.Config{
		AdminUser:         v.GetString("admin-user"),
		AdminPasswordHash: hash,
		MaxUploadBytes:    v.GetInt64("max-upload-mb") << 20,
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	if v.GetString("trace-endpoint") != "" {
		r.Use(tracing.Middleware)
	}
	r.Use(appI18n.Middleware(lang))
	r.Handle("/metrics", metrics.Handler())
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"db", v.GetString("db"),
			"blob_backend", v.GetString("blob-backend"),
			"ocr_url", v.GetString("ocr-url"),
			"lang", lang,
			"auth", hash != "",
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runGrade(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	blobs, err := newBlobs(ctx, v)
	if err != nil {
		return fmt.Errorf("open image store: %w", err)
	}

	batch := grading.NewBatch(db, grading.NewEngine(blobs, newGateway(v), newExplainer(v)))
	examID := v.GetString("exam-id")
	sum, err := batch.Run(ctx, examID, func(done, total int) {
		if total > 0 {
			fmt.Fprintf(os.Stderr, "\rgraded %d/%d", done, total)
		}
		if done == total && total > 0 {
			fmt.Fprintln(os.Stderr)
		}
	})
	if err != nil {
		return fmt.Errorf("grade exam %s: %w", examID, err)
	}
	fmt.Printf("graded %d, failed %d, skipped %d of %d\n", sum.Graded, sum.Failed, sum.Skipped, sum.Total)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportExam(v.GetString("exam-id"))
	if err != nil {
		return fmt.Errorf("export exam: %w", err)
	}
	export.Analysis = analytics.Analyze(export.Exam.ID, export.Questions, export.Submissions)

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

func runReset(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	if !v.GetBool("yes") {
		return errors.New("refusing to delete all data without --yes")
	}
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.ClearAll(); err != nil {
		return fmt.Errorf("clear data: %w", err)
	}
	slog.Info("all data cleared", "db", v.GetString("db"))
	return nil
}
