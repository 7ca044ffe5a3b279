package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"chunkup/internal/logger"
	"chunkup/lib"
	"chunkup/pkg/catalog"
	"chunkup/pkg/config"
	"chunkup/pkg/metrics"
	"chunkup/pkg/pipeline"
	"chunkup/pkg/progress"
	"chunkup/pkg/transfer"
)

var (
	configPath string
	logLevel   string
	quiet      bool
)

// env is everything a command needs, built once before it runs
type env struct {
	cfg      *config.Config
	log      *slog.Logger
	uploader *lib.Uploader
	closers  []io.Closer
	recorder *transfer.Recorder
}

var current *env

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runRoot(ctx, newRootCmd()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chunkup",
		Short: "Chunked parallel compression and upload",
		Long: `chunkup compresses a file in parallel chunks, streams the result
to the upload directory and extracts it again, reporting progress,
warnings and errors along the way.

Examples:
  # Upload a file with the default configuration
  chunkup upload ./video.mp4

  # Compress without uploading
  chunkup compress ./video.mp4 video.mp4.gz

  # Write a starter configuration
  chunkup config init chunkup.yaml`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
	addGlobalFlags(root.PersistentFlags())

	root.AddCommand(newUploadCmd(), newCompressCmd(), newDecompressCmd(), newListCmd(), newConfigCmd())
	return root
}

// runRoot executes root and releases whatever setup acquired, whether or
// not the command failed
func runRoot(ctx context.Context, root *cobra.Command) error {
	err := root.ExecuteContext(ctx)
	if terr := teardown(); err == nil {
		err = terr
	}
	return err
}

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configPath, "config", "c", "", "Path to a YAML configuration file")
	fs.StringVar(&logLevel, "log-level", "", "Override the configured log level (DEBUG|INFO|WARN|ERROR)")
	fs.BoolVarP(&quiet, "quiet", "q", false, "Do not print progress")
}

// setup loads configuration and builds the shared environment. The config
// command manages files itself and skips it.
func setup(cmd *cobra.Command, args []string) (err error) {
	if cmd.Parent() != nil && cmd.Parent().Name() == "config" {
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, logCloser, err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return err
	}

	uploader, err := lib.NewUploader(cfg, log)
	if err != nil {
		logCloser.Close()
		return err
	}
	e := &env{cfg: cfg, log: log, uploader: uploader, closers: []io.Closer{logCloser}}
	current = e
	defer func() {
		if err != nil {
			teardown()
		}
	}()

	if cfg.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		uploader.Metrics = metrics.New(reg)
		e.closers = append(e.closers, serveMetrics(cfg.Metrics.Listen, reg, log))
	}

	if cfg.CatalogPath != "" && cmd.Name() != "compress" && cmd.Name() != "decompress" {
		store, err := catalog.Open(cfg.CatalogPath)
		if err != nil {
			return err
		}
		uploader.Catalog = store
		e.closers = append(e.closers, store)
	}

	if cfg.EventLog != "" {
		f, err := os.OpenFile(cfg.EventLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open event log %s: %w", cfg.EventLog, err)
		}
		e.recorder = transfer.NewRecorder(f, nil)
		e.closers = append(e.closers, f)
	}
	return nil
}

// teardown releases resources in reverse order of acquisition
func teardown() error {
	if current == nil {
		return nil
	}
	var errs []error
	if current.recorder != nil {
		if err := current.recorder.Err(); err != nil {
			errs = append(errs, fmt.Errorf("event log: %w", err))
		}
	}
	for i := len(current.closers) - 1; i >= 0; i-- {
		if err := current.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	current = nil
	return errors.Join(errs...)
}

type serverCloser struct{ srv *http.Server }

func (s serverCloser) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) io.Closer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)
	return serverCloser{srv: srv}
}

// sink builds the emitter for a command: the event log, the progress
// reporter and the console callbacks
func (e *env) sink(cmd *cobra.Command) transfer.Emitter {
	out := cmd.OutOrStdout()
	fan := pipeline.Fanout{progress.NewReporter(e.log)}
	if e.recorder != nil {
		fan = append(fan, e.recorder)
	}
	callbacks := pipeline.Callbacks{
		OnWarning: func(message string) {
			fmt.Fprintln(out, "Warning:", message)
		},
		OnException: func(err error) {
			fmt.Fprintln(out, "Failed:", err)
		},
		OnUploadCompleted: func(path string) {
			fmt.Fprintln(out, "Completed:", path)
		},
	}
	if !quiet {
		var last string
		callbacks.OnProgressChange = func(message string) {
			if message != last {
				fmt.Fprintln(out, message)
				last = message
			}
		}
	}
	return append(fan, callbacks)
}
