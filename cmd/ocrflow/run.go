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

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/gcp"
	"github.com/Lllllllleong/ocrdocumentflow/internal/metrics"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
	"github.com/Lllllllleong/ocrdocumentflow/internal/ocrclient"
	"github.com/Lllllllleong/ocrdocumentflow/internal/services"
	"github.com/Lllllllleong/ocrdocumentflow/internal/store"
)

func newRunCmd() *cobra.Command {
	var (
		csvPath       string
		demoPending   int
		format        string
		collision     string
		noProgress    bool
		moveOnSuccess bool
		moveOnFail    bool
	)

	cmd := &cobra.Command{
		Use:   "run <input-folder>",
		Short: "OCR every supported file in a folder",
		Long: `Run scans the input folder, then processes each file in order: oversized
PDFs are split into parts, every part is submitted and polled to completion,
and the results are written to the results folder next to the source.

Press Ctrl+C once to stop after the current remote call; files not yet
started are reported as interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "" {
				cfg.Output.Format = config.OutputFormat(format)
			}
			if collision != "" {
				cfg.Output.Collision = config.CollisionPolicy(collision)
			}
			if cmd.Flags().Changed("move-success") {
				cfg.PostProcess.MoveOnSuccess = moveOnSuccess
			}
			if cmd.Flags().Changed("move-failure") {
				cfg.PostProcess.MoveOnFailure = moveOnFail
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runSession(cmd.Context(), args[0], csvPath, demoPending, !noProgress)
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "", "write the classification CSV to this path (requires flow.options.extract_classes)")
	cmd.Flags().IntVar(&demoPending, "demo-pending", 2, "polls the built-in demo service answers as pending before success")
	cmd.Flags().StringVar(&format, "format", "", "output format: json_only, pdf_only or both")
	cmd.Flags().StringVar(&collision, "collision", "", "collision policy: overwrite, rename or skip")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")
	cmd.Flags().BoolVar(&moveOnSuccess, "move-success", false, "move sources of successful files into the success folder")
	cmd.Flags().BoolVar(&moveOnFail, "move-failure", false, "move sources of failed files into the failure folder")
	return cmd
}

func runSession(parent context.Context, inputDir, csvPath string, demoPending int, progress bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	files, err := services.ScanInput(inputDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No supported files found.")
		return nil
	}

	ledger, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	if c, ok := ledger.(io.Closer); ok {
		defer c.Close()
	}

	stopMetrics := startMetricsServer(cfg.Metrics.Addr)
	defer stopMetrics()

	sessionID := uuid.NewString()
	run := cfg.Snapshot()
	opts := services.SessionOptions{
		ID:      sessionID,
		Run:     run,
		Client:  ocrclient.NewDemoClient(run.Flow, demoPending),
		Ledger:  ledger,
		CSVPath: csvPath,
	}
	if progress {
		opts.Observers = append(opts.Observers, newProgressObserver(len(files)))
	}
	closers, err := wireCloud(ctx, sessionID, &opts)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	session, err := services.NewSession(opts)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			slog.Warn("Stop requested, finishing the current remote call.")
			session.Stop()
		case <-ctx.Done():
		}
	}()

	if err := session.Start(ctx, files); err != nil {
		return err
	}
	summary := session.Wait()
	printSummary(summary)

	if summary.State == models.SessionFatalError {
		return fmt.Errorf("session ended with a fatal error: %w", summary.Err)
	}
	return nil
}

// wireCloud attaches the optional Google Cloud integrations named in the
// config and returns what must be closed afterwards.
func wireCloud(ctx context.Context, sessionID string, opts *services.SessionOptions) ([]io.Closer, error) {
	var closers []io.Closer
	g := cfg.GCP

	if g.ArtifactBucket != "" {
		uploader, err := gcp.NewArtifactUploader(ctx, g.ArtifactBucket, g.ArtifactPrefix, sessionID)
		if err != nil {
			return closers, err
		}
		closers = append(closers, uploader)
		opts.Sink = uploader
	}
	if g.ProjectID != "" && g.FirestoreCollection != "" {
		client, err := gcp.NewFirestoreClient(ctx, g.ProjectID)
		if err != nil {
			return closers, err
		}
		closers = append(closers, client)
		opts.Observers = append(opts.Observers, gcp.NewRunLedger(client, g.FirestoreCollection, sessionID))
	}
	if g.ProjectID != "" && g.WorkflowID != "" {
		notifier, err := gcp.NewWorkflowNotifier(ctx, g.ProjectID, g.WorkflowLocation, g.WorkflowID, g.ArtifactBucket, g.ArtifactPrefix)
		if err != nil {
			return closers, err
		}
		closers = append(closers, notifier)
		opts.Observers = append(opts.Observers, notifier)
	}
	return closers, nil
}

func startMetricsServer(addr string) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("Serving metrics.", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed.", "error", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}
