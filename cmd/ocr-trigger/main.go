package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/gcp"
	"github.com/Lllllllleong/ocrdocumentflow/internal/ocrclient"
	"github.com/Lllllllleong/ocrdocumentflow/internal/services"
	"github.com/Lllllllleong/ocrdocumentflow/internal/store"
)

var (
	processorInstance *services.UploadProcessor
	once              sync.Once
	initErr           error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("ProcessUpload", processUpload)
}

// main is required by the Go Functions Framework.
func main() {}

func newProcessor(ctx context.Context) (*services.UploadProcessor, error) {
	cfg, err := config.Load(gcp.GetEnv("OCRFLOW_CONFIG", ""))
	if err != nil {
		return nil, err
	}
	ledger, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	pending, err := strconv.Atoi(gcp.GetEnv("OCRFLOW_DEMO_PENDING", "1"))
	if err != nil {
		return nil, fmt.Errorf("OCRFLOW_DEMO_PENDING: %w", err)
	}
	client := ocrclient.NewDemoClient(cfg.Flow.Kind, pending)
	return services.NewUploadProcessor(ctx, cfg, client, ledger)
}

// processUpload is the Cloud Function entry point for object-finalized events.
func processUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		processorInstance, initErr = newProcessor(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	return processorInstance.Process(ctx, gcsEvent)
}
