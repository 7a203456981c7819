package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/invoiceflow/internal/api"
	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/gcp"
	"github.com/Lllllllleong/invoiceflow/internal/services"
)

var (
	handlers *api.Handlers
	routes   map[string]http.Handler
	once     sync.Once
	initErr  error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	for _, name := range api.HTTPFunctions {
		functions.HTTP(name, dispatch(name))
	}
	functions.CloudEvent("SweepPipeline", sweepPipeline)
}

// setup builds the application once per instance.
func setup() error {
	once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			initErr = err
			return
		}
		app, err := services.NewApp(context.Background(), cfg)
		if err != nil {
			initErr = err
			return
		}
		handlers = api.FromApp(app)
		routes = handlers.Routes()
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
	}
	return initErr
}

func dispatch(name string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := setup(); err != nil {
			http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
			return
		}
		routes[name].ServeHTTP(w, r)
	}
}

func sweepPipeline(ctx context.Context, e cloudevents.Event) error {
	if err := setup(); err != nil {
		return err
	}
	return handlers.SweepPipeline(ctx, e)
}

// main serves every registered function locally. Cloud Functions deploys
// use the registrations in init instead.
func main() {
	port := gcp.GetEnv("PORT", "8080")
	if err := funcframework.Start(port); err != nil {
		slog.Error("funcframework.Start failed", "error", err)
		os.Exit(1)
	}
}
