package support

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/MeKo-Tech/vinoscan/internal/catalog"
	"github.com/MeKo-Tech/vinoscan/internal/catalogsync"
	"github.com/MeKo-Tech/vinoscan/internal/events"
	"github.com/MeKo-Tech/vinoscan/internal/llm"
	"github.com/MeKo-Tech/vinoscan/internal/llmcache"
	"github.com/MeKo-Tech/vinoscan/internal/pipeline"
	"github.com/MeKo-Tech/vinoscan/internal/server"
	"github.com/MeKo-Tech/vinoscan/internal/vision"
	"github.com/MeKo-Tech/vinoscan/internal/visioncache"
)

// FakeVision replays one analysis for every image and counts calls.
type FakeVision struct {
	Analysis *vision.Analysis
	Down     atomic.Bool
	calls    atomic.Int32
}

// Analyze returns a copy of the configured analysis.
func (f *FakeVision) Analyze(ctx context.Context, img []byte) (*vision.Analysis, error) {
	f.calls.Add(1)
	if f.Down.Load() {
		return nil, &vision.TransportError{Op: "annotate", StatusCode: http.StatusServiceUnavailable, Err: errors.New("backend unavailable")}
	}
	if f.Analysis == nil {
		return &vision.Analysis{Provider: "fake"}, nil
	}
	data, err := vision.Encode(f.Analysis)
	if err != nil {
		return nil, err
	}
	return vision.Decode(data)
}

// Calls returns how many times the service was asked.
func (f *FakeVision) Calls() int { return int(f.calls.Load()) }

// TestContext holds the state of one scenario.
type TestContext struct {
	TempDir   string
	Store     *catalog.Store
	Vision    *FakeVision
	Estimates map[string]llm.Estimate
	Events    *events.Memory

	Pipeline   *pipeline.Pipeline
	ScanServer *server.Server
	HTTPServer *httptest.Server

	// HTTP response state
	LastStatus   int
	LastBody     []byte
	LastResponse *server.ScanResponse
	LastImage    []byte
	uploads      int

	// WebSocket frames from the last exchange
	Frames []server.WebSocketScanResponse
}

// NewTestContext creates an empty scenario context backed by a temp catalog.
func NewTestContext() (*TestContext, error) {
	dir, err := os.MkdirTemp("", "vinoscan-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	store, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return &TestContext{
		TempDir:   dir,
		Store:     store,
		Vision:    &FakeVision{},
		Estimates: make(map[string]llm.Estimate),
		Events:    &events.Memory{},
	}, nil
}

// StartServer wires the pipeline and serves it from an httptest server.
func (tc *TestContext) StartServer() error {
	ctx := context.Background()
	m, err := tc.Store.LoadMatcher(ctx, pipeline.DefaultConfig().Matcher)
	if err != nil {
		return err
	}
	vc, err := visioncache.New(visioncache.DefaultConfig())
	if err != nil {
		return err
	}
	lc := llmcache.New(
		llmcache.WithPersister(tc.Store),
		llmcache.WithPromotionHook(func(e llmcache.Entry) {
			ev, err := events.New(events.KindPromotionCandidate, e.Name, events.PromotionCandidate{
				Name: e.Name, DisplayName: e.DisplayName, HitCount: e.HitCount, Rating: e.Rating, Provider: e.Provider,
			})
			if err == nil {
				_ = tc.Events.Publish(context.Background(), ev)
			}
		}),
	)

	tc.Pipeline, err = pipeline.NewBuilder().
		WithVision(tc.Vision).
		WithMatcher(m).
		WithVisionCache(vc).
		WithEstimator(llm.NewStaticEstimator("static", tc.Estimates)).
		WithLLMCache(lc).
		WithSyncer(catalogsync.New(tc.Store)).
		WithPublisher(tc.Events).
		Build()
	if err != nil {
		return err
	}

	tc.ScanServer, err = server.NewServer(server.Config{MaxUploadMB: 5, TimeoutSec: 10}, tc.Pipeline)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	tc.ScanServer.SetupRoutes(mux)
	tc.HTTPServer = httptest.NewServer(mux)
	return nil
}

// Cleanup stops the server and removes the temp catalog.
func (tc *TestContext) Cleanup() error {
	var errs []error
	if tc.HTTPServer != nil {
		tc.HTTPServer.Close()
	}
	if tc.ScanServer != nil {
		errs = append(errs, tc.ScanServer.Close())
	}
	if tc.Store != nil {
		errs = append(errs, tc.Store.Close())
	}
	errs = append(errs, os.RemoveAll(tc.TempDir))
	return errors.Join(errs...)
}
