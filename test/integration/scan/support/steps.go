package support

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/vinoscan/internal/catalog"
	"github.com/MeKo-Tech/vinoscan/internal/events"
	"github.com/MeKo-Tech/vinoscan/internal/geometry"
	"github.com/MeKo-Tech/vinoscan/internal/llm"
	"github.com/MeKo-Tech/vinoscan/internal/pipeline"
	"github.com/MeKo-Tech/vinoscan/internal/server"
	"github.com/MeKo-Tech/vinoscan/internal/vision"
	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"
)

// RegisterSteps binds every step definition to sc.
func (tc *TestContext) RegisterSteps(sc *godog.ScenarioContext) {
	// Setup
	sc.Step(`^a catalog seeded with:$`, tc.aCatalogSeededWith)
	sc.Step(`^the catalog also lists "([^"]*)" without a rating$`, tc.theCatalogListsUnrated)
	sc.Step(`^the language model knows "([^"]*)" rated ([\d.]+)$`, tc.theLanguageModelKnows)
	sc.Step(`^the vision service sees bottles labelled "([^"]*)"$`, tc.theVisionServiceSeesBottles)
	sc.Step(`^the vision service is down$`, tc.theVisionServiceIsDown)
	sc.Step(`^the scan server is running$`, tc.StartServer)

	// HTTP
	sc.Step(`^I upload a shelf photo to "([^"]*)"$`, func(path string) error {
		return tc.uploadPhoto(path, tc.nextPhoto(), "")
	})
	sc.Step(`^I upload a shelf photo to "([^"]*)" with mode "([^"]*)"$`, func(path, mode string) error {
		return tc.uploadPhoto(path, tc.nextPhoto(), mode)
	})
	sc.Step(`^I upload the same shelf photo to "([^"]*)"$`, func(path string) error {
		return tc.uploadPhoto(path, tc.LastImage, "")
	})
	sc.Step(`^I upload (\d+) different shelf photos to "([^"]*)"$`, tc.uploadManyPhotos)
	sc.Step(`^I upload the bytes "([^"]*)" to "([^"]*)"$`, func(body, path string) error {
		return tc.uploadPhoto(path, []byte(body), "")
	})
	sc.Step(`^I request "([^"]*)"$`, tc.iRequest)

	// WebSocket
	sc.Step(`^I scan a shelf photo over the websocket$`, tc.scanOverWebSocket)
	sc.Step(`^I should receive a progress frame for every stage$`, tc.progressForEveryStage)
	sc.Step(`^the final frame should be a completed result$`, tc.finalFrameCompleted)

	// Assertions
	sc.Step(`^the response status should be (\d+)$`, tc.theResponseStatusShouldBe)
	sc.Step(`^the error type should be "([^"]*)"$`, tc.theErrorTypeShouldBe)
	sc.Step(`^the result should list "([^"]*)" with rating ([\d.]+)$`, tc.theResultShouldListWithRating)
	sc.Step(`^the result should not list "([^"]*)"$`, tc.theResultShouldNotList)
	sc.Step(`^the result should be a vision cache hit$`, tc.theResultShouldBeACacheHit)
	sc.Step(`^the vision service should have been called (\d+) times?$`, tc.theVisionServiceCalls)
	sc.Step(`^the response should mention "([^"]*)"$`, tc.theResponseShouldMention)
	sc.Step(`^a promotion event should have been published for "([^"]*)"$`, tc.aPromotionEventFor)
	sc.Step(`^(\d+) scan events should have been published$`, tc.scanEventsPublished)
	sc.Step(`^the catalog should have a description for "([^"]*)"$`, tc.catalogHasDescription)
}

func (tc *TestContext) aCatalogSeededWith(table *godog.Table) error {
	ctx := context.Background()
	for i, row := range table.Rows {
		if i == 0 {
			continue
		}
		rating, err := strconv.ParseFloat(row.Cells[1].Value, 64)
		if err != nil {
			return fmt.Errorf("invalid rating %q: %w", row.Cells[1].Value, err)
		}
		w := &catalog.Wine{Name: row.Cells[0].Value, Rating: &rating, Source: "test"}
		if err := tc.Store.UpsertWine(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TestContext) theCatalogListsUnrated(name string) error {
	return tc.Store.UpsertWine(context.Background(), &catalog.Wine{Name: name, Source: "test"})
}

func (tc *TestContext) theLanguageModelKnows(name, ratingStr string) error {
	rating, err := strconv.ParseFloat(ratingStr, 64)
	if err != nil {
		return err
	}
	tc.Estimates[name] = llm.Estimate{
		CanonicalName:  name,
		Rating:         &rating,
		Confidence:     0.85,
		Blurb:          "Estimated for " + name + ".",
		ReviewSnippets: []string{"Well balanced."},
	}
	return nil
}

// theVisionServiceSeesBottles lays the comma-separated labels out left to right.
func (tc *TestContext) theVisionServiceSeesBottles(labels string) error {
	a := &vision.Analysis{Provider: "fake", Width: 64, Height: 48}
	names := strings.Split(labels, ",")
	width := 0.9 / float64(len(names))
	for i, name := range names {
		x := 0.05 + width*float64(i)
		a.Objects = append(a.Objects, vision.DetectedObject{
			Box: geometry.NewBox(x, 0.1, x+width*0.9, 0.9), Label: "Bottle", Confidence: 0.95,
		})
		tb := geometry.NewBox(x+width*0.1, 0.4, x+width*0.8, 0.5)
		a.TextBlocks = append(a.TextBlocks, vision.TextBlock{Text: strings.TrimSpace(name), Box: &tb, Confidence: 0.95})
	}
	tc.Vision.Analysis = a
	return nil
}

func (tc *TestContext) theVisionServiceIsDown() error {
	tc.Vision.Down.Store(true)
	return nil
}

// nextPhoto renders a PNG whose bytes differ on every call.
func (tc *TestContext) nextPhoto() []byte {
	tc.uploads++
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := range 48 {
		for x := range 64 {
			img.Set(x, y, color.RGBA{R: uint8(tc.uploads * 17), G: uint8(x * 3), B: uint8(y * 5), A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func (tc *TestContext) uploadPhoto(path string, data []byte, mode string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "shelf.png")
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if mode != "" {
		if err := mw.WriteField("mode", mode); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, tc.HTTPServer.URL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	tc.LastImage = data
	if err := tc.do(req); err != nil {
		return err
	}
	var resp server.ScanResponse
	if err := json.Unmarshal(tc.LastBody, &resp); err != nil {
		return fmt.Errorf("decode scan response: %w (body %s)", err, tc.LastBody)
	}
	tc.LastResponse = &resp
	// Catalog write-back is detached from the request.
	tc.Pipeline.WaitForSync()
	return nil
}

func (tc *TestContext) uploadManyPhotos(n int, path string) error {
	for range n {
		if err := tc.uploadPhoto(path, tc.nextPhoto(), ""); err != nil {
			return err
		}
		if tc.LastStatus != http.StatusOK {
			return fmt.Errorf("upload returned %d: %s", tc.LastStatus, tc.LastBody)
		}
	}
	return nil
}

func (tc *TestContext) iRequest(path string) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, tc.HTTPServer.URL+path, nil)
	if err != nil {
		return err
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	tc.LastStatus = resp.StatusCode
	tc.LastBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) scanOverWebSocket() error {
	url := "ws" + strings.TrimPrefix(tc.HTTPServer.URL, "http") + "/ws/scan"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	req := server.WebSocketScanRequest{Type: "scan", RequestID: "it-1", Image: tc.nextPhoto()}
	if err := conn.WriteJSON(req); err != nil {
		return err
	}
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	tc.Frames = nil
	for {
		var frame server.WebSocketScanResponse
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		tc.Frames = append(tc.Frames, frame)
		if frame.Type != "scan_progress" {
			return nil
		}
	}
}

func (tc *TestContext) progressForEveryStage() error {
	seen := make(map[pipeline.Stage]bool)
	for _, f := range tc.Frames {
		if f.Type == "scan_progress" {
			seen[f.Stage] = true
		}
	}
	for _, st := range []pipeline.Stage{
		pipeline.StageReceived, pipeline.StageVisionResolved, pipeline.StageGrouped, pipeline.StageMatched,
		pipeline.StageRatingsResolved, pipeline.StageAssembled, pipeline.StageSynced,
	} {
		if !seen[st] {
			return fmt.Errorf("no progress frame for stage %s", st)
		}
	}
	return nil
}

func (tc *TestContext) finalFrameCompleted() error {
	if len(tc.Frames) == 0 {
		return fmt.Errorf("no frames received")
	}
	last := tc.Frames[len(tc.Frames)-1]
	if last.Type != "scan_result" || last.Status != "completed" || last.Result == nil {
		return fmt.Errorf("unexpected final frame: type=%s status=%s error=%s", last.Type, last.Status, last.Error)
	}
	if last.RequestID != "it-1" {
		return fmt.Errorf("request id %q not echoed", last.RequestID)
	}
	return nil
}

func (tc *TestContext) theResponseStatusShouldBe(status int) error {
	if tc.LastStatus != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, tc.LastStatus, tc.LastBody)
	}
	return nil
}

func (tc *TestContext) theErrorTypeShouldBe(errType string) error {
	if tc.LastResponse == nil {
		return fmt.Errorf("no scan response recorded")
	}
	if tc.LastResponse.ErrorType != errType {
		return fmt.Errorf("expected error type %q, got %q (%s)", errType, tc.LastResponse.ErrorType, tc.LastResponse.Error)
	}
	return nil
}

// ratingFor finds name in either result list.
func (tc *TestContext) ratingFor(name string) (*float64, bool, error) {
	if tc.LastResponse == nil || tc.LastResponse.Result == nil {
		return nil, false, fmt.Errorf("no scan result recorded (status %d: %s)", tc.LastStatus, tc.LastBody)
	}
	r := tc.LastResponse.Result
	for _, w := range r.Results {
		if w.Name == name {
			return w.Rating, true, nil
		}
	}
	for _, f := range r.Fallback {
		if f.Name == name {
			return f.Rating, true, nil
		}
	}
	return nil, false, nil
}

func (tc *TestContext) theResultShouldListWithRating(name, ratingStr string) error {
	want, err := strconv.ParseFloat(ratingStr, 64)
	if err != nil {
		return err
	}
	got, found, err := tc.ratingFor(name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%q not in result: %s", name, tc.LastBody)
	}
	if got == nil || math.Abs(*got-want) > 1e-9 {
		return fmt.Errorf("%q rated %v, want %.2f", name, got, want)
	}
	return nil
}

func (tc *TestContext) theResultShouldNotList(name string) error {
	_, found, err := tc.ratingFor(name)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("%q unexpectedly in result", name)
	}
	return nil
}

func (tc *TestContext) theResultShouldBeACacheHit() error {
	if tc.LastResponse == nil || tc.LastResponse.Result == nil {
		return fmt.Errorf("no scan result recorded")
	}
	if !tc.LastResponse.Result.CacheHit {
		return fmt.Errorf("expected a vision cache hit")
	}
	return nil
}

func (tc *TestContext) theVisionServiceCalls(n int) error {
	if got := tc.Vision.Calls(); got != n {
		return fmt.Errorf("vision service called %d times, want %d", got, n)
	}
	return nil
}

func (tc *TestContext) theResponseShouldMention(text string) error {
	if !bytes.Contains(tc.LastBody, []byte(text)) {
		return fmt.Errorf("response does not contain %q: %s", text, tc.LastBody)
	}
	return nil
}

func (tc *TestContext) aPromotionEventFor(name string) error {
	for _, e := range tc.Events.OfKind(events.KindPromotionCandidate) {
		if e.Key == name {
			return nil
		}
	}
	return fmt.Errorf("no promotion event for %q", name)
}

func (tc *TestContext) scanEventsPublished(n int) error {
	if got := len(tc.Events.OfKind(events.KindScanCompleted)); got != n {
		return fmt.Errorf("%d scan events published, want %d", got, n)
	}
	return nil
}

func (tc *TestContext) catalogHasDescription(name string) error {
	w, found, err := tc.Store.FindByName(context.Background(), name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%q not in catalog", name)
	}
	if w.Description == "" {
		return fmt.Errorf("%q has no description", name)
	}
	return nil
}
