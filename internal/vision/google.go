package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/vinoscan/internal/geometry"
)

// DefaultGoogleEndpoint is the Cloud Vision images:annotate REST endpoint.
const DefaultGoogleEndpoint = "https://vision.googleapis.com/v1/images:annotate"

// GoogleConfig configures the Cloud Vision adapter.
type GoogleConfig struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	MaxObjects int
	// Labels limits returned objects to these names (case-insensitive).
	// Empty keeps every object.
	Labels []string
}

// DefaultGoogleConfig returns defaults tuned for shelf photos.
func DefaultGoogleConfig() GoogleConfig {
	return GoogleConfig{
		Endpoint:   DefaultGoogleEndpoint,
		Timeout:    15 * time.Second,
		MaxObjects: 50,
		Labels:     []string{"bottle", "wine bottle", "wine"},
	}
}

// GoogleAdapter calls the Cloud Vision REST API for object localization
// and document text detection in a single request.
type GoogleAdapter struct {
	cfg    GoogleConfig
	client *http.Client
	labels map[string]struct{}
}

// NewGoogleAdapter creates a Cloud Vision adapter. A nil client uses one with cfg.Timeout.
func NewGoogleAdapter(cfg GoogleConfig, client *http.Client) (*GoogleAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("vision: google api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGoogleEndpoint
	}
	if cfg.MaxObjects <= 0 {
		cfg.MaxObjects = 50
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	labels := make(map[string]struct{}, len(cfg.Labels))
	for _, l := range cfg.Labels {
		labels[strings.ToLower(strings.TrimSpace(l))] = struct{}{}
	}
	return &GoogleAdapter{cfg: cfg, client: client, labels: labels}, nil
}

type annotateRequest struct {
	Requests []annotateImageRequest `json:"requests"`
}

type annotateImageRequest struct {
	Image struct {
		Content string `json:"content"`
	} `json:"image"`
	Features []annotateFeature `json:"features"`
}

type annotateFeature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults,omitempty"`
}

type vertex struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type boundingPoly struct {
	Vertices           []vertex `json:"vertices"`
	NormalizedVertices []vertex `json:"normalizedVertices"`
}

type paragraph struct {
	Words []struct {
		Symbols []struct {
			Text string `json:"text"`
		} `json:"symbols"`
	} `json:"words"`
}

type annotateResponse struct {
	Responses []struct {
		LocalizedObjectAnnotations []struct {
			Name         string       `json:"name"`
			Score        float64      `json:"score"`
			BoundingPoly boundingPoly `json:"boundingPoly"`
		} `json:"localizedObjectAnnotations"`
		TextAnnotations []struct {
			Description  string       `json:"description"`
			BoundingPoly boundingPoly `json:"boundingPoly"`
		} `json:"textAnnotations"`
		FullTextAnnotation *struct {
			Pages []struct {
				Width  int `json:"width"`
				Height int `json:"height"`
				Blocks []struct {
					BoundingBox boundingPoly `json:"boundingBox"`
					Confidence  float64      `json:"confidence"`
					Paragraphs  []paragraph  `json:"paragraphs"`
				} `json:"blocks"`
			} `json:"pages"`
		} `json:"fullTextAnnotation"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

// Analyze sends the image to Cloud Vision and converts the response into an Analysis.
func (g *GoogleAdapter) Analyze(ctx context.Context, img []byte) (*Analysis, error) {
	var req annotateRequest
	ir := annotateImageRequest{
		Features: []annotateFeature{
			{Type: "OBJECT_LOCALIZATION", MaxResults: g.cfg.MaxObjects},
			{Type: "DOCUMENT_TEXT_DETECTION"},
		},
	}
	ir.Image.Content = base64.StdEncoding.EncodeToString(img)
	req.Requests = []annotateImageRequest{ir}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal annotate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint+"?key="+g.cfg.APIKey, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "annotate", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "annotate", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "annotate", StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: "annotate", StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(payload)))}
	}

	var ar annotateResponse
	if err := json.Unmarshal(payload, &ar); err != nil {
		return nil, &TransportError{Op: "annotate", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(ar.Responses) == 0 {
		return nil, &TransportError{Op: "annotate", StatusCode: resp.StatusCode, Err: errors.New("empty response")}
	}
	r := ar.Responses[0]
	if r.Error != nil && r.Error.Code != 0 {
		return nil, &TransportError{Op: "annotate", StatusCode: grpcToHTTP(r.Error.Code), Err: errors.New(r.Error.Message)}
	}

	out := &Analysis{Provider: "google"}
	width, height := 0, 0
	if r.FullTextAnnotation != nil && len(r.FullTextAnnotation.Pages) > 0 {
		width = r.FullTextAnnotation.Pages[0].Width
		height = r.FullTextAnnotation.Pages[0].Height
	}
	if width == 0 || height == 0 {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(img)); err == nil {
			width, height = cfg.Width, cfg.Height
		}
	}
	out.Width, out.Height = width, height

	for _, o := range r.LocalizedObjectAnnotations {
		if len(g.labels) > 0 {
			if _, ok := g.labels[strings.ToLower(o.Name)]; !ok {
				continue
			}
		}
		box, ok := normalizedBox(o.BoundingPoly.NormalizedVertices)
		if !ok {
			continue
		}
		out.Objects = append(out.Objects, DetectedObject{Box: box, Label: o.Name, Confidence: o.Score})
	}

	if r.FullTextAnnotation != nil {
		for _, page := range r.FullTextAnnotation.Pages {
			for _, blk := range page.Blocks {
				text := blockText(blk.Paragraphs)
				if text == "" {
					continue
				}
				tb := TextBlock{Text: text, Confidence: blk.Confidence}
				if box, ok := pixelBox(blk.BoundingBox.Vertices, width, height); ok {
					tb.Box = &box
				}
				out.TextBlocks = append(out.TextBlocks, tb)
			}
		}
	} else if len(r.TextAnnotations) > 1 {
		// The first annotation is the whole-image text; the rest are words.
		for _, ta := range r.TextAnnotations[1:] {
			tb := TextBlock{Text: ta.Description, Confidence: 0.8}
			if box, ok := pixelBox(ta.BoundingPoly.Vertices, width, height); ok {
				tb.Box = &box
			}
			out.TextBlocks = append(out.TextBlocks, tb)
		}
	}

	out.Sanitize()
	slog.Debug("Vision analysis completed",
		"provider", "google",
		"objects", len(out.Objects),
		"text_blocks", len(out.TextBlocks),
		"duration", time.Since(start))
	return out, nil
}

func blockText(paragraphs []paragraph) string {
	var words []string
	for _, p := range paragraphs {
		for _, w := range p.Words {
			var sb strings.Builder
			for _, s := range w.Symbols {
				sb.WriteString(s.Text)
			}
			if sb.Len() > 0 {
				words = append(words, sb.String())
			}
		}
	}
	return strings.Join(words, " ")
}

func normalizedBox(vs []vertex) (geometry.BoundingBox, bool) {
	if len(vs) == 0 {
		return geometry.BoundingBox{}, false
	}
	minX, minY, maxX, maxY := extent(vs)
	b := geometry.NewBox(minX, minY, maxX, maxY).Clamp()
	return b, b.Area() > 0
}

func pixelBox(vs []vertex, width, height int) (geometry.BoundingBox, bool) {
	if len(vs) == 0 || width <= 0 || height <= 0 {
		return geometry.BoundingBox{}, false
	}
	minX, minY, maxX, maxY := extent(vs)
	b := geometry.FromPixels(minX, minY, maxX, maxY, width, height)
	return b, b.Area() > 0
}

func extent(vs []vertex) (minX, minY, maxX, maxY float64) {
	minX, minY = vs[0].X, vs[0].Y
	maxX, maxY = vs[0].X, vs[0].Y
	for _, v := range vs[1:] {
		minX = min(minX, v.X)
		minY = min(minY, v.Y)
		maxX = max(maxX, v.X)
		maxY = max(maxY, v.Y)
	}
	return minX, minY, maxX, maxY
}

// grpcToHTTP maps the google.rpc.Code values Vision reports per-image.
func grpcToHTTP(code int) int {
	switch code {
	case 3:
		return http.StatusBadRequest
	case 7, 16:
		return http.StatusForbidden
	case 8:
		return http.StatusTooManyRequests
	case 14:
		return http.StatusServiceUnavailable
	case 4:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
