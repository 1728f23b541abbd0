package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/vinoscan/internal/catalogsync"
	"github.com/MeKo-Tech/vinoscan/internal/common"
	"github.com/MeKo-Tech/vinoscan/internal/events"
	"github.com/MeKo-Tech/vinoscan/internal/llmcache"
	"github.com/MeKo-Tech/vinoscan/internal/matcher"
	"github.com/MeKo-Tech/vinoscan/internal/ocrgroup"
	"github.com/MeKo-Tech/vinoscan/internal/vision"
	"github.com/MeKo-Tech/vinoscan/internal/visioncache"
	"github.com/google/uuid"
)

// scan carries the state of one Recognize call between stages.
type scan struct {
	opts   Options
	result *ScanResult
	timer  *common.Timer

	analysis *vision.Analysis
	info     vision.ImageInfo
	bottles  []ocrgroup.BottleText
	orphans  []ocrgroup.OrphanedText

	catalog    []*matcher.WineMatch
	orphanHits []*matcher.WineMatch
	queries    []string
	querySlot  []int
	outcomes   []ratingOutcome
}

func (s *scan) stage(st Stage, t *common.Timer) {
	d := t.Stop()
	s.result.TimingsMS[st] = d.Milliseconds()
	stageDuration.WithLabelValues(string(st)).Observe(d.Seconds())
	if s.opts.OnStage != nil {
		s.opts.OnStage(st, d)
	}
}

// Recognize runs one scan over image. It fails only when the image cannot be
// decoded (vision.ErrUnprocessableInput) or the vision service cannot be
// reached (ErrVisionUnavailable). Every other failure degrades the result.
func (p *Pipeline) Recognize(ctx context.Context, image []byte, opts Options) (*ScanResult, error) {
	if opts.Mode == "" {
		opts.Mode = p.cfg.Mode
	}
	s := &scan{
		opts:  opts,
		timer: common.NewNamedTimer("scan"),
		result: &ScanResult{
			ScanID:    uuid.NewString(),
			Mode:      opts.Mode,
			Results:   []WineResult{},
			TopThree:  []WineResult{},
			Fallback:  []FallbackWine{},
			TimingsMS: make(map[Stage]int64),
		},
	}

	// The deadline covers the whole request. Only the rating stage degrades
	// when it passes; vision keeps its own adapter timeout.
	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = p.cfg.RequestDeadline
	}
	expires := time.Now().Add(deadline)

	t := common.NewTimer()
	_, info, err := vision.Inspect(image)
	if err != nil {
		scansTotal.WithLabelValues(string(opts.Mode), "invalid").Inc()
		return nil, err
	}
	s.info = info
	s.result.ImageHash = vision.ContentHash(image)
	s.stage(StageReceived, t)

	t = common.NewTimer()
	if err := p.resolveVision(ctx, image, s); err != nil {
		scansTotal.WithLabelValues(string(opts.Mode), "vision_error").Inc()
		return nil, err
	}
	s.stage(StageVisionResolved, t)

	t = common.NewTimer()
	s.bottles, s.orphans = ocrgroup.Group(s.analysis.Objects, s.analysis.TextBlocks, p.cfg.Grouping)
	s.stage(StageGrouped, t)

	t = common.NewTimer()
	p.matchNames(s)
	s.stage(StageMatched, t)

	t = common.NewTimer()
	p.planRatings(s)
	rctx, cancel := context.WithDeadline(ctx, expires)
	s.outcomes = p.resolveRatings(rctx, s.queries, opts)
	cancel()
	s.stage(StageRatingsResolved, t)

	t = common.NewTimer()
	enrichment := p.assemble(s)
	s.stage(StageAssembled, t)

	if !opts.SkipSync && p.syncer != nil {
		p.syncer.Dispatch(enrichment)
	}
	if opts.OnStage != nil {
		opts.OnStage(StageSynced, 0)
	}

	total := s.timer.Stop()
	status := "ok"
	if s.result.Degraded {
		status = "degraded"
	}
	scansTotal.WithLabelValues(string(opts.Mode), status).Inc()
	scanWines.WithLabelValues("overlay").Observe(float64(len(s.result.Results)))
	scanWines.WithLabelValues("fallback").Observe(float64(len(s.result.Fallback)))
	p.publishScan(ctx, s, total)

	slog.Debug("Scan complete",
		"scan_id", s.result.ScanID,
		"image_hash", s.result.ImageHash,
		"bottles", len(s.bottles),
		"overlay", len(s.result.Results),
		"fallback", len(s.result.Fallback),
		"degraded", s.result.Degraded,
		"duration", total)
	return s.result, nil
}

// resolveVision fills s.analysis from the cache or the vision adapter.
func (p *Pipeline) resolveVision(ctx context.Context, image []byte, s *scan) error {
	hash := s.result.ImageHash
	useCache := s.opts.UseVisionCache && p.visionCache != nil
	if useCache {
		if a, ok := p.visionCache.Get(hash); ok {
			visionCacheRequests.WithLabelValues("hit").Inc()
			s.analysis = a
			s.result.CacheHit = true
			return nil
		}
		visionCacheRequests.WithLabelValues("miss").Inc()
	} else {
		visionCacheRequests.WithLabelValues("bypass").Inc()
	}

	a, err := p.vision.Analyze(ctx, image)
	if err != nil {
		if errors.Is(err, vision.ErrUnprocessableInput) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrVisionUnavailable, err)
	}
	if a == nil {
		return fmt.Errorf("%w: empty analysis", ErrVisionUnavailable)
	}
	a.Sanitize()
	s.analysis = a

	if useCache {
		if err := p.visionCache.Put(hash, a, visioncache.WithImageBytes(int64(s.info.Bytes))); err != nil {
			slog.Warn("Failed to cache vision analysis", "image_hash", hash, "error", err)
		}
	}
	return nil
}

// matchNames runs the catalog matcher over every bottle and orphan.
func (p *Pipeline) matchNames(s *scan) {
	m := p.matcher.Load()
	s.catalog = make([]*matcher.WineMatch, len(s.bottles))
	for i, b := range s.bottles {
		if !b.HasEvidence() {
			continue
		}
		if wm, ok := m.Match(b.Name); ok {
			s.catalog[i] = &wm
		}
	}
	names := make([]string, len(s.orphans))
	for i, o := range s.orphans {
		names[i] = o.Name
	}
	s.orphanHits = m.MatchMany(names)
}

// planRatings collects the distinct names that need an estimate. A bottle
// needs one when its catalog match is missing, weak or unrated.
func (p *Pipeline) planRatings(s *scan) {
	s.querySlot = make([]int, len(s.bottles))
	for i := range s.querySlot {
		s.querySlot[i] = -1
	}
	if !s.opts.UseLLM && !s.opts.UseLLMCache {
		return
	}
	seen := make(map[string]int)
	for i, b := range s.bottles {
		if !b.HasEvidence() {
			continue
		}
		query := b.Name
		if cm := s.catalog[i]; cm != nil {
			if cm.Confidence >= p.cfg.LLMFallbackBelow && cm.HasRating() {
				continue
			}
			if cm.Confidence >= p.cfg.LLMFallbackBelow {
				query = cm.CanonicalName
			}
		}
		key := llmcache.Key(query)
		idx, ok := seen[key]
		if !ok {
			idx = len(s.queries)
			seen[key] = idx
			s.queries = append(s.queries, query)
		}
		s.querySlot[i] = idx
	}
}

// assemble merges per-bottle evidence into the result lists and returns the
// enrichment to write back to the catalog.
func (p *Pipeline) assemble(s *scan) []catalogsync.Enrichment {
	res := s.result
	reported := reportedNames{}
	var enrichment []catalogsync.Enrichment
	var candidates []CandidateDebug

	for _, o := range s.outcomes {
		if o.degraded() {
			res.Degraded = true
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("rating unavailable for %q: %s", s.queries[o.index], o.status))
		}
	}

	for i, b := range s.bottles {
		if !b.HasEvidence() {
			continue
		}
		var estimate *matcher.WineMatch
		status := ""
		if slot := s.querySlot[i]; slot >= 0 {
			o := s.outcomes[slot]
			estimate, status = o.estimate, o.status
		}
		if s.opts.Debug {
			candidates = append(candidates, CandidateDebug{
				BottleIndex: i, Query: b.Name, Catalog: s.catalog[i], Estimate: estimate, LLMStatus: status,
			})
		}

		m := merge(s.catalog[i], estimate, p.cfg.LLMPreferenceMargin)
		if m.identity == nil {
			continue
		}
		if s.opts.Debug {
			candidates[len(candidates)-1].Chosen = m.identity.Source
		}
		if estimate != nil && (estimate.Blurb != "" || len(estimate.ReviewSnippets) > 0) {
			enrichment = append(enrichment, catalogsync.Enrichment{
				Name:        estimate.CanonicalName,
				Description: estimate.Blurb,
				Reviews:     estimate.ReviewSnippets,
				Source:      string(matcher.SourceLLM),
			})
		}

		id := m.identity
		conf := min(id.Confidence, b.DetectionConfidence)
		reported.add(id.CanonicalName)

		band, visible := BandFor(conf, p.cfg.Bands)
		placeable := b.Box.Valid()
		if placeable && visible && conf >= p.cfg.VisibilityFloor {
			res.Results = append(res.Results, WineResult{
				BottleIndex:    i,
				Name:           id.CanonicalName,
				DetectedText:   b.RawText,
				Vintage:        b.Vintage,
				Box:            b.Box,
				Confidence:     conf,
				Rating:         m.rating,
				Source:         id.Source,
				MatchType:      id.MatchType,
				RatingSource:   m.ratingSource,
				Opacity:        band.Opacity,
				Tappable:       band.Tappable,
				WineType:       id.WineType,
				Region:         id.Region,
				Varietal:       id.Varietal,
				Blurb:          id.Blurb,
				ReviewSnippets: id.ReviewSnippets,
			})
			continue
		}
		if m.rating == nil {
			continue
		}
		reason := ReasonLowConfidence
		if !placeable {
			reason = ReasonNoBox
		}
		res.Fallback = append(res.Fallback, FallbackWine{
			BottleIndex:  i,
			Name:         id.CanonicalName,
			DetectedText: b.RawText,
			Vintage:      b.Vintage,
			Confidence:   conf,
			Rating:       m.rating,
			Source:       id.Source,
			MatchType:    id.MatchType,
			Reason:       reason,
			Blurb:        id.Blurb,
		})
	}

	for j, o := range s.orphans {
		hit := s.orphanHits[j]
		if hit == nil || hit.Confidence < p.cfg.OrphanMinConfidence || !hit.HasRating() {
			continue
		}
		if !reported.add(hit.CanonicalName) {
			continue
		}
		res.Fallback = append(res.Fallback, FallbackWine{
			BottleIndex:  -1,
			Name:         hit.CanonicalName,
			DetectedText: o.Text,
			Vintage:      o.Vintage,
			Confidence:   min(hit.Confidence, o.Confidence),
			Rating:       hit.Rating,
			Source:       hit.Source,
			MatchType:    hit.MatchType,
			Reason:       ReasonOrphan,
			Blurb:        hit.Blurb,
		})
	}

	sortFallback(res.Fallback)
	res.TopThree = TopRated(res.Results, p.cfg.TopN, p.cfg.VisibilityFloor)

	if s.opts.Debug {
		res.Debug = &DebugInfo{
			ImageHash:      res.ImageHash,
			ImageWidth:     s.info.Width,
			ImageHeight:    s.info.Height,
			Provider:       s.analysis.Provider,
			VisionCacheHit: res.CacheHit,
			ObjectCount:    len(s.analysis.Objects),
			TextBlockCount: len(s.analysis.TextBlocks),
			Bottles:        s.bottles,
			Orphans:        s.orphans,
			Candidates:     candidates,
		}
	}
	return enrichment
}

func (p *Pipeline) publishScan(ctx context.Context, s *scan, total time.Duration) {
	r := s.result
	e, err := events.New(events.KindScanCompleted, r.ImageHash, events.ScanCompleted{
		ScanID:     r.ScanID,
		ImageHash:  r.ImageHash,
		Mode:       string(r.Mode),
		Bottles:    len(s.bottles),
		Overlay:    len(r.Results),
		Fallback:   len(r.Fallback),
		Degraded:   r.Degraded,
		CacheHit:   r.CacheHit,
		DurationMS: total.Milliseconds(),
	})
	if err == nil {
		err = p.publisher.Publish(context.WithoutCancel(ctx), e)
	}
	if err != nil {
		slog.Warn("Failed to publish scan event", "scan_id", r.ScanID, "error", err)
	}
}

// RecordSync is a catalogsync completion hook that exports write counters.
func RecordSync(r catalogsync.Result, err error) {
	syncWrites.WithLabelValues("description").Add(float64(r.DescriptionsWritten))
	syncWrites.WithLabelValues("review").Add(float64(r.ReviewsAdded))
	if err != nil {
		syncWrites.WithLabelValues("error").Inc()
	}
}
