package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/vinoscan/internal/llm"
	"github.com/MeKo-Tech/vinoscan/internal/llmcache"
	"github.com/MeKo-Tech/vinoscan/internal/matcher"
)

const (
	statusCacheHit   = "cache_hit"
	statusEstimated  = "estimated"
	statusNoEstimate = "no_estimate"
	statusError      = "error"
	statusTimeout    = "timeout"
	statusDisabled   = "disabled"
)

// ratingJob asks for an estimate of one distinct query.
type ratingJob struct {
	index int
	query string
}

// ratingOutcome is the result for one distinct query.
type ratingOutcome struct {
	index    int
	status   string
	estimate *matcher.WineMatch
	err      error
}

// degraded reports whether the outcome lost information to a failure.
func (o ratingOutcome) degraded() bool {
	return o.status == statusError || o.status == statusTimeout
}

// resolveRatings estimates every query with a bounded worker pool. The result
// is indexed like queries. When ctx ends first, unfinished queries report
// statusTimeout and whatever already finished is kept.
func (p *Pipeline) resolveRatings(ctx context.Context, queries []string, opts Options) []ratingOutcome {
	out := make([]ratingOutcome, len(queries))
	for i := range out {
		out[i] = ratingOutcome{index: i, status: statusTimeout}
	}
	if len(queries) == 0 {
		return out
	}

	workers := min(p.cfg.RatingWorkers, len(queries))
	jobs := make(chan ratingJob, len(queries))
	results := make(chan ratingOutcome, len(queries))
	for i, q := range queries {
		jobs <- ratingJob{index: i, query: q}
	}
	close(jobs)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					return
				}
				r := p.resolveOne(ctx, job.query, opts)
				r.index = job.index
				results <- r
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for {
		select {
		case r, ok := <-results:
			if !ok {
				return out
			}
			out[r.index] = r
		case <-ctx.Done():
			// Keep anything that finished alongside the deadline.
			for {
				select {
				case r, ok := <-results:
					if !ok {
						return out
					}
					out[r.index] = r
				default:
					return out
				}
			}
		}
	}
}

// resolveOne consults the LLM cache, then the language model. Concurrent
// misses for the same name share one model call.
func (p *Pipeline) resolveOne(ctx context.Context, query string, opts Options) ratingOutcome {
	useCache := opts.UseLLMCache && p.llmCache != nil
	if useCache {
		if e, ok := p.llmCache.Get(query); ok {
			llmCacheRequests.WithLabelValues("hit").Inc()
			m := matchFromEntry(e)
			return ratingOutcome{status: statusCacheHit, estimate: &m}
		}
		llmCacheRequests.WithLabelValues("miss").Inc()
	} else {
		llmCacheRequests.WithLabelValues("bypass").Inc()
	}

	if !opts.UseLLM || p.estimator == nil {
		return ratingOutcome{status: statusDisabled}
	}

	key := fmt.Sprintf("%t|%s", useCache, llmcache.Key(query))
	ch := p.flights.DoChan(key, func() (any, error) {
		// The call outlives a requester that gives up, so its answer still
		// lands in the cache for the next scan.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RequestDeadline)
		defer cancel()
		est, err := p.estimator.Estimate(callCtx, query)
		if err != nil {
			return nil, err
		}
		if est == nil || est.Rating == nil {
			return nil, llm.ErrNoEstimate
		}
		if useCache {
			if _, err := p.llmCache.Set(query, entryFromEstimate(query, est)); err != nil {
				slog.Warn("Failed to cache estimate", "name", query, "error", err)
			}
		}
		return est, nil
	})

	select {
	case <-ctx.Done():
		llmCalls.WithLabelValues(statusTimeout).Inc()
		return ratingOutcome{status: statusTimeout, err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, llm.ErrNoEstimate) {
				llmCalls.WithLabelValues(statusNoEstimate).Inc()
				return ratingOutcome{status: statusNoEstimate}
			}
			llmCalls.WithLabelValues(statusError).Inc()
			slog.Warn("Language model estimate failed", "name", query, "error", res.Err)
			return ratingOutcome{status: statusError, err: res.Err}
		}
		llmCalls.WithLabelValues(statusEstimated).Inc()
		est, _ := res.Val.(*llm.Estimate)
		m := matchFromEstimate(query, est)
		return ratingOutcome{status: statusEstimated, estimate: &m}
	}
}

func entryFromEstimate(query string, est *llm.Estimate) llmcache.Entry {
	display := est.CanonicalName
	if display == "" {
		display = query
	}
	var rating float64
	if est.Rating != nil {
		rating = *est.Rating
	}
	return llmcache.Entry{
		DisplayName:    display,
		Rating:         rating,
		Confidence:     est.Confidence,
		Provider:       est.Provider,
		WineType:       est.WineType,
		Region:         est.Region,
		Varietal:       est.Varietal,
		Brand:          est.Brand,
		Blurb:          est.Blurb,
		ReviewSnippets: est.ReviewSnippets,
	}
}

func matchFromEntry(e llmcache.Entry) matcher.WineMatch {
	name := e.DisplayName
	if name == "" {
		name = e.Name
	}
	return matcher.WineMatch{
		CanonicalName:  name,
		Confidence:     e.Confidence,
		Rating:         matcher.Float(e.Rating),
		Source:         matcher.SourceLLM,
		MatchType:      matcher.MatchEstimate,
		MatchedKey:     e.Name,
		WineType:       e.WineType,
		Region:         e.Region,
		Varietal:       e.Varietal,
		Brand:          e.Brand,
		Blurb:          e.Blurb,
		ReviewSnippets: e.ReviewSnippets,
	}
}

func matchFromEstimate(query string, est *llm.Estimate) matcher.WineMatch {
	e := entryFromEstimate(query, est)
	e.Name = llmcache.Key(query)
	return matchFromEntry(e)
}
