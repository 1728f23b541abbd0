package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/vinoscan/internal/llmcache"
	"github.com/MeKo-Tech/vinoscan/internal/matcher"
	"github.com/MeKo-Tech/vinoscan/internal/textnorm"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store is the gorm-backed catalog.
type Store struct {
	db *gorm.DB
}

// Stats counts catalog rows.
type Stats struct {
	Wines      int64 `json:"wines"`
	Aliases    int64 `json:"aliases"`
	Reviews    int64 `json:"reviews"`
	LLMEntries int64 `json:"llm_entries"`
}

// Open opens (creating if needed) a sqlite catalog at dsn and migrates it.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("catalog dsn is required")
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("catalog handle: %w", err)
	}
	// sqlite allows one writer; a single connection serializes writes.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Wine{}, &Alias{}, &Review{}, &LLMCacheRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// FindByName looks a wine up by normalized canonical name or alias.
func (s *Store) FindByName(ctx context.Context, name string) (*Wine, bool, error) {
	key := textnorm.Key(name)
	if key == "" {
		return nil, false, nil
	}
	var w Wine
	err := s.db.WithContext(ctx).Where("name_key = ?", key).Take(&w).Error
	if err == nil {
		return &w, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("find wine %q: %w", name, err)
	}

	var a Alias
	err = s.db.WithContext(ctx).Where("alias_key = ?", key).Take(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find alias %q: %w", name, err)
	}
	if err := s.db.WithContext(ctx).Take(&w, a.WineID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load wine %d: %w", a.WineID, err)
	}
	return &w, true, nil
}

// UpdateDescription sets the description of wine id.
func (s *Store) UpdateDescription(ctx context.Context, id uint, text string) error {
	res := s.db.WithContext(ctx).Model(&Wine{}).Where("id = ?", id).Update("description", text)
	if res.Error != nil {
		return fmt.Errorf("update description of wine %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update description: wine %d not found", id)
	}
	return nil
}

// AddReview stores a review snippet unless the same text already exists for
// the wine. It reports whether a row was created.
func (s *Store) AddReview(ctx context.Context, wineID uint, text, source string) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, nil
	}
	r := Review{
		ID:       uuid.NewString(),
		WineID:   wineID,
		TextHash: reviewHash(text),
		Text:     text,
		Source:   source,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "wine_id"}, {Name: "text_hash"}},
			DoNothing: true,
		}).
		Create(&r)
	if res.Error != nil {
		return false, fmt.Errorf("add review for wine %d: %w", wineID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Reviews returns the reviews of a wine, oldest first.
func (s *Store) Reviews(ctx context.Context, wineID uint) ([]Review, error) {
	var out []Review
	if err := s.db.WithContext(ctx).Where("wine_id = ?", wineID).Order("created_at, id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list reviews for wine %d: %w", wineID, err)
	}
	return out, nil
}

func reviewHash(text string) string {
	sum := sha256.Sum256([]byte(textnorm.Key(text)))
	return hex.EncodeToString(sum[:])
}

// UpsertWine inserts w or updates the existing wine with the same normalized
// name. w.ID is set on return.
func (s *Store) UpsertWine(ctx context.Context, w *Wine) error {
	w.NameKey = textnorm.Key(w.Name)
	if w.NameKey == "" {
		return errors.New("wine name is empty")
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "rating", "wine_type", "region", "varietal", "brand", "source", "updated_at",
			}),
		}).
		Create(w).Error
	if err != nil {
		return fmt.Errorf("upsert wine %q: %w", w.Name, err)
	}
	var stored Wine
	if err := s.db.WithContext(ctx).Where("name_key = ?", w.NameKey).Take(&stored).Error; err != nil {
		return fmt.Errorf("reload wine %q: %w", w.Name, err)
	}
	*w = stored
	return nil
}

// AddAlias points alias at wineID. Re-adding an alias retargets it.
func (s *Store) AddAlias(ctx context.Context, alias string, wineID uint) error {
	key := textnorm.Key(alias)
	if key == "" {
		return nil
	}
	a := Alias{Alias: strings.TrimSpace(alias), AliasKey: key, WineID: wineID}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "alias_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"alias", "wine_id"}),
		}).
		Create(&a).Error
	if err != nil {
		return fmt.Errorf("add alias %q: %w", alias, err)
	}
	return nil
}

// MatcherData loads the catalog in the form the matcher indexes.
func (s *Store) MatcherData(ctx context.Context) ([]matcher.Wine, map[string]string, error) {
	var wines []Wine
	if err := s.db.WithContext(ctx).Order("id").Find(&wines).Error; err != nil {
		return nil, nil, fmt.Errorf("load wines: %w", err)
	}
	names := make(map[uint]string, len(wines))
	out := make([]matcher.Wine, len(wines))
	for i, w := range wines {
		names[w.ID] = w.Name
		out[i] = matcher.Wine{
			ID:          w.ID,
			Name:        w.Name,
			Rating:      w.Rating,
			WineType:    w.WineType,
			Region:      w.Region,
			Varietal:    w.Varietal,
			Brand:       w.Brand,
			Description: w.Description,
		}
	}

	var aliases []Alias
	if err := s.db.WithContext(ctx).Order("id").Find(&aliases).Error; err != nil {
		return nil, nil, fmt.Errorf("load aliases: %w", err)
	}
	aliasMap := make(map[string]string, len(aliases))
	for _, a := range aliases {
		if name, ok := names[a.WineID]; ok {
			aliasMap[a.Alias] = name
		}
	}
	return out, aliasMap, nil
}

// LoadMatcher builds a matcher over the current catalog contents.
func (s *Store) LoadMatcher(ctx context.Context, cfg matcher.Config) (*matcher.Matcher, error) {
	wines, aliases, err := s.MatcherData(ctx)
	if err != nil {
		return nil, err
	}
	return matcher.New(wines, aliases, cfg), nil
}

// Stats counts rows per table.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx)
	for _, c := range []struct {
		model any
		dst   *int64
	}{
		{&Wine{}, &st.Wines},
		{&Alias{}, &st.Aliases},
		{&Review{}, &st.Reviews},
		{&LLMCacheRow{}, &st.LLMEntries},
	} {
		if err := db.Model(c.model).Count(c.dst).Error; err != nil {
			return Stats{}, fmt.Errorf("count rows: %w", err)
		}
	}
	return st, nil
}

// SaveLLMEntry upserts a language-model estimate. A stored hit count is
// never lowered.
func (s *Store) SaveLLMEntry(ctx context.Context, e llmcache.Entry) error {
	snippets, err := json.Marshal(e.ReviewSnippets)
	if err != nil {
		return fmt.Errorf("encode review snippets: %w", err)
	}
	row := LLMCacheRow{
		Name:           e.Name,
		DisplayName:    e.DisplayName,
		Rating:         e.Rating,
		Confidence:     e.Confidence,
		Provider:       e.Provider,
		WineType:       e.WineType,
		Region:         e.Region,
		Varietal:       e.Varietal,
		Brand:          e.Brand,
		Blurb:          e.Blurb,
		ReviewSnippets: string(snippets),
		HitCount:       e.HitCount,
		CreatedAt:      e.CreatedAt,
		LastAccessedAt: e.LastAccessedAt,
	}
	updates := clause.AssignmentColumns([]string{
		"display_name", "rating", "confidence", "provider", "wine_type", "region",
		"varietal", "brand", "blurb", "review_snippets", "last_accessed_at",
	})
	updates = append(updates, clause.Assignment{
		Column: clause.Column{Name: "hit_count"},
		Value:  gorm.Expr("MAX(llm_rating_cache.hit_count, excluded.hit_count)"),
	})
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoUpdates: updates}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save llm entry %q: %w", e.Name, err)
	}
	return nil
}

// LoadLLMEntries returns every persisted estimate.
func (s *Store) LoadLLMEntries(ctx context.Context) ([]llmcache.Entry, error) {
	var rows []LLMCacheRow
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load llm entries: %w", err)
	}
	out := make([]llmcache.Entry, 0, len(rows))
	for _, r := range rows {
		var snippets []string
		if r.ReviewSnippets != "" {
			if err := json.Unmarshal([]byte(r.ReviewSnippets), &snippets); err != nil {
				return nil, fmt.Errorf("decode review snippets of %q: %w", r.Name, err)
			}
		}
		out = append(out, llmcache.Entry{
			Name:           r.Name,
			DisplayName:    r.DisplayName,
			Rating:         r.Rating,
			Confidence:     r.Confidence,
			Provider:       r.Provider,
			WineType:       r.WineType,
			Region:         r.Region,
			Varietal:       r.Varietal,
			Brand:          r.Brand,
			Blurb:          r.Blurb,
			ReviewSnippets: snippets,
			HitCount:       r.HitCount,
			CreatedAt:      r.CreatedAt,
			LastAccessedAt: r.LastAccessedAt,
		})
	}
	return out, nil
}

// Promote adds an estimate to the catalog as a canonical wine, keeping its
// blurb and review snippets. A wine already in the catalog keeps its rating.
func (s *Store) Promote(ctx context.Context, e llmcache.Entry) (*Wine, error) {
	name := e.DisplayName
	if name == "" {
		name = e.Name
	}
	w, found, err := s.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		rating := e.Rating
		w = &Wine{
			Name:     name,
			Rating:   &rating,
			WineType: e.WineType,
			Region:   e.Region,
			Varietal: e.Varietal,
			Brand:    e.Brand,
			Source:   "promoted:" + e.Provider,
		}
		if err := s.UpsertWine(ctx, w); err != nil {
			return nil, err
		}
	}
	if w.Description == "" && e.Blurb != "" {
		if err := s.UpdateDescription(ctx, w.ID, e.Blurb); err != nil {
			return nil, err
		}
		w.Description = e.Blurb
	}
	for _, snippet := range e.ReviewSnippets {
		if _, err := s.AddReview(ctx, w.ID, snippet, e.Provider); err != nil {
			return nil, err
		}
	}
	return w, nil
}
