// Package catalog is the durable wine catalog: canonical wines, their
// aliases and reviews, plus persisted language-model estimates.
package catalog

import (
	"time"
)

// Wine is a canonical catalog record.
type Wine struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"type:text;not null" json:"name"`
	NameKey     string    `gorm:"type:text;not null;uniqueIndex:idx_wines_name_key" json:"-"`
	Rating      *float64  `json:"rating,omitempty"`
	WineType    string    `gorm:"type:text" json:"wine_type,omitempty"`
	Region      string    `gorm:"type:text" json:"region,omitempty"`
	Varietal    string    `gorm:"type:text" json:"varietal,omitempty"`
	Brand       string    `gorm:"type:text" json:"brand,omitempty"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Source      string    `gorm:"type:text" json:"source,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Wine.
func (Wine) TableName() string { return "wines" }

// Alias maps a shorthand name to a wine.
type Alias struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Alias     string    `gorm:"type:text;not null" json:"alias"`
	AliasKey  string    `gorm:"type:text;not null;uniqueIndex:idx_aliases_key" json:"-"`
	WineID    uint      `gorm:"not null;index:idx_aliases_wine" json:"wine_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Alias.
func (Alias) TableName() string { return "wine_aliases" }

// Review is one review snippet attached to a wine. The pair (WineID,
// TextHash) is unique so the same text is never stored twice.
type Review struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	WineID    uint      `gorm:"not null;uniqueIndex:idx_reviews_wine_text" json:"wine_id"`
	TextHash  string    `gorm:"type:text;not null;uniqueIndex:idx_reviews_wine_text" json:"-"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	Source    string    `gorm:"type:text;not null" json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Review.
func (Review) TableName() string { return "wine_reviews" }

// LLMCacheRow persists one language-model estimate.
type LLMCacheRow struct {
	Name           string  `gorm:"type:text;primaryKey"`
	DisplayName    string  `gorm:"type:text"`
	Rating         float64 `gorm:"not null"`
	Confidence     float64 `gorm:"not null"`
	Provider       string  `gorm:"type:text"`
	WineType       string  `gorm:"type:text"`
	Region         string  `gorm:"type:text"`
	Varietal       string  `gorm:"type:text"`
	Brand          string  `gorm:"type:text"`
	Blurb          string  `gorm:"type:text"`
	ReviewSnippets string  `gorm:"type:text"`
	HitCount       int64   `gorm:"not null;default:0;index:idx_llm_cache_hits"`
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// TableName returns the database table name for LLMCacheRow.
func (LLMCacheRow) TableName() string { return "llm_rating_cache" }
