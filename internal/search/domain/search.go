package domain

import (
	"time"

	"levramail-backend/pkg/dbtypes"
)

// Document families searched by the engine.
const (
	SourceEmail       = "email"
	SourceFile        = "file"
	SourceIntegration = "integration"
)

// Candidate is one similarity match before full records are loaded.
type Candidate struct {
	ID         string
	ThreadID   string
	Similarity float64
}

// Hit is a ranked search result. Document holds the full record of its family.
type Hit struct {
	ID       string      `json:"id"`
	Score    float64     `json:"score"`
	Source   string      `json:"source"`
	Document interface{} `json:"document"`
}

// Query parameters for vector search. Zero values take the engine defaults.
type Query struct {
	Term         string   `json:"term"`
	PreferredIDs []string `json:"preferredIds,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	Threshold    float64  `json:"threshold,omitempty"`
}

// BatchStats reports the outcome of a batch index update.
type BatchStats struct {
	Inserted int `json:"inserted"`
	Failed   int `json:"failed"`
}

// DocumentCount is the number of indexed documents per family.
type DocumentCount struct {
	Emails       int64 `json:"emails"`
	Files        int64 `json:"files"`
	Integrations int64 `json:"integrations"`
	Total        int64 `json:"total"`
}

// QAEntry is a cached assistant answer.
type QAEntry struct {
	ID         string         `json:"id" gorm:"primaryKey"`
	AccountID  string         `json:"account_id" gorm:"index;not null"`
	Query      string         `json:"query" gorm:"type:text"`
	Response   string         `json:"response" gorm:"type:text"`
	Embeddings dbtypes.Vector `json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (QAEntry) TableName() string { return "qa_entries" }
