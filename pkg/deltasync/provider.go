// Package deltasync implements the delta-token mailbox sync protocol: start a sync job,
// wait for it to become ready, then drain the pages of updated records.
package deltasync

import (
	"context"
	"errors"

	"levramail-backend/internal/mail/domain"
)

// ErrDeltaTokenExpired means the provider no longer accepts the checkpoint and a full resync is required.
var ErrDeltaTokenExpired = errors.New("delta token expired")

// Page is one page of updated records.
type Page struct {
	Records        []domain.Message `json:"records"`
	NextPageToken  string           `json:"nextPageToken"`
	NextDeltaToken string           `json:"nextDeltaToken"`
}

// StartResult is the answer to a sync-start request.
type StartResult struct {
	Token string `json:"syncUpdatedToken"`
	Ready bool   `json:"ready"`
}

// Provider is the remote side of the protocol.
type Provider interface {
	// StartSync opens a sync job covering the last daysWithin days.
	StartSync(ctx context.Context, daysWithin int) (*StartResult, error)
	// GetUpdatedRecords returns the page of changes after deltaToken. pageToken is empty for the first page.
	GetUpdatedRecords(ctx context.Context, deltaToken, pageToken string) (*Page, error)
}
