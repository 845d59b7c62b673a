// Package grants persists access grants: bearer tokens, their re-wrapped
// document keys and the download counters enforced against them.
package grants

import (
	"context"
	"time"

	"github.com/dmitrijs2005/docvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, grant *models.Grant) (*models.Grant, error)
	GetByID(ctx context.Context, id int64) (*models.Grant, error)
	GetByToken(ctx context.Context, token string) (*models.Grant, error)
	// Revoke reports whether the grant changed state.
	Revoke(ctx context.Context, id int64) (bool, error)
	RevokeAllForDocument(ctx context.Context, documentID int64) (int, error)
	IncrementDownloadCount(ctx context.Context, id int64) (int, error)
	// ConsumeDownload increments the counter only if the grant is still
	// usable at now. ok is false when any condition failed.
	ConsumeDownload(ctx context.Context, id int64, now time.Time) (count int, ok bool, err error)
	ListByDocument(ctx context.Context, documentID int64, activeOnly bool) ([]*models.Grant, error)
	ListActiveByGrantee(ctx context.Context, granteeID int64) ([]*models.Grant, error)
	UpdateWrappedDEK(ctx context.Context, id int64, wrappedDEK string) error
}
