// Package documents persists SecureDocument records: the metadata, wrapped
// key material and version links of every encrypted blob.
package documents

import (
	"context"

	"github.com/dmitrijs2005/docvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, doc *models.Document) (*models.Document, error)
	GetByID(ctx context.Context, id int64) (*models.Document, error)
	GetByUUID(ctx context.Context, uuid string) (*models.Document, error)
	List(ctx context.Context, filter models.DocumentFilter, limit, offset int) ([]*models.Document, int, error)
	ListChain(ctx context.Context, rootID int64) ([]*models.Document, error)
	ListChildren(ctx context.Context, parentID int64) ([]*models.Document, error)
	SetStatus(ctx context.Context, id int64, status models.DocumentStatus) error
	UpdateWrappedDEK(ctx context.Context, id int64, wrappedDEK string) error
}
