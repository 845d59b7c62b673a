package models

import (
	"slices"
	"time"
)

// Permission is an action a grant allows on its document.
type Permission string

const (
	PermissionView     Permission = "view"
	PermissionDownload Permission = "download"
	PermissionSign     Permission = "sign"
)

// Grant is one sharing relationship for one document. AccessToken is the
// bearer credential; WrappedDEK is the document DEK re-wrapped for this grant.
type Grant struct {
	ID           int64
	DocumentID   int64
	GranteeID    *int64
	GranteeEmail string

	AccessToken string
	WrappedDEK  string

	Permissions   []Permission
	MaxDownloads  *int
	DownloadCount int
	ExpiresAt     *time.Time
	RequiresAuth  bool

	IsRevoked bool
	GrantedBy int64
	CreatedAt time.Time
}

// IsExpired reports whether the grant expired at or before now.
func (g *Grant) IsExpired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// QuotaReached reports whether no download is left.
func (g *Grant) QuotaReached() bool {
	return g.MaxDownloads != nil && g.DownloadCount >= *g.MaxDownloads
}

// HasPermission reports whether p is among the grant's permissions.
func (g *Grant) HasPermission(p Permission) bool {
	return slices.Contains(g.Permissions, p)
}
