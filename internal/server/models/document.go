// Package models defines the records persisted by the vault: encrypted
// documents, access grants and audit ledger entries.
package models

import "time"

// DocumentStatus is the lifecycle state of a SecureDocument.
type DocumentStatus string

const (
	StatusActive  DocumentStatus = "active"
	StatusDeleted DocumentStatus = "deleted"
)

// Document is one physical encrypted object. The ciphertext lives in blob
// storage under StoragePath; everything needed to decrypt and verify it,
// except the master key, lives here.
type Document struct {
	ID   int64
	UUID string

	OwnerID    int64
	CaseID     *int64
	CategoryID *int64

	Title            string
	OriginalFilename string
	MimeType         string
	FileSize         int64

	// StoragePath is the blob key of the ciphertext.
	StoragePath string

	// ContentHash is the hex SHA-256 of the plaintext.
	ContentHash string
	// WrappedDEK is base64(nonce || ciphertext) of the DEK under the KEK.
	WrappedDEK string
	// IV and Tag are the hex AEAD nonce and authentication tag.
	IV     string
	Tag    string
	Cipher string

	// Version starts at 1; ParentVersionID points to the superseded document.
	Version         int
	ParentVersionID *int64
	// RootID indexes the chain root for versions (nil on the root itself).
	RootID *int64

	Status    DocumentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDeleted reports whether the document is tombstoned.
func (d *Document) IsDeleted() bool {
	return d.Status == StatusDeleted
}

// ChainRootID returns the id of the first version of d's chain.
func (d *Document) ChainRootID() int64 {
	if d.RootID != nil {
		return *d.RootID
	}
	if d.ParentVersionID == nil {
		return d.ID
	}
	return 0
}

// DocumentFilter narrows ListDocuments. Zero values mean "any".
type DocumentFilter struct {
	Status         DocumentStatus
	OwnerID        *int64
	CaseID         *int64
	CategoryID     *int64
	IncludeDeleted bool
}
