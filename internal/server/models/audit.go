package models

import "time"

// AuditAction is the kind of fact recorded in the ledger.
type AuditAction string

const (
	ActionCreated    AuditAction = "created"
	ActionViewed     AuditAction = "viewed"
	ActionDownloaded AuditAction = "downloaded"
	ActionShared     AuditAction = "shared"
	ActionSigned     AuditAction = "signed"
	ActionRevoked    AuditAction = "revoked"
	ActionDeleted    AuditAction = "deleted"
)

// AuditEntry is one immutable ledger record. HashChain binds it to every
// earlier entry of the same document; PrevHash is the head it was appended on.
type AuditEntry struct {
	ID         int64
	DocumentID int64
	Action     AuditAction
	ActorID    *int64
	ActorIP    string
	Details    map[string]any
	PrevHash   string
	HashChain  string
	CreatedAt  time.Time
}

// AuditAnchor is the stored head of a document's chain. It advances with
// every append, so entries removed from the end of the chain are detected.
type AuditAnchor struct {
	DocumentID int64
	HeadHash   string
	EntryCount int
}
