// Package common contains shared constants, typed errors and small helpers
// used across docvault components.
package common

const (
	// KeySize is the byte length of every DEK and of the KEK (AES-256).
	KeySize = 32

	// DefaultTokenBytes is the entropy of a bearer access token before hex encoding.
	DefaultTokenBytes = 32

	// StorageIDBytes is the entropy of the random part of a blob storage key.
	StorageIDBytes = 16

	// GenesisHash is the prev_hash of the first audit entry of every document.
	GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"
)
