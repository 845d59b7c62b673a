// Package blobstore keeps document ciphertext outside the database, on the
// local filesystem or in an S3-compatible bucket. Plaintext never reaches it.
package blobstore

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/docvault/internal/common"
)

// Store is a flat key/value store for encrypted blobs.
type Store interface {
	// Put writes data under key. A reader never sees a partial blob.
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// NewStorageKey returns a fresh key of the form YYYY/MM/<32 hex>.enc[.ext],
// keeping the lowercased extension of filename.
func NewStorageKey(filename string, now time.Time) (string, error) {
	id, err := common.MakeRandHexString(common.StorageIDBytes)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%04d/%02d/%s.enc", now.Year(), int(now.Month()), id)
	if ext := cleanExt(filename); ext != "" {
		key += ext
	}
	return key, nil
}

func cleanExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// validateKey rejects keys that could escape the store root.
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: invalid storage key %q", common.ErrValidation, key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: invalid storage key %q", common.ErrValidation, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("%w: invalid storage key %q", common.ErrValidation, key)
		}
	}
	return nil
}
