package blobstore

import (
	"regexp"
	"testing"
	"time"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStorageKey(t *testing.T) {
	now := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	k1, err := NewStorageKey("Contract.PDF", now)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^2026/03/[0-9a-f]{32}\.enc\.pdf$`), k1)

	k2, err := NewStorageKey("noext", now)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^2026/03/[0-9a-f]{32}\.enc$`), k2)
	assert.NotEqual(t, k1[:40], k2[:40])

	k3, err := NewStorageKey("evil.p/../df", now)
	require.NoError(t, err)
	assert.NoError(t, validateKey(k3))
}

func TestValidateKey(t *testing.T) {
	for _, bad := range []string{"", "/abs", "../x", "a/../../x", "a//b", "a\\b", "./a"} {
		assert.ErrorIs(t, validateKey(bad), common.ErrValidation, bad)
	}
	assert.NoError(t, validateKey("2026/10/abc.enc"))
}
