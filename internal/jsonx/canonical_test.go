package jsonx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalMarshal_SortsKeysRecursively(t *testing.T) {
	got, err := CanonicalMarshal(map[string]any{
		"b": 1,
		"a": map[string]any{"z": true, "y": nil},
		"c": []any{"x", 2.5},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":null,"z":true},"b":1,"c":["x",2.5]}`, string(got))
}

func TestCanonicalMarshal_StableAcrossRoundTrip(t *testing.T) {
	in := map[string]any{"grant_id": int64(12), "count": 3, "email": "a@example.com"}

	first, err := CanonicalMarshal(in)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal(first, &back))
	second, err := CanonicalMarshal(back)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestCanonicalMarshal_Unsupported(t *testing.T) {
	_, err := CanonicalMarshal(map[string]any{"f": func() {}})
	assert.Error(t, err)
}

func TestNormalizeObject(t *testing.T) {
	got, err := NormalizeObject(nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, got)

	got, err = NormalizeObject(map[string]any{"n": 3})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": float64(3)}, got)
}
