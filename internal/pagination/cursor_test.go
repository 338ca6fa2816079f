package pagination

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	encoded := Encode(4711)
	assert.NotEmpty(t, encoded)

	id, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, int64(4711), id)
}

func TestDecode_Empty(t *testing.T) {
	id, err := Decode("")
	assert.NoError(t, err)
	assert.Zero(t, id)
}

func TestDecode_Invalid(t *testing.T) {
	for _, s := range []string{
		"not-base64!!!",
		base64.RawURLEncoding.EncodeToString([]byte("nopipe")),
		base64.RawURLEncoding.EncodeToString([]byte("sg1:abc")),
		base64.RawURLEncoding.EncodeToString([]byte("sg1:-4")),
	} {
		_, err := Decode(s)
		assert.ErrorIs(t, err, ErrInvalidCursor, s)
	}
}

func TestLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, Limit(0))
	assert.Equal(t, DefaultLimit, Limit(-3))
	assert.Equal(t, 7, Limit(7))
	assert.Equal(t, MaxLimit, Limit(MaxLimit+1))
}

func TestComputePage_NoMore(t *testing.T) {
	page := ComputePage([]int64{9, 8, 7}, 5, func(id int64) int64 { return id })
	assert.Len(t, page.Items, 3)
	assert.Empty(t, page.NextCursor)
	assert.False(t, page.HasMore)
}

func TestComputePage_HasMore(t *testing.T) {
	page := ComputePage([]int64{9, 8, 7, 6}, 3, func(id int64) int64 { return id })
	assert.Len(t, page.Items, 3)
	assert.True(t, page.HasMore)

	next, err := Decode(page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(7), next)
}

func TestComputePage_ExactLimit(t *testing.T) {
	page := ComputePage([]int64{3, 2, 1}, 3, func(id int64) int64 { return id })
	assert.Len(t, page.Items, 3)
	assert.Empty(t, page.NextCursor)
	assert.False(t, page.HasMore)
}

func TestComputePage_NilItems(t *testing.T) {
	page := ComputePage[int64](nil, 3, func(id int64) int64 { return id })
	assert.NotNil(t, page.Items)
}
