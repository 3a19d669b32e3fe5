package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 8, 12, 9, 45, 30, 123456789, time.UTC)

	cur, err := Decode(Encode(at, "evt_7f3a"))
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, at, cur.CreatedAt)
	assert.Equal(t, "evt_7f3a", cur.ID)
}

func TestDecodeEmptyMeansNewest(t *testing.T) {
	cur, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, s := range []string{
		"%%%not-base64%%%",
		"bm9waXBl",     // decodes to "nopipe", no separator
		"eHw",          // "x|", missing id
		"YWJjfGV2dF8x", // "abc|evt_1", non-numeric timestamp
	} {
		_, err := Decode(s)
		assert.ErrorIs(t, err, ErrInvalidCursor, "input %q", s)
	}
}

func TestComputePageUnderLimit(t *testing.T) {
	page, next, more := ComputePage([]string{"a", "b"}, 5, stringKey)
	assert.Len(t, page, 2)
	assert.Empty(t, next)
	assert.False(t, more)
}

func TestComputePageExactlyFull(t *testing.T) {
	// limit rows fetched with limit+1 means no extra row, so no next page.
	page, next, more := ComputePage([]string{"a", "b", "c"}, 3, stringKey)
	assert.Len(t, page, 3)
	assert.Empty(t, next)
	assert.False(t, more)
}

func TestComputePageTrimsAndPointsAtLastItem(t *testing.T) {
	page, next, more := ComputePage([]string{"a", "b", "c", "d"}, 3, stringKey)
	assert.Len(t, page, 3)
	assert.True(t, more)

	cur, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, "c", cur.ID)
}

func stringKey(s string) (time.Time, string) {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), s
}
