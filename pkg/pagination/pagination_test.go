package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, NormalizeLimit(0))
	require.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	require.Equal(t, 7, NormalizeLimit(7))
	require.Equal(t, 8, FetchLimit(7))
}

func TestCursorRoundTrip(t *testing.T) {
	want := Cursor{CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 123, time.UTC), ID: uuid.New()}

	got, err := Params{Cursor: want.Encode()}.Decode()
	require.NoError(t, err)
	require.True(t, want.CreatedAt.Equal(got.CreatedAt))
	require.Equal(t, want.ID, got.ID)

	empty, err := Params{Cursor: "  "}.Decode()
	require.NoError(t, err)
	require.Nil(t, empty)

	_, err = Params{Cursor: "not base64!"}.Decode()
	require.ErrorIs(t, err, ErrInvalidCursor)
}

func TestTrim(t *testing.T) {
	type row struct {
		id uuid.UUID
		at time.Time
	}
	now := time.Now().UTC()
	rows := []row{{uuid.New(), now}, {uuid.New(), now.Add(-time.Minute)}, {uuid.New(), now.Add(-2 * time.Minute)}}
	key := func(r row) Cursor { return Cursor{CreatedAt: r.at, ID: r.id} }

	page, next := Trim(rows, 2, key)
	require.Len(t, page, 2)
	cursor, err := Params{Cursor: next}.Decode()
	require.NoError(t, err)
	require.Equal(t, rows[1].id, cursor.ID)

	last, next := Trim(rows[2:], 2, key)
	require.Len(t, last, 1)
	require.Empty(t, next)
}
