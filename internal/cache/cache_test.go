package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestLoadFreshness(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := New(WithClock(clock.now))
	c.Save("k", []byte("v"))

	clock.advance(5 * time.Minute)

	tests := []struct {
		maxAge time.Duration
		want   bool
	}{
		{0, false},
		{time.Minute, false},
		{5*time.Minute - time.Nanosecond, false},
		{5 * time.Minute, true},
		{time.Hour, true},
	}
	for _, tt := range tests {
		_, ok := c.Load("k", tt.maxAge)
		assert.Equal(t, tt.want, ok, "maxAge=%v", tt.maxAge)
	}

	clock.advance(1000 * time.Hour)
	data, ok := c.LoadStale("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), data)

	_, ok = c.LoadStale("missing")
	assert.False(t, ok)
}

func TestSaveOverwrites(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := New(WithClock(clock.now))
	c.Save("k", []byte("old"))
	clock.advance(time.Hour)
	c.Save("k", []byte("new"))

	data, ok := c.Load("k", time.Minute)
	require.True(t, ok)
	assert.Equal(t, "new", string(data))
}

func TestRemoveAllPrefix(t *testing.T) {
	c := New()
	c.Save("transactions-u1-2024-01-01-2024-01-31", []byte("a"))
	c.Save("transactions-u1-2024-02-01-2024-02-29", []byte("b"))
	c.Save("transactions-u2-2024-01-01-2024-01-31", []byte("c"))
	c.Save("goals-u1", []byte("d"))

	assert.Equal(t, 2, c.RemoveAll("transactions-u1"))

	_, ok := c.LoadStale("transactions-u1-2024-01-01-2024-01-31")
	assert.False(t, ok)
	_, ok = c.Load("transactions-u1-2024-02-01-2024-02-29", time.Hour)
	assert.False(t, ok)
	_, ok = c.LoadStale("transactions-u2-2024-01-01-2024-01-31")
	assert.True(t, ok)
	_, ok = c.LoadStale("goals-u1")
	assert.True(t, ok)
}

func TestReturnedPayloadIsACopy(t *testing.T) {
	c := New()
	c.Save("k", []byte("abc"))
	data, _ := c.LoadStale("k")
	data[0] = 'z'
	again, _ := c.LoadStale("k")
	assert.Equal(t, "abc", string(again))
}

func TestJSONHelpers(t *testing.T) {
	c := New()
	require.NoError(t, SaveJSON(c, "list", []string{"a", "b"}))

	got, ok := LoadJSON[[]string](c, "list", time.Hour)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, got)

	// an empty list is a valid entry, not a miss
	require.NoError(t, SaveJSON(c, "empty", []string{}))
	empty, ok := LoadJSON[[]string](c, "empty", time.Hour)
	assert.True(t, ok)
	assert.Empty(t, empty)

	// undecodable payloads are misses
	c.Save("broken", []byte("{not json"))
	_, ok = LoadStaleJSON[[]string](c, "broken")
	assert.False(t, ok)
}

type memorySnapshots struct {
	data []byte
	err  error
}

func (m *memorySnapshots) Put(ctx context.Context, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.data = data
	return nil
}

func (m *memorySnapshots) Get(ctx context.Context) ([]byte, error) {
	return m.data, m.err
}

func TestSnapshotRestore(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	src := New(WithClock(clock.now))
	src.Save("a", []byte("1"))
	src.Save("b", []byte("2"))

	store := &memorySnapshots{}
	n, err := src.Snapshot(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	clock.advance(10 * time.Minute)
	dst := New(WithClock(clock.now))
	n, err = dst.Restore(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// write time survives the round trip
	_, ok := dst.Load("a", 5*time.Minute)
	assert.False(t, ok)
	data, ok := dst.Load("a", 15*time.Minute)
	require.True(t, ok)
	assert.Equal(t, "1", string(data))
}

func TestRestoreEmptyAndErrors(t *testing.T) {
	c := New()
	n, err := c.Restore(context.Background(), &memorySnapshots{})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = c.Restore(context.Background(), &memorySnapshots{err: errors.New("boom")})
	assert.Error(t, err)

	_, err = c.Restore(context.Background(), &memorySnapshots{data: []byte(`{"version":9}`)})
	assert.Error(t, err)
}
