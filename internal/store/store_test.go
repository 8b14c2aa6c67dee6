package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zde37/vdht/pkg"
	"github.com/zde37/vdht/pkg/ring"
)

func TestStoreGet(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		setup     func(s *Store)
		key       string
		wantValue []byte
		wantErr   error
	}{
		{
			name:    "missing",
			setup:   func(s *Store) {},
			key:     "seven",
			wantErr: pkg.ErrValueNotFound,
		},
		{
			name: "stored",
			setup: func(s *Store) {
				require.NoError(t, s.Set(ctx, "seven", []byte("value"), time.Hour))
			},
			key:       "seven",
			wantValue: []byte("value"),
		},
		{
			name: "expired",
			setup: func(s *Store) {
				require.NoError(t, s.Set(ctx, "seven", []byte("value"), time.Millisecond))
				time.Sleep(5 * time.Millisecond)
			},
			key:     "seven",
			wantErr: pkg.ErrValueNotFound,
		},
		{
			name: "empty value",
			setup: func(s *Store) {
				require.NoError(t, s.Set(ctx, "seven", []byte{}, 0))
			},
			key:       "seven",
			wantValue: []byte{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&Config{CleanupInterval: time.Hour})
			defer s.Close()
			tt.setup(s)

			value, err := s.Get(ctx, tt.key)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantValue, value)
		})
	}
}

func TestStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	defer s.Close()

	value := []byte("abc")
	require.NoError(t, s.Set(ctx, "k1", value, 0))
	value[0] = 'x'

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[0] = 'y'
	again, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestStoreDeleteAndStats(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "k1", []byte("a"), 0))
	require.NoError(t, s.Set(ctx, "k2", []byte("b"), 0))
	_, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "k1"))
	require.NoError(t, s.Delete(ctx, "k99"))
	_, err = s.Get(ctx, "k1")
	assert.ErrorIs(t, err, pkg.ErrValueNotFound)

	assert.Equal(t, Stats{Entries: 1, Hits: 1, Misses: 1, Sets: 2, Deletes: 2}, s.Stats())
}

func TestStoreKeepsNamesApart(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "alice", []byte("a"), 0))
	require.NoError(t, s.Set(ctx, "bob", []byte("b"), 0))

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)
	got, err = s.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got)
}

func TestStoreSweepsExpired(t *testing.T) {
	ctx := context.Background()
	s := New(&Config{CleanupInterval: 5 * time.Millisecond})
	defer s.Close()

	require.NoError(t, s.Set(ctx, "k1", []byte("a"), time.Millisecond))
	require.NoError(t, s.Set(ctx, "k2", []byte("b"), 0))

	require.Eventually(t, func() bool { return s.Stats().Entries == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), s.Stats().Evictions)
}

func TestStoreClosed(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Get(ctx, "k1")
	assert.ErrorIs(t, err, pkg.ErrStoreClosed)
	assert.ErrorIs(t, s.Set(ctx, "k1", nil, 0), pkg.ErrStoreClosed)
	assert.ErrorIs(t, s.Delete(ctx, "k1"), pkg.ErrStoreClosed)
}

func TestStoreCancelledContext(t *testing.T) {
	s := New(nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "k1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Set(ctx, "k1", nil, 0), context.Canceled)
}

func TestStoreConcurrent(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	defer s.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("%d-%d", w, i)
				assert.NoError(t, s.Set(ctx, key, []byte{byte(i)}, 0))
				v, err := s.Get(ctx, key)
				assert.NoError(t, err)
				assert.Equal(t, []byte{byte(i)}, v)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 800, s.Stats().Entries)
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory([]ring.Key{10, 20}, nil)
	defer d.Close()

	s, err := d.Node(10)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "x", []byte("x"), 0))

	other, err := d.Node(20)
	require.NoError(t, err)
	_, err = other.Get(ctx, "x")
	assert.ErrorIs(t, err, pkg.ErrValueNotFound)

	_, err = d.Node(30)
	assert.ErrorIs(t, err, pkg.ErrUnknownKey)
}
