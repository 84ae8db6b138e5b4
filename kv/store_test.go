package kv

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreTests exercises the Store contract shared by every provider.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "entry:missing")
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})

	t.Run("set then get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "entry:abc", []byte(`{"hello":"world"}`)))

		got, err := s.Get(ctx, "entry:abc")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"hello":"world"}`), got)
	})

	t.Run("set overwrites", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "entry:abc", []byte("one")))
		require.NoError(t, s.Set(ctx, "entry:abc", []byte("two")))

		got, err := s.Get(ctx, "entry:abc")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), got)
	})

	t.Run("binary values round trip", func(t *testing.T) {
		s := newStore(t)
		value := []byte{0x00, 0x0a, 0xff, 0x0a, 0x01}
		require.NoError(t, s.Set(ctx, "entry:bin", value))

		got, err := s.Get(ctx, "entry:bin")
		require.NoError(t, err)
		assert.Equal(t, value, got)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "contentcache:index", []byte("{}")))
		require.NoError(t, s.Delete(ctx, "contentcache:index"))

		_, err := s.Get(ctx, "contentcache:index")
		assert.True(t, IsNotFound(err))
	})

	t.Run("delete missing key is a no-op", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Delete(ctx, "entry:never"))
	})

	t.Run("concurrent writers", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.Set(ctx, fmt.Sprintf("entry:k%d", i), []byte(fmt.Sprintf("v%d", i))))
			}(i)
		}
		wg.Wait()

		for i := 0; i < 8; i++ {
			got, err := s.Get(ctx, fmt.Sprintf("entry:k%d", i))
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("v%d", i), string(got))
		}
	})
}
