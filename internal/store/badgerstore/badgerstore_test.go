package badgerstore

import (
	"context"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"
	"github.com/vvakame/libraryql/internal/log"
	"github.com/vvakame/libraryql/internal/store"
	"github.com/vvakame/libraryql/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := log.WithLogger(context.Background(), testr.New(t))
		s, err := Open(ctx, "")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close(ctx) })
		return s
	})
}

func TestOpenOnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, dir)
	require.NoError(t, err)
	author, created, err := s.EnsureAuthor(ctx, "Ursula K. Le Guin")
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, s.Close(ctx))

	s, err = Open(ctx, dir)
	require.NoError(t, err)
	defer s.Close(ctx)

	reloaded, created, err := s.EnsureAuthor(ctx, "Ursula K. Le Guin")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, author.ID, reloaded.ID)
}
