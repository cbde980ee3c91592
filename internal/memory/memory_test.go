package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"persona-chat/internal/config"
	"persona-chat/internal/models"
)

type storeFactory func(t *testing.T, dir string) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"json": func(t *testing.T, dir string) Store {
			s, err := NewJSONStore(dir, DefaultMaxMessages, nil)
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T, dir string) Store {
			s, err := NewSQLiteStore(dir, DefaultMaxMessages, nil)
			require.NoError(t, err)
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, open func() Store)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			var opened []Store
			t.Cleanup(func() {
				for _, s := range opened {
					_ = s.Close()
				}
			})
			fn(t, func() Store {
				s := factory(t, dir)
				opened = append(opened, s)
				return s
			})
		})
	}
}

func TestUnknownContactIsEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func() Store) {
		history, err := open().GetHistory(context.Background(), "nobody")
		require.NoError(t, err)
		assert.NotNil(t, history)
		assert.Empty(t, history)
	})
}

func TestAppendKeepsOrderAndEvictsOldest(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func() Store) {
		ctx := context.Background()
		s := open()

		for i := 1; i <= 31; i++ {
			role := models.RoleUser
			if i%2 == 0 {
				role = models.RoleAssistant
			}
			require.NoError(t, s.AppendMessage(ctx, "sopia", role, fmt.Sprintf("msg %d", i)))
		}

		history, err := s.GetHistory(ctx, "sopia")
		require.NoError(t, err)
		require.Len(t, history, 30)
		assert.Equal(t, models.NewMessage(models.RoleAssistant, "msg 2"), history[0])
		assert.Equal(t, models.NewMessage(models.RoleUser, "msg 31"), history[29])
		for i, msg := range history {
			assert.Equal(t, fmt.Sprintf("msg %d", i+2), msg.Content)
		}
	})
}

func TestContactIsCaseInsensitive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func() Store) {
		ctx := context.Background()
		s := open()

		require.NoError(t, s.AppendMessage(ctx, " Sopia ", models.RoleUser, "hai"))
		history, err := s.GetHistory(ctx, "SOPIA")
		require.NoError(t, err)
		assert.Equal(t, []models.Message{models.NewMessage(models.RoleUser, "hai")}, history)
	})
}

func TestResetOnlyAffectsOneContact(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func() Store) {
		ctx := context.Background()
		s := open()

		require.NoError(t, s.AppendMessage(ctx, "sopia", models.RoleUser, "a"))
		require.NoError(t, s.AppendMessage(ctx, "rina", models.RoleUser, "b"))
		require.NoError(t, s.ResetHistory(ctx, "sopia"))

		history, err := s.GetHistory(ctx, "sopia")
		require.NoError(t, err)
		assert.Empty(t, history)

		other, err := s.GetHistory(ctx, "rina")
		require.NoError(t, err)
		assert.Equal(t, []models.Message{models.NewMessage(models.RoleUser, "b")}, other)

		require.NoError(t, s.ResetHistory(ctx, "never-seen"))
	})
}

func TestHistoryPersistsAcrossReopen(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func() Store) {
		ctx := context.Background()
		first := open()
		require.NoError(t, first.AppendMessage(ctx, "sopia", models.RoleUser, "halo"))
		require.NoError(t, first.AppendMessage(ctx, "sopia", models.RoleAssistant, "hai juga 🙂"))
		require.NoError(t, first.Close())

		history, err := open().GetHistory(ctx, "sopia")
		require.NoError(t, err)
		assert.Equal(t, []models.Message{
			models.NewMessage(models.RoleUser, "halo"),
			models.NewMessage(models.RoleAssistant, "hai juga 🙂"),
		}, history)
	})
}

func TestConcurrentAppendsAreNotLost(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func() Store) {
		ctx := context.Background()
		s := open()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.AppendMessage(ctx, "sopia", models.RoleUser, fmt.Sprintf("m%d", i)))
			}(i)
		}
		wg.Wait()

		history, err := s.GetHistory(ctx, "sopia")
		require.NoError(t, err)
		assert.Len(t, history, 10)
	})
}

func TestOpenSelectsBackend(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(config.MemoryConfig{Backend: config.MemoryBackendJSON, DataDir: dir, MaxMessages: 5}, nil)
	require.NoError(t, err)
	assert.IsType(t, &JSONStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(config.MemoryConfig{Backend: config.MemoryBackendSQLite, DataDir: dir, MaxMessages: 5}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(config.MemoryConfig{Backend: "redis", DataDir: dir}, nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestCustomRetention(t *testing.T) {
	s, err := NewJSONStore(t.TempDir(), 2, nil)
	require.NoError(t, err)

	ctx := context.Background()
	for _, c := range []string{"a", "b", "c"} {
		require.NoError(t, s.AppendMessage(ctx, "x", models.RoleUser, c))
	}
	history, err := s.GetHistory(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []models.Message{
		models.NewMessage(models.RoleUser, "b"),
		models.NewMessage(models.RoleUser, "c"),
	}, history)
}

func TestNormalizeContact(t *testing.T) {
	assert.Equal(t, "sopia", NormalizeContact("  SoPia\t"))
	assert.Equal(t, "", NormalizeContact("   "))
}
