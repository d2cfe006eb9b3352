package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koopa0/system-design/trivia-rooms/internal/ledger"
	"github.com/koopa0/system-design/trivia-rooms/internal/testutils"
	apperrors "github.com/koopa0/system-design/trivia-rooms/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_AppendAndTopScores(t *testing.T) {
	if testing.Short() {
		t.Skip("跳過需要 Docker 的整合測試")
	}

	pg := testutils.SetupPostgres(t)
	l := ledger.NewPostgres(pg.Pool)
	ctx := context.Background()

	t.Run("append returns server-assigned fields", func(t *testing.T) {
		pg.Truncate(t)

		score, err := l.Append(ctx, "SwiftOtter42", 240)
		require.NoError(t, err)
		assert.Equal(t, int64(1), score.ID)
		assert.Equal(t, "SwiftOtter42", score.Username)
		assert.Equal(t, 240, score.Points)
		assert.WithinDuration(t, time.Now(), score.PlayedAt, time.Minute)
	})

	t.Run("top scores descending", func(t *testing.T) {
		pg.Truncate(t)

		for name, points := range map[string]int{"a": 10, "b": 500, "c": 250} {
			_, err := l.Append(ctx, name, points)
			require.NoError(t, err)
		}

		top, err := l.TopScores(ctx, 2)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, "b", top[0].Username)
		assert.Equal(t, "c", top[1].Username)
	})

	t.Run("empty table", func(t *testing.T) {
		pg.Truncate(t)

		top, err := l.TopScores(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, top)
		assert.NotNil(t, top)
	})

	t.Run("invalid input is not a ledger failure", func(t *testing.T) {
		_, err := l.Append(ctx, "", 10)
		require.Error(t, err)
		assert.True(t, apperrors.IsInvalidInput(err))
	})
}

func TestPostgres_UnreachableIsLedgerFailure(t *testing.T) {
	// pgxpool 延遲連線，建立時不會失敗
	pool, err := pgxpool.New(context.Background(), "postgres://u:p@127.0.0.1:1/trivia?sslmode=disable&connect_timeout=1")
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err = ledger.NewPostgres(pool).TopScores(ctx, 10)
	require.Error(t, err)
	assert.True(t, apperrors.IsLedgerFailure(err))

	_, err = ledger.NewPostgres(pool).Append(ctx, "a", 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsLedgerFailure(err))
}
