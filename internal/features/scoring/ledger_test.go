package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDeltaFormula(t *testing.T) {
	now := time.Now().UTC()

	cases := []struct {
		commits, comments, reviews int
		want                       int64
	}{
		{0, 0, 0, 0},
		{1, 0, 0, 10},
		{0, 1, 0, 5},
		{0, 0, 1, 15},
		{2, 3, 1, 50},
		{7, 11, 13, 320},
	}

	for _, tc := range cases {
		p := &Player{UserID: 1, GitHubLogin: "dev"}
		updated := ApplyDelta(p, ActivityDelta{Commits: tc.commits, Comments: tc.comments, Reviews: tc.reviews}, now)
		assert.Equal(t, tc.want, updated.Score,
			"commits=%d comments=%d reviews=%d", tc.commits, tc.comments, tc.reviews)
	}
}

func TestApplyDeltaAdvancesWatermarkOnZeroDelta(t *testing.T) {
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	p := &Player{UserID: 1, Score: 42, Watermark: old}
	updated := ApplyDelta(p, ActivityDelta{}, now)

	assert.Equal(t, int64(42), updated.Score)
	assert.True(t, updated.Watermark.Equal(now), "водяной знак должен продвинуться даже без активности")
}

func TestApplyDeltaCompletesChallenge(t *testing.T) {
	now := time.Now().UTC()
	ch := "Review one PR"

	p := &Player{UserID: 1, Score: 5, Challenge: &ch}
	updated := ApplyDelta(p, ActivityDelta{Commits: 1}, now)

	// 5 + 10 за коммит + 20 бонус
	assert.Equal(t, int64(35), updated.Score)
	assert.Nil(t, updated.Challenge, "челлендж закрывается любой положительной дельтой")
}

func TestApplyDeltaKeepsChallengeOnZeroDelta(t *testing.T) {
	now := time.Now().UTC()
	ch := "Open an issue"

	p := &Player{UserID: 1, Challenge: &ch}
	updated := ApplyDelta(p, ActivityDelta{}, now)

	assert.Equal(t, int64(0), updated.Score)
	require.NotNil(t, updated.Challenge)
	assert.Equal(t, ch, *updated.Challenge)
}

func TestApplyDeltaDoesNotMutateOriginal(t *testing.T) {
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ch := "x"
	p := &Player{UserID: 1, Score: 1, Challenge: &ch, Watermark: old}

	_ = ApplyDelta(p, ActivityDelta{Commits: 3}, time.Now().UTC())

	assert.Equal(t, int64(1), p.Score)
	assert.NotNil(t, p.Challenge)
	assert.True(t, p.Watermark.Equal(old))
}

func TestLedgerReturnsCopies(t *testing.T) {
	l := NewLedger()
	l.Put(&Player{UserID: 1, GitHubLogin: "dev", Badges: []string{BadgeBronze}})

	got, ok := l.Get(1)
	require.True(t, ok)
	got.Score = 999
	got.Badges[0] = "tampered"

	again, _ := l.Get(1)
	assert.Equal(t, int64(0), again.Score, "изменение копии не должно трогать реестр")
	assert.Equal(t, BadgeBronze, again.Badges[0])
}

func TestLedgerAllDeterministicOrder(t *testing.T) {
	l := NewLedger()
	l.Put(&Player{UserID: 30})
	l.Put(&Player{UserID: 10})
	l.Put(&Player{UserID: 20})

	all := l.All()
	require.Len(t, all, 3)
	assert.Equal(t, int64(10), all[0].UserID)
	assert.Equal(t, int64(20), all[1].UserID)
	assert.Equal(t, int64(30), all[2].UserID)
}
