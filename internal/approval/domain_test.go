package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateLevels(t *testing.T) {
	valid := []Level{
		{LevelNo: 1, ApproverSpec: ApproverSpec{Role: "finance"}},
		{LevelNo: 2, ApproverSpec: ApproverSpec{UserID: 42}, MaxAmountMinor: 500000},
	}
	require.NoError(t, ValidateLevels(valid))

	require.ErrorIs(t, ValidateLevels(nil), ErrValidation)

	both := []Level{{LevelNo: 1, ApproverSpec: ApproverSpec{UserID: 7, Role: "finance"}}}
	require.ErrorIs(t, ValidateLevels(both), ErrValidation)

	neither := []Level{{LevelNo: 1}}
	require.ErrorIs(t, ValidateLevels(neither), ErrValidation)

	dup := []Level{
		{LevelNo: 1, ApproverSpec: ApproverSpec{UserID: 7}},
		{LevelNo: 1, ApproverSpec: ApproverSpec{UserID: 8}},
	}
	require.ErrorIs(t, ValidateLevels(dup), ErrValidation)
}

func TestDecodeLevelsLenientAndSorted(t *testing.T) {
	raw := []byte(`[
		{"level_no":2,"approver_user_id":42},
		{"level_no":1,"approver_role":"finance"},
		{"level_no":3}
	]`)
	levels, err := DecodeLevels(raw)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	require.Equal(t, 1, levels[0].LevelNo)
	require.Equal(t, "finance", levels[0].Role)
	require.EqualValues(t, 42, levels[1].UserID)
	// The malformed level loads but can never resolve an approver.
	require.Zero(t, levels[2].UserID)
	require.Empty(t, levels[2].Role)
}

func TestRuleMatches(t *testing.T) {
	rule := Rule{ThresholdMinMinor: 10000, ThresholdMaxMinor: 100000}
	require.False(t, rule.Matches(9999))
	require.True(t, rule.Matches(10000))
	require.True(t, rule.Matches(100000))
	require.False(t, rule.Matches(100001))

	unbounded := Rule{ThresholdMinMinor: 10000}
	require.True(t, unbounded.Matches(1_000_000_00))
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDelegationCovers(t *testing.T) {
	d := Delegation{StartsAt: day("2026-08-01"), EndsAt: day("2026-08-31")}
	require.True(t, d.Covers(day("2026-08-01")))
	require.True(t, d.Covers(day("2026-08-31")))
	require.True(t, d.Covers(time.Date(2026, 8, 31, 23, 59, 0, 0, time.UTC)))
	require.False(t, d.Covers(day("2026-07-31")))
	require.False(t, d.Covers(day("2026-09-01")))
}

func TestActiveDelegateMostRecentWins(t *testing.T) {
	older := Delegation{ID: 1, DelegateUserID: 11, StartsAt: day("2026-08-01"), EndsAt: day("2026-08-31"), CreatedAt: day("2026-07-01")}
	newer := Delegation{ID: 2, DelegateUserID: 22, StartsAt: day("2026-08-10"), EndsAt: day("2026-08-20"), CreatedAt: day("2026-07-15")}
	outside := Delegation{ID: 3, DelegateUserID: 33, StartsAt: day("2026-09-01"), EndsAt: day("2026-09-30"), CreatedAt: day("2026-07-20")}

	got := ActiveDelegate([]Delegation{older, newer, outside}, day("2026-08-15"))
	require.NotNil(t, got)
	require.EqualValues(t, 22, got.DelegateUserID)

	// Outside the newer range only the older one covers.
	got = ActiveDelegate([]Delegation{older, newer, outside}, day("2026-08-25"))
	require.NotNil(t, got)
	require.EqualValues(t, 11, got.DelegateUserID)

	require.Nil(t, ActiveDelegate([]Delegation{older, newer}, day("2026-10-01")))

	// Equal creation times fall back to the higher id.
	a := Delegation{ID: 1, DelegateUserID: 11, StartsAt: day("2026-08-01"), EndsAt: day("2026-08-31"), CreatedAt: day("2026-07-01")}
	b := Delegation{ID: 2, DelegateUserID: 22, StartsAt: day("2026-08-01"), EndsAt: day("2026-08-31"), CreatedAt: day("2026-07-01")}
	got = ActiveDelegate([]Delegation{a, b}, day("2026-08-15"))
	require.EqualValues(t, 22, got.DelegateUserID)
}
