package reward

import (
	"context"
	"errors"
	"testing"

	"github.com/bountyboard/bountyboard/services/catalog"
	"github.com/bountyboard/bountyboard/services/ledger"
	"github.com/bountyboard/bountyboard/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

type fakeAssigner struct {
	assigned []string
	removed  []string
	fail     bool
}

func (f *fakeAssigner) AssignRole(ctx context.Context, guildID, memberID, roleID string) error {
	if f.fail {
		return errors.New("connector unavailable")
	}
	f.assigned = append(f.assigned, roleID)
	return nil
}

func (f *fakeAssigner) RemoveRole(ctx context.Context, guildID, memberID, roleID string) error {
	f.removed = append(f.removed, roleID)
	return nil
}

type fixture struct {
	catalog   *catalog.Service
	ledger    *ledger.Service
	evaluator *Evaluator
	assigner  *fakeAssigner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&ledger.Member{},
		&catalog.RequestDef{},
		&catalog.RewardDef{},
		&catalog.AchievementDef{},
		&catalog.RequestAttribution{},
		&catalog.RewardAttribution{},
		&catalog.AchievementAttribution{},
	)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cat := catalog.NewService(catalog.ServiceParams{DB: db, Node: node})
	led := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	assigner := &fakeAssigner{}

	ev := NewEvaluator(EvaluatorParams{
		Catalog:  cat,
		Ledger:   led,
		Granters: NewRegistry(NewRoleGranter(assigner), NewThemeGranter()),
	})

	return &fixture{catalog: cat, ledger: led, evaluator: ev, assigner: assigner}
}

func (f *fixture) member(t *testing.T, guildID, memberID string, points int64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.EnsureMember(ctx, guildID, memberID, memberID)
	require.NoError(t, err)
	if points != 0 {
		require.NoError(t, f.ledger.AddPoints(ctx, guildID, memberID, points))
	}
}

func TestEvaluateMember_MilestoneThreshold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.member(t, "g1", "alice", 40)

	_, err := f.catalog.RegisterReward(ctx, "g1", "veteran", catalog.ConditionMilestone, catalog.KindRole, "role-42", 50)
	require.NoError(t, err)

	res, err := f.evaluator.EvaluateMember(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Empty(t, res.Rewards)
	require.Empty(t, f.assigner.assigned)

	require.NoError(t, f.ledger.AddPoints(ctx, "g1", "alice", 10))

	res, err = f.evaluator.EvaluateMember(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Len(t, res.Rewards, 1)
	require.Equal(t, "veteran", res.Rewards[0].Name)
	require.Equal(t, []string{"role-42"}, f.assigner.assigned)
}

func TestEvaluateMember_NeverGrantsTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.member(t, "g1", "alice", 100)

	_, err := f.catalog.RegisterReward(ctx, "g1", "veteran", catalog.ConditionMilestone, catalog.KindRole, "role-42", 50)
	require.NoError(t, err)

	res, err := f.evaluator.EvaluateMember(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Len(t, res.Rewards, 1)

	res, err = f.evaluator.EvaluateMember(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Empty(t, res.Rewards)
	require.Len(t, f.assigner.assigned, 1)
}

func TestEvaluateMember_SpendingDoesNotRevokeMilestones(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.member(t, "g1", "alice", 60)

	_, err := f.catalog.RegisterReward(ctx, "g1", "veteran", catalog.ConditionMilestone, catalog.KindRole, "role-42", 50)
	require.NoError(t, err)

	_, err = f.evaluator.EvaluateMember(ctx, "g1", "alice")
	require.NoError(t, err)

	// Spending lowers the balance, not the lifetime total the milestone
	// was granted against.
	ok, err := f.ledger.ChargeIfSufficient(ctx, "g1", "alice", 55)
	require.NoError(t, err)
	require.True(t, ok)

	owned, err := f.catalog.RewardAttributions(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Len(t, owned, 1)
}

func TestEvaluateMember_GrantFailureKeepsAttribution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.member(t, "g1", "alice", 100)
	f.assigner.fail = true

	def, err := f.catalog.RegisterReward(ctx, "g1", "veteran", catalog.ConditionMilestone, catalog.KindRole, "role-42", 50)
	require.NoError(t, err)

	res, err := f.evaluator.EvaluateMember(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Len(t, res.Rewards, 1)

	owned, err := f.catalog.RewardAttributions(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Equal(t, []string{def.ID}, owned)
}

func TestEvaluateMember_AchievementAllPartsRequired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.member(t, "g1", "alice", 10)

	req, err := f.catalog.RegisterRequest(ctx, "g1", "bug", "crash on start", "fixed", 5)
	require.NoError(t, err)

	ach, err := f.catalog.RegisterAchievement(ctx, "g1", "first blood", "close your first bug", nil, catalog.UnlockCondition{
		RequestIDs: []string{req.ID},
		MinPoints:  5,
	})
	require.NoError(t, err)

	res, err := f.evaluator.EvaluateMember(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Empty(t, res.Achievements)

	_, err = f.catalog.AttributeRequest(ctx, "g1", "alice", req.ID)
	require.NoError(t, err)

	res, err = f.evaluator.EvaluateMember(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Len(t, res.Achievements, 1)
	require.Equal(t, ach.ID, res.Achievements[0].ID)

	// Unlocked achievements are not re-reported.
	res, err = f.evaluator.EvaluateMember(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Empty(t, res.Achievements)
}

func TestEvaluateMember_DanglingConditionSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.member(t, "g1", "alice", 100)

	req, err := f.catalog.RegisterRequest(ctx, "g1", "bug", "crash on start", "fixed", 5)
	require.NoError(t, err)

	ach, err := f.catalog.RegisterAchievement(ctx, "g1", "first blood", "", nil, catalog.UnlockCondition{
		RequestIDs: []string{req.ID},
	})
	require.NoError(t, err)

	require.NoError(t, f.catalog.DeleteRequest(ctx, "g1", "bug", "crash on start", "fixed"))

	res, err := f.evaluator.EvaluateMember(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Empty(t, res.Achievements)
	require.Equal(t, []string{ach.ID}, res.Dangling)

	unlocked, err := f.catalog.AchievementAttributions(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Empty(t, unlocked)
}

func TestEvaluateMember_ExpressionCondition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.member(t, "g1", "alice", 30)

	_, err := f.catalog.RegisterAchievement(ctx, "g1", "big spender", "", nil, catalog.UnlockCondition{
		Expr: "points >= 100",
	})
	require.NoError(t, err)

	res, err := f.evaluator.EvaluateMember(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Empty(t, res.Achievements)

	require.NoError(t, f.ledger.AddPoints(ctx, "g1", "alice", 70))

	res, err = f.evaluator.EvaluateMember(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Len(t, res.Achievements, 1)
}

func TestEvaluateMember_UnknownMemberIsNoop(t *testing.T) {
	f := newFixture(t)

	res, err := f.evaluator.EvaluateMember(context.Background(), "g1", "ghost")
	require.NoError(t, err)
	require.Empty(t, res.Rewards)
	require.Empty(t, res.Achievements)
}
