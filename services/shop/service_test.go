package shop

import (
	"context"
	"testing"

	"github.com/bountyboard/bountyboard/pkg/errutil"
	"github.com/bountyboard/bountyboard/services/catalog"
	"github.com/bountyboard/bountyboard/services/ledger"
	"github.com/bountyboard/bountyboard/services/reward"
	"github.com/bountyboard/bountyboard/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

type recordingAssigner struct {
	assigned []string
	removed  []string
}

func (r *recordingAssigner) AssignRole(ctx context.Context, guildID, memberID, roleID string) error {
	r.assigned = append(r.assigned, roleID)
	return nil
}

func (r *recordingAssigner) RemoveRole(ctx context.Context, guildID, memberID, roleID string) error {
	r.removed = append(r.removed, roleID)
	return nil
}

type fixture struct {
	catalog  *catalog.Service
	ledger   *ledger.Service
	shop     *Service
	assigner *recordingAssigner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&ledger.Member{},
		&catalog.RequestDef{},
		&catalog.RewardDef{},
		&catalog.RewardAttribution{},
	)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cat := catalog.NewService(catalog.ServiceParams{DB: db, Node: node})
	led := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	assigner := &recordingAssigner{}

	svc := NewService(ServiceParams{
		Catalog:  cat,
		Ledger:   led,
		Granters: reward.NewRegistry(reward.NewRoleGranter(assigner), reward.NewThemeGranter()),
	})

	return &fixture{catalog: cat, ledger: led, shop: svc, assigner: assigner}
}

func (f *fixture) member(t *testing.T, guildID, memberID string, points int64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.EnsureMember(ctx, guildID, memberID, memberID)
	require.NoError(t, err)
	require.NoError(t, f.ledger.AddPoints(ctx, guildID, memberID, points))
}

func requireCode(t *testing.T, err error, code errutil.CoreStatus) {
	t.Helper()
	require.Error(t, err)
	base, ok := err.(errutil.BaseError)
	require.True(t, ok, "expected errutil.BaseError, got %T", err)
	require.Equal(t, code, base.Code)
}

func TestBuy_ChargesAndGrants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.member(t, "g1", "alice", 100)

	def, err := f.catalog.RegisterReward(ctx, "g1", "gold role", catalog.ConditionBought, catalog.KindRole, "role-7", 60)
	require.NoError(t, err)

	bought, err := f.shop.Buy(ctx, "g1", "alice", def.ID)
	require.NoError(t, err)
	require.Equal(t, def.ID, bought.ID)
	require.Equal(t, []string{"role-7"}, f.assigner.assigned)

	m, err := f.ledger.Get(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Equal(t, int64(100), m.Points)
	require.Equal(t, int64(60), m.Spent)
	require.Equal(t, int64(40), m.Balance())
}

func TestBuy_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.member(t, "g1", "alice", 50)

	def, err := f.catalog.RegisterReward(ctx, "g1", "gold role", catalog.ConditionBought, catalog.KindRole, "role-7", 60)
	require.NoError(t, err)

	_, err = f.shop.Buy(ctx, "g1", "alice", def.ID)
	requireCode(t, err, errutil.StatusUnprocessableEntity)

	m, err := f.ledger.Get(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Equal(t, int64(0), m.Spent)
	require.Empty(t, f.assigner.assigned)
}

func TestBuy_ExactBalanceSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.member(t, "g1", "alice", 60)

	def, err := f.catalog.RegisterReward(ctx, "g1", "gold role", catalog.ConditionBought, catalog.KindRole, "role-7", 60)
	require.NoError(t, err)

	_, err = f.shop.Buy(ctx, "g1", "alice", def.ID)
	require.NoError(t, err)

	m, err := f.ledger.Get(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Equal(t, int64(0), m.Balance())
}

func TestBuy_AlreadyOwned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.member(t, "g1", "alice", 200)

	def, err := f.catalog.RegisterReward(ctx, "g1", "gold role", catalog.ConditionBought, catalog.KindRole, "role-7", 60)
	require.NoError(t, err)

	_, err = f.shop.Buy(ctx, "g1", "alice", def.ID)
	require.NoError(t, err)

	_, err = f.shop.Buy(ctx, "g1", "alice", def.ID)
	requireCode(t, err, errutil.StatusConflict)

	// The second attempt is rejected before any charge.
	m, err := f.ledger.Get(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Equal(t, int64(60), m.Spent)
}

func TestBuy_RepeatWithExhaustedBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.member(t, "g1", "alice", 60)

	def, err := f.catalog.RegisterReward(ctx, "g1", "gold role", catalog.ConditionBought, catalog.KindRole, "role-7", 60)
	require.NoError(t, err)

	_, err = f.shop.Buy(ctx, "g1", "alice", def.ID)
	require.NoError(t, err)

	// With the balance spent down to zero, repeating the purchase reads as
	// insufficient funds rather than a duplicate.
	_, err = f.shop.Buy(ctx, "g1", "alice", def.ID)
	requireCode(t, err, errutil.StatusUnprocessableEntity)

	m, err := f.ledger.Get(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Equal(t, int64(60), m.Spent)
}

func TestBuy_RefundsWhenOwnershipRaceLost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.member(t, "g1", "alice", 100)

	def, err := f.catalog.RegisterReward(ctx, "g1", "gold role", catalog.ConditionBought, catalog.KindRole, "role-7", 60)
	require.NoError(t, err)

	// A concurrent purchase lands between the ownership check and the
	// charge: the attribution already exists when this charge goes through.
	granted, err := f.catalog.AttributeReward(ctx, "g1", "alice", def.ID, true)
	require.NoError(t, err)
	require.True(t, granted)

	err = f.shop.chargeAndGrant(ctx, "g1", "alice", def)
	requireCode(t, err, errutil.StatusConflict)

	// The loser's charge is put back.
	m, err := f.ledger.Get(ctx, "g1", "alice")
	require.NoError(t, err)
	require.Equal(t, int64(0), m.Spent)
	require.Equal(t, int64(100), m.Balance())
}

func TestBuy_RejectsNonPurchasable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.member(t, "g1", "alice", 200)

	def, err := f.catalog.RegisterReward(ctx, "g1", "veteran", catalog.ConditionMilestone, catalog.KindRole, "role-7", 60)
	require.NoError(t, err)

	_, err = f.shop.Buy(ctx, "g1", "alice", def.ID)
	requireCode(t, err, errutil.StatusUnprocessableEntity)
}

func TestBuy_UnknownReward(t *testing.T) {
	f := newFixture(t)
	f.member(t, "g1", "alice", 200)

	_, err := f.shop.Buy(context.Background(), "g1", "alice", "nope")
	requireCode(t, err, errutil.StatusNotFound)
}

func TestToggle_FlipsRoleOnAndOff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.member(t, "g1", "alice", 100)

	def, err := f.catalog.RegisterReward(ctx, "g1", "gold role", catalog.ConditionBought, catalog.KindRole, "role-7", 10)
	require.NoError(t, err)

	_, err = f.shop.Buy(ctx, "g1", "alice", def.ID)
	require.NoError(t, err)

	active, err := f.shop.Toggle(ctx, "g1", "alice", def.ID)
	require.NoError(t, err)
	require.False(t, active)
	require.Equal(t, []string{"role-7"}, f.assigner.removed)

	active, err = f.shop.Toggle(ctx, "g1", "alice", def.ID)
	require.NoError(t, err)
	require.True(t, active)
	require.Equal(t, []string{"role-7", "role-7"}, f.assigner.assigned)
}

func TestToggle_RequiresOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.member(t, "g1", "alice", 100)

	def, err := f.catalog.RegisterReward(ctx, "g1", "gold role", catalog.ConditionBought, catalog.KindRole, "role-7", 10)
	require.NoError(t, err)

	_, err = f.shop.Toggle(ctx, "g1", "alice", def.ID)
	requireCode(t, err, errutil.StatusUnprocessableEntity)
}

func TestToggle_RejectsThemes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.member(t, "g1", "alice", 100)

	def, err := f.catalog.RegisterReward(ctx, "g1", "dark theme", catalog.ConditionBought, catalog.KindTheme, "dark", 10)
	require.NoError(t, err)

	_, err = f.shop.Buy(ctx, "g1", "alice", def.ID)
	require.NoError(t, err)

	_, err = f.shop.Toggle(ctx, "g1", "alice", def.ID)
	requireCode(t, err, errutil.StatusUnprocessableEntity)
}

func TestCatalog_ListsOnlyPurchasable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.catalog.RegisterReward(ctx, "g1", "gold role", catalog.ConditionBought, catalog.KindRole, "role-7", 10)
	require.NoError(t, err)
	_, err = f.catalog.RegisterReward(ctx, "g1", "veteran", catalog.ConditionMilestone, catalog.KindRole, "role-8", 50)
	require.NoError(t, err)

	defs, err := f.shop.Catalog(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.Equal(t, "gold role", defs[0].Name)
}
