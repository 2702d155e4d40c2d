package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/bountyboard/bountyboard/pkg/errutil"
	"github.com/bountyboard/bountyboard/services/catalog"
	"github.com/bountyboard/bountyboard/services/guild"
	"github.com/bountyboard/bountyboard/services/ledger"
	"github.com/bountyboard/bountyboard/services/reward"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Engine drives the submission lifecycle: admission gate, the type → name
// → effect selection steps, review handoff, and the accept/deny
// settlement. It is the only owner of the correlation cache; the ledger
// and catalog stay the source of truth for everything durable.
type Engine struct {
	cache     *Cache
	guilds    *guild.Service
	ledger    *ledger.Service
	catalog   *catalog.Service
	evaluator *reward.Evaluator

	choices singleflight.Group
}

type EngineParams struct {
	fx.In

	Cache     *Cache
	Guilds    *guild.Service
	Ledger    *ledger.Service
	Catalog   *catalog.Service
	Evaluator *reward.Evaluator
}

func NewEngine(p EngineParams) *Engine {
	return &Engine{
		cache:     p.Cache,
		guilds:    p.Guilds,
		ledger:    p.Ledger,
		catalog:   p.Catalog,
		evaluator: p.Evaluator,
	}
}

// Admit runs the admission gate for an inbound image. A rejected admission
// leaves both the cache and the ledger untouched.
func (e *Engine) Admit(ctx context.Context, sub Submission, now time.Time) (*AdmitResult, error) {
	g, err := e.guilds.Get(ctx, sub.GuildID)
	if err != nil {
		return nil, err
	}
	if g == nil || sub.Channel != g.SubmissionChannel {
		// Images outside the submission channel are ordinary chatter.
		return &AdmitResult{Status: AdmitIgnored}, nil
	}

	m, err := e.ledger.Get(ctx, sub.GuildID, sub.MemberID)
	if err != nil {
		return nil, err
	}
	if m != nil && m.NextEligibleAt != nil && m.NextEligibleAt.After(now) {
		return &AdmitResult{Status: AdmitCooldown, NextEligible: *m.NextEligibleAt}, nil
	}

	types, err := e.distinct(ctx, sub.GuildID, StepType, "", "")
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return &AdmitResult{Status: AdmitEmptyCatalog}, nil
	}

	if _, err := e.ledger.EnsureMember(ctx, sub.GuildID, sub.MemberID, sub.Nickname); err != nil {
		return nil, err
	}

	key := Key{MemberID: sub.MemberID, MessageID: sub.MessageID}
	e.cache.Put(key, &Entry{
		GuildID:      sub.GuildID,
		Images:       sub.Images,
		Participants: participants(sub.MemberID, sub.Mentioned),
		State:        StateAdmitted,
	})

	zap.L().Info("submission admitted",
		zap.String("guild_id", sub.GuildID),
		zap.String("member_id", sub.MemberID),
		zap.String("message_id", sub.MessageID),
		zap.Int("images", len(sub.Images)),
	)

	return &AdmitResult{Status: AdmitOK, Key: key, Choices: types}, nil
}

// Choose records the value picked for one selection step and offers the
// next step's options. Choosing the effect hands the submission over for
// review.
func (e *Engine) Choose(ctx context.Context, key Key, step Step, value string, now time.Time) (*ChooseResult, error) {
	if value == "" {
		return nil, errutil.BadRequest("choice value is required", nil)
	}

	var snap Entry
	ok := e.cache.Update(key, func(en *Entry) {
		// Re-choosing an earlier step overwrites its field and rewinds the
		// state; the stale downstream fields stay and are narrowed again by
		// the following steps.
		switch step {
		case StepType:
			en.Type = strings.ToLower(value)
			en.State = StateTypeChosen
		case StepName:
			en.Name = value
			en.State = StateNameChosen
		case StepEffect:
			en.Effect = value
			en.State = StateSubmitted
		}
		snap = *en
	})
	if !ok {
		return &ChooseResult{Status: ChooseLostTrack}, nil
	}

	switch step {
	case StepType:
		return e.offer(ctx, snap.GuildID, StepName, snap.Type, "")
	case StepName:
		return e.offer(ctx, snap.GuildID, StepEffect, snap.Type, snap.Name)
	case StepEffect:
		return e.handoff(ctx, key, snap, now)
	default:
		return nil, errutil.BadRequest("unknown selection step", nil)
	}
}

func (e *Engine) offer(ctx context.Context, guildID string, next Step, reqType, name string) (*ChooseResult, error) {
	values, err := e.distinct(ctx, guildID, next, reqType, name)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return &ChooseResult{Status: ChooseStalled}, nil
	}
	return &ChooseResult{Status: ChooseNext, Next: next, Choices: values}, nil
}

// handoff resolves the completed triple and consumes the submitter's
// cooldown. A pending review already blocks the next submission; a denial
// rolls the cooldown back.
func (e *Engine) handoff(ctx context.Context, key Key, snap Entry, now time.Time) (*ChooseResult, error) {
	def, err := e.catalog.ResolveRequest(ctx, snap.GuildID, snap.Type, snap.Name, snap.Effect)
	if err != nil {
		return nil, err
	}
	if def == nil {
		// Catalog changed mid-flow. The entry stays; the TTL reaper
		// collects it if nobody re-chooses.
		return &ChooseResult{Status: ChooseDrift}, nil
	}

	g, err := e.guilds.Get(ctx, snap.GuildID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return &ChooseResult{Status: ChooseDrift}, nil
	}

	m, err := e.ledger.EnsureMember(ctx, snap.GuildID, key.MemberID, key.MemberID)
	if err != nil {
		return nil, err
	}

	next := ledger.NextEligible(m.NextEligibleAt, now, g.CooldownHours)
	if err := e.ledger.SetNextEligible(ctx, snap.GuildID, key.MemberID, next); err != nil {
		return nil, err
	}

	zap.L().Info("submission handed to review",
		zap.String("guild_id", snap.GuildID),
		zap.String("member_id", key.MemberID),
		zap.String("request_id", def.ID),
		zap.Time("next_eligible", next),
	)

	return &ChooseResult{
		Status: ChooseReview,
		Review: &ReviewSummary{
			Key:          key,
			Images:       snap.Images,
			Participants: snap.Participants,
			Type:         def.Type,
			Name:         def.Name,
			Effect:       def.Effect,
			Value:        def.Value,
			RequestID:    def.ID,
			NextEligible: next,
		},
	}, nil
}

// Accept settles a submission in favor of its participants. Removing the
// cache entry is the ownership-transfer point: of two racing settlement
// attempts, exactly one proceeds and the other reports expiry.
func (e *Engine) Accept(ctx context.Context, key Key, value int64, moderator string) (*Settlement, error) {
	span := trace.SpanFromContext(ctx)

	entry, ok := e.cache.Take(key)
	if !ok {
		return &Settlement{Status: SettleExpired}, nil
	}

	def, err := e.catalog.ResolveRequest(ctx, entry.GuildID, entry.Type, entry.Name, entry.Effect)
	if err != nil {
		return nil, err
	}
	label := "unknown request"
	if def != nil {
		label = def.Label()
	}

	evaluations := make(map[string]*reward.Evaluation, len(entry.Participants))
	for _, p := range entry.Participants {
		if _, err := e.ledger.EnsureMember(ctx, entry.GuildID, p, p); err != nil {
			return nil, err
		}
		if err := e.ledger.AddPoints(ctx, entry.GuildID, p, value); err != nil {
			return nil, err
		}
		if err := e.ledger.SetLastSubmission(ctx, entry.GuildID, p, label); err != nil {
			return nil, err
		}
		if def != nil {
			if _, err := e.catalog.AttributeRequest(ctx, entry.GuildID, p, def.ID); err != nil {
				return nil, err
			}
		}
		ev, err := e.evaluator.EvaluateMember(ctx, entry.GuildID, p)
		if err != nil {
			return nil, err
		}
		evaluations[p] = ev
	}

	zap.L().Info("submission accepted",
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("guild_id", entry.GuildID),
		zap.String("moderator_id", moderator),
		zap.Strings("participants", entry.Participants),
		zap.Int64("value", value),
	)

	return &Settlement{
		Status:       SettleDone,
		Participants: entry.Participants,
		Value:        value,
		Moderator:    moderator,
		RequestLabel: label,
		Evaluations:  evaluations,
	}, nil
}

// Deny settles a submission against the submitter. Points are untouched;
// the cooldown consumed at handoff is rolled back so the denial does not
// also cost the member a waiting period.
func (e *Engine) Deny(ctx context.Context, key Key, value int64, moderator, reason string) (*Settlement, error) {
	entry, ok := e.cache.Take(key)
	if !ok {
		return &Settlement{Status: SettleExpired}, nil
	}

	g, err := e.guilds.Get(ctx, entry.GuildID)
	if err != nil {
		return nil, err
	}
	if g != nil && len(entry.Participants) > 0 {
		if err := e.ledger.RollbackCooldown(ctx, entry.GuildID, entry.Participants[0], g.CooldownHours); err != nil {
			return nil, err
		}
	}

	zap.L().Info("submission denied",
		zap.String("guild_id", entry.GuildID),
		zap.String("moderator_id", moderator),
		zap.String("reason", reason),
	)

	return &Settlement{
		Status:       SettleDone,
		Participants: entry.Participants,
		Value:        value,
		Moderator:    moderator,
		Reason:       reason,
	}, nil
}

// distinct loads one selection column, deduplicating concurrent loads of
// the same column across in-flight submissions.
func (e *Engine) distinct(ctx context.Context, guildID string, step Step, reqType, name string) ([]string, error) {
	sfKey := guildID + "\x00" + string(step) + "\x00" + reqType + "\x00" + name
	v, err, _ := e.choices.Do(sfKey, func() (interface{}, error) {
		switch step {
		case StepType:
			return e.catalog.DistinctTypes(ctx, guildID)
		case StepName:
			return e.catalog.DistinctNames(ctx, guildID, reqType)
		default:
			return e.catalog.DistinctEffects(ctx, guildID, reqType, name)
		}
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func participants(submitter string, mentioned []string) []string {
	out := []string{submitter}
	seen := map[string]bool{submitter: true}
	for _, id := range mentioned {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
