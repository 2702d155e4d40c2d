package workflow

import (
	"time"

	"github.com/bountyboard/bountyboard/services/reward"
)

// Step identifies one selection stage of a submission.
type Step string

const (
	StepType   Step = "type"
	StepName   Step = "name"
	StepEffect Step = "effect"
)

// Submission is the inbound image event handed over by the presentation
// layer.
type Submission struct {
	GuildID   string
	MemberID  string
	Nickname  string
	Channel   string
	MessageID string
	Images    []string
	Mentioned []string
}

type AdmitStatus string

const (
	// AdmitIgnored covers the silent cases: unconfigured guild or an image
	// posted outside the submission channel.
	AdmitIgnored      AdmitStatus = "ignored"
	AdmitCooldown     AdmitStatus = "cooldown"
	AdmitEmptyCatalog AdmitStatus = "empty_catalog"
	AdmitOK           AdmitStatus = "admitted"
)

type AdmitResult struct {
	Status       AdmitStatus
	Key          Key
	Choices      []string  // request types, when admitted
	NextEligible time.Time // when Status is AdmitCooldown
}

type ChooseStatus string

const (
	// ChooseLostTrack means the correlation key has no entry: the process
	// restarted, the entry expired, or the submission already settled. The
	// member is asked to resubmit.
	ChooseLostTrack ChooseStatus = "lost_track"
	// ChooseStalled means no catalog row matches the chosen prefix; the
	// entry stays so an earlier step can be re-chosen.
	ChooseStalled ChooseStatus = "stalled"
	ChooseNext    ChooseStatus = "next"
	// ChooseDrift means the completed triple no longer resolves to a
	// definition; the entry is left for the TTL reaper.
	ChooseDrift  ChooseStatus = "drift"
	ChooseReview ChooseStatus = "review"
)

type ChooseResult struct {
	Status  ChooseStatus
	Next    Step
	Choices []string
	Review  *ReviewSummary
}

// ReviewSummary is everything the presentation layer needs to render the
// moderation message and parameterize its accept/deny actions.
type ReviewSummary struct {
	Key          Key
	Images       []string
	Participants []string
	Type         string
	Name         string
	Effect       string
	Value        int64
	RequestID    string
	NextEligible time.Time
}

type SettleStatus string

const (
	SettleExpired SettleStatus = "expired"
	SettleDone    SettleStatus = "settled"
)

// Settlement summarizes a terminal accept or deny for the renderer.
// Evaluations carries per-participant unlock results on accept.
type Settlement struct {
	Status       SettleStatus
	Participants []string
	Value        int64
	Moderator    string
	Reason       string
	RequestLabel string
	Evaluations  map[string]*reward.Evaluation
}
