package models

import (
	"errors"
	"time"
)

// PetitionState is the moderation state of a petition. Petitions are owned by
// the moderation side of the site; this service only reads them and bumps
// their signature counters.
type PetitionState string

// Possible values for PetitionState
const (
	PetitionPending   PetitionState = "pending"
	PetitionValidated PetitionState = "validated"
	PetitionSponsored PetitionState = "sponsored"
	PetitionFlagged   PetitionState = "flagged"
	PetitionHidden    PetitionState = "hidden"
	PetitionStopped   PetitionState = "stopped"
	PetitionOpen      PetitionState = "open"
	PetitionClosed    PetitionState = "closed"
	PetitionRejected  PetitionState = "rejected"
)

// Petition mirrors a row of the petitions table.
type Petition struct {
	ID                         int64         `db:"id" json:"id"`
	Action                     string        `db:"action" json:"action"`
	State                      PetitionState `db:"state" json:"state"`
	SponsorToken               string        `db:"sponsor_token" json:"-"`
	OpenedAt                   *time.Time    `db:"opened_at" json:"opened_at,omitempty"`
	ClosedAt                   *time.Time    `db:"closed_at" json:"closed_at,omitempty"`
	SignatureCount             int           `db:"signature_count" json:"signature_count"`
	ResponseThresholdReachedAt *time.Time    `db:"response_threshold_reached_at" json:"response_threshold_reached_at,omitempty"`
	DebateThresholdReachedAt   *time.Time    `db:"debate_threshold_reached_at" json:"debate_threshold_reached_at,omitempty"`
	CreatedAt                  time.Time     `db:"created_at" json:"created_at"`
}

// DispositionKind says what a petition currently allows signers to do.
type DispositionKind int

// Possible values for DispositionKind
const (
	// Not visible to the public: flagged, hidden, stopped.
	DispositionHidden DispositionKind = iota
	// Still collecting sponsors before moderation.
	DispositionGathering
	DispositionOpen
	// Closed within the grace period; outstanding confirmations still count.
	DispositionClosedRecently
	DispositionClosed
	DispositionRejected
)

var dispositionNames = map[DispositionKind]string{
	DispositionHidden:         "hidden",
	DispositionGathering:      "gathering",
	DispositionOpen:           "open",
	DispositionClosedRecently: "closed_recently",
	DispositionClosed:         "closed",
	DispositionRejected:       "rejected",
}

func (k DispositionKind) String() string {
	return dispositionNames[k]
}

// Notices shown when someone tries to sign a petition that isn't open.
const (
	RejectedNotice = "Sorry, you can't sign petitions that have been rejected"
	ClosedNotice   = "Sorry, you can't sign petitions that have been closed"
)

// Disposition is computed once per request from a petition and the current
// time, and handed to the signing workflow.
type Disposition struct {
	Kind     DispositionKind
	ClosedAt time.Time // only set for the closed kinds
}

// Disposition classifies the petition at time now. Petitions closed less than
// grace ago are DispositionClosedRecently.
func (p Petition) Disposition(now time.Time, grace time.Duration) Disposition {
	switch p.State {
	case PetitionPending, PetitionValidated, PetitionSponsored:
		return Disposition{Kind: DispositionGathering}
	case PetitionOpen:
		return Disposition{Kind: DispositionOpen}
	case PetitionRejected:
		return Disposition{Kind: DispositionRejected}
	case PetitionClosed:
		var closedAt time.Time
		if p.ClosedAt != nil {
			closedAt = *p.ClosedAt
		}
		if now.Before(closedAt.Add(grace)) {
			return Disposition{Kind: DispositionClosedRecently, ClosedAt: closedAt}
		}
		return Disposition{Kind: DispositionClosed, ClosedAt: closedAt}
	}
	return Disposition{Kind: DispositionHidden}
}

// Visible reports whether the petition can be shown to the public at all.
func (d Disposition) Visible() bool {
	return d.Kind != DispositionHidden && d.Kind != DispositionGathering
}

// Notice is the user-facing message for a petition that can't be signed.
func (d Disposition) Notice() string {
	switch d.Kind {
	case DispositionRejected:
		return RejectedNotice
	case DispositionClosed, DispositionClosedRecently:
		return ClosedNotice
	}
	return ""
}

// Thresholds are the signature counts at which a petition earns a government
// response and a debate.
type Thresholds struct {
	Response int
	Debate   int
}

// ErrNoPetition is returned by petition stores when the id is unknown.
var ErrNoPetition = errors.New("no such petition")
