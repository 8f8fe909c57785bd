package models

type Phase string

const (
	PhaseNotStarted        Phase = "not-started"
	PhaseTakingSubmissions Phase = "taking-submissions"
	PhaseVoting            Phase = "voting"
	PhaseEnded             Phase = "ended"

	// PhaseReset is never a resting value. Finding it persisted at startup
	// means a reset was requested and the whole state must be wiped.
	PhaseReset Phase = "reset"
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseNotStarted, PhaseTakingSubmissions, PhaseVoting, PhaseEnded:
		return true
	}
	return false
}

// PollRef identifies the currently open poll: the poll itself plus the two
// chat messages attached to it, the poll message (pinned while the poll is
// open) and the announcement message carrying the competing animations.
type PollRef struct {
	PollID            string `json:"poll_id"`
	MessageID         int    `json:"message_id"`
	AnnounceMessageID int    `json:"announce_message_id"`
}

// TournamentState is the persisted state of the tournament, assembled from
// the individual store keys. Fields beyond Phase exist only in the phases
// that need them; which combinations are legal is enforced at startup.
type TournamentState struct {
	Phase             Phase
	GroupID           *int64
	CurrentMatch      *int
	CurrentPoll       *PollRef
	CurrentPollStart  *int64
	CurrentVoterCount *int
	Matches           []Match
	Seeding           []string
}
