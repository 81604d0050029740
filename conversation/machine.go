// Package conversation holds the per-lead dialogue state machine. The
// transitions are pure: Apply returns the next state plus effects as
// values, and the engine performs the I/O they describe.
package conversation

import (
	"context"
	"time"

	"github.com/BaSui01/leadflow/types"
)

// Signal is an event the state machine reacts to.
type Signal interface {
	signal()
}

// ReplyReceived is an inbound message from the lead. Auto-replies and
// bounces do not move the state.
type ReplyReceived struct {
	At      time.Time
	Auto    bool // auto-reply or out-of-office
	Bounce  bool
	Channel types.Channel
}

// AIResponded means the outbound AI reply went out.
type AIResponded struct {
	At time.Time
}

// GhostTimeout is raised by the ghost detector when the lead has been
// silent past its timeout with no re-engagements left.
type GhostTimeout struct {
	At time.Time
}

// ReengagementSent means a re-engagement nudge was delivered.
type ReengagementSent struct {
	At time.Time
}

// ManualReopen is an operator override pulling a lead out of ghosted.
type ManualReopen struct {
	At time.Time
}

func (ReplyReceived) signal()    {}
func (AIResponded) signal()      {}
func (GhostTimeout) signal()     {}
func (ReengagementSent) signal() {}
func (ManualReopen) signal()     {}

// Effect is a side effect the driver must apply after a transition.
type Effect interface {
	effect()
}

// PauseSequence records where the sequence stopped when the lead
// engaged.
type PauseSequence struct{}

// BumpFunnel advances the funnel status (forward only).
type BumpFunnel struct {
	To types.LeadStatus
}

// SetAIResponseTime refreshes the ghost-detection clock.
type SetAIResponseTime struct {
	At time.Time
}

// RecordLastReply stamps last_replied_at.
type RecordLastReply struct {
	At time.Time
}

// DisableChannel marks a channel permanently dead for the lead. Raised
// on bounces.
type DisableChannel struct {
	Channel types.Channel
}

func (PauseSequence) effect()     {}
func (BumpFunnel) effect()        {}
func (SetAIResponseTime) effect() {}
func (RecordLastReply) effect()   {}
func (DisableChannel) effect()    {}

// Apply computes the transition for one signal. It returns the next
// state and the effects the driver must perform. Signals that do not
// apply in the current state leave it unchanged with no effects.
func Apply(state types.ConversationState, sig Signal) (types.ConversationState, []Effect) {
	switch s := sig.(type) {
	case ReplyReceived:
		if s.Bounce {
			// Bounces never engage; they kill the channel.
			return state, []Effect{DisableChannel{Channel: s.Channel}}
		}
		if s.Auto {
			return state, nil
		}
		effects := []Effect{
			RecordLastReply{At: s.At},
			BumpFunnel{To: types.LeadEngaged},
		}
		switch state {
		case types.StateInSequence:
			effects = append(effects, PauseSequence{})
			return types.StateEngaged, effects
		case types.StateAwaitingReply, types.StateGhosted:
			return types.StateEngaged, effects
		case types.StateEngaged:
			return types.StateEngaged, effects
		}
		return state, nil

	case AIResponded:
		if state == types.StateEngaged {
			return types.StateAwaitingReply, []Effect{SetAIResponseTime{At: s.At}}
		}
		return state, nil

	case GhostTimeout:
		if state == types.StateAwaitingReply {
			return types.StateGhosted, nil
		}
		return state, nil

	case ReengagementSent:
		if state == types.StateAwaitingReply || state == types.StateGhosted {
			// The clock restarts; the lead gets another timeout window.
			return types.StateAwaitingReply, []Effect{SetAIResponseTime{At: s.At}}
		}
		return state, nil

	case ManualReopen:
		if state == types.StateGhosted {
			return types.StateEngaged, nil
		}
		return state, nil
	}

	return state, nil
}

// Classification is the structured result of classifying an inbound
// message.
type Classification struct {
	Intent      string
	Sentiment   string
	Confidence  float64
	BANTSignals []BANTSignal
	ReplyDraft  string
}

// BANTSignal is one qualification observation extracted from a reply.
type BANTSignal struct {
	Dimension types.BANTDimension
	Score     int
	Details   string
}

// Classifier extracts intent, sentiment, and qualification signals
// from a conversation. Implementations live outside this repo; the
// engine consumes the structured result only.
type Classifier interface {
	Classify(ctx context.Context, history []Message) (*Classification, error)
}

// Message is one turn of conversation history handed to a classifier.
type Message struct {
	Role    types.MessageRole
	Content string
	At      time.Time
}
