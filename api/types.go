package api

import (
	"time"

	"github.com/BaSui01/leadflow/types"
)

// ReplyWebhookRequest is the inbound reply payload posted by channel
// providers (email webhook, call transcription callback).
type ReplyWebhookRequest struct {
	// Lead the reply belongs to.
	LeadID string `json:"lead_id"`
	// Channel the reply arrived on; defaults to email.
	Channel string `json:"channel,omitempty"`

	FromAddress string `json:"from_address,omitempty"`
	ToAddress   string `json:"to_address,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Body        string `json:"body"`

	// Provider-side classification of non-human traffic.
	IsAutoReply   bool `json:"is_auto_reply,omitempty"`
	IsOutOfOffice bool `json:"is_out_of_office,omitempty"`
	IsBounce      bool `json:"is_bounce,omitempty"`

	// Defaults to ingestion time when absent.
	ReceivedAt *time.Time `json:"received_at,omitempty"`
}

// ReplyWebhookResponse acknowledges an ingested reply.
type ReplyWebhookResponse struct {
	ReplyID           string                  `json:"reply_id"`
	LeadID            string                  `json:"lead_id"`
	ConversationState types.ConversationState `json:"conversation_state"`
}
