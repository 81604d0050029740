package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/leadflow/api"
	"github.com/BaSui01/leadflow/internal/ctxkeys"
	"github.com/BaSui01/leadflow/store"
	"github.com/BaSui01/leadflow/types"
)

// ReplyIngestor is the engine-side contract the webhook hands replies
// to.
type ReplyIngestor interface {
	HandleInboundReply(ctx context.Context, tenant *store.Tenant, reply *store.InboundReply) error
}

// ReplyHandler serves the inbound reply webhook. The tenant comes from
// the JWT middleware, never from the payload.
type ReplyHandler struct {
	store    *store.Store
	ingestor ReplyIngestor
	logger   *zap.Logger
}

func NewReplyHandler(s *store.Store, ingestor ReplyIngestor, logger *zap.Logger) *ReplyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplyHandler{
		store:    s,
		ingestor: ingestor,
		logger:   logger.With(zap.String("component", "reply_handler")),
	}
}

// HandleInbound serves POST /api/v1/replies.
func (h *ReplyHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", nil)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	tenantID, ok := ctxkeys.TenantID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "missing tenant", nil)
		return
	}

	var req api.ReplyWebhookRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	reply, apiErr := h.buildReply(tenantID, &req)
	if apiErr != nil {
		WriteError(w, apiErr, h.logger)
		return
	}

	tenant, err := h.store.Tenants.GetByID(r.Context(), tenantID)
	if err != nil {
		h.writeStoreError(w, err, "tenant lookup failed")
		return
	}

	if err := h.ingestor.HandleInboundReply(r.Context(), tenant, reply); err != nil {
		h.writeStoreError(w, err, "reply ingestion failed")
		return
	}

	lead, err := h.store.Leads.GetByID(r.Context(), tenantID, reply.LeadID)
	if err != nil {
		h.writeStoreError(w, err, "lead lookup failed")
		return
	}

	WriteJSON(w, http.StatusAccepted, Response{
		Success: true,
		Data: api.ReplyWebhookResponse{
			ReplyID:           reply.ID.String(),
			LeadID:            lead.ID.String(),
			ConversationState: lead.ConversationState,
		},
		Timestamp: time.Now(),
	})
}

func (h *ReplyHandler) buildReply(tenantID uuid.UUID, req *api.ReplyWebhookRequest) (*store.InboundReply, *types.Error) {
	leadID, err := uuid.Parse(req.LeadID)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "lead_id must be a UUID").WithCause(err)
	}
	if req.Body == "" && !req.IsBounce {
		return nil, types.NewError(types.ErrInvalidRequest, "body is required")
	}

	channel := types.ChannelEmail
	if req.Channel != "" {
		channel = types.Channel(req.Channel)
		switch channel {
		case types.ChannelEmail, types.ChannelVoice, types.ChannelLinkedIn:
		default:
			return nil, types.NewError(types.ErrInvalidRequest, "unknown channel")
		}
	}

	receivedAt := time.Now().UTC()
	if req.ReceivedAt != nil {
		receivedAt = req.ReceivedAt.UTC()
	}

	return &store.InboundReply{
		TenantID:      tenantID,
		LeadID:        leadID,
		Channel:       channel,
		FromAddress:   req.FromAddress,
		ToAddress:     req.ToAddress,
		Subject:       req.Subject,
		Body:          req.Body,
		IsAutoReply:   req.IsAutoReply,
		IsOutOfOffice: req.IsOutOfOffice,
		IsBounce:      req.IsBounce,
		ReceivedAt:    receivedAt,
	}, nil
}

func (h *ReplyHandler) writeStoreError(w http.ResponseWriter, err error, msg string) {
	if typed, ok := err.(*types.Error); ok {
		WriteError(w, typed, h.logger)
		return
	}
	WriteError(w, types.NewError(types.ErrInternalError, msg).WithCause(err), h.logger)
}
