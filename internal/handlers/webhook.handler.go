package handlers

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/tsaircargo/whatsapp-gateway/internal/model"
	"github.com/tsaircargo/whatsapp-gateway/internal/services"
	xhttp "github.com/tsaircargo/whatsapp-gateway/pkg/http"
)

type WebhookService interface {
	Process(ctx context.Context, payload services.ProviderWebhook, raw []byte) (*model.WebhookEvent, error)
	History(ctx context.Context, attemptID int64) ([]*model.WebhookEvent, error)
	Unprocessed(ctx context.Context, limit int) ([]*model.WebhookEvent, error)
}

type WebhookHandler struct {
	svc WebhookService
}

// RegisterWebhookRoutes mounts the provider callback outside the versioned
// API group; the callback URL is configured on the WaChap side and stays
// stable.
func RegisterWebhookRoutes(r *xhttp.Router, h *WebhookHandler) {
	r.POST("/webhooks/whatsapp", h.ReceiveWebhook)
}

func RegisterWebhookQueryRoutes(e *router.Group, h *WebhookHandler) {
	e.GET("/attempts/{id}/webhooks", h.ListAttemptWebhooks)
	e.GET("/webhooks/unprocessed", h.ListUnprocessed)
}

func NewWebhookHandler(webhookService WebhookService) *WebhookHandler {
	return &WebhookHandler{
		svc: webhookService,
	}
}

// ReceiveWebhook always acknowledges parseable payloads. The provider retries
// on non-2xx, and a callback we could not match still got persisted.
func (h *WebhookHandler) ReceiveWebhook(ctx *xhttp.RequestCtx) {
	raw := ctx.PostBody()

	var payload services.ProviderWebhook
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if payload.MessageID == "" && payload.ID == "" {
		writeError(ctx, 400, "webhook carries no message id")
		return
	}

	event, err := h.svc.Process(ctx, payload, raw)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}

	writeJSON(ctx, 200, map[string]any{
		"status":   "received",
		"event_id": event.ID,
	})
}

func (h *WebhookHandler) ListAttemptWebhooks(ctx *xhttp.RequestCtx) {
	id, err := pathID(ctx)
	if err != nil {
		writeError(ctx, 400, "invalid id")
		return
	}

	events, err := h.svc.History(ctx, id)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, map[string]any{"items": events})
}

func (h *WebhookHandler) ListUnprocessed(ctx *xhttp.RequestCtx) {
	limit := 100
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			limit = n
		}
	}

	events, err := h.svc.Unprocessed(ctx, limit)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, map[string]any{"items": events})
}
