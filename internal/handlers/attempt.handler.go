package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/tsaircargo/whatsapp-gateway/internal/model"
	"github.com/tsaircargo/whatsapp-gateway/internal/repository"
	"github.com/tsaircargo/whatsapp-gateway/internal/services"
	xhttp "github.com/tsaircargo/whatsapp-gateway/pkg/http"
)

type AttemptService interface {
	Create(ctx context.Context, p model.AttemptCreateRequest) (*model.Attempt, error)
	Get(ctx context.Context, id int64) (*model.Attempt, error)
	List(ctx context.Context, f model.AttemptFilter) ([]*model.Attempt, int64, error)
	Cancel(ctx context.Context, id int64) (*model.Attempt, error)
	CancelPending(ctx context.Context, f repository.CancelFilter) (int64, error)
	RetryNow(ctx context.Context, id int64) (*model.Attempt, error)
	Stats(ctx context.Context, window time.Duration) (*model.StatsSummary, error)
}

type RetryRunner interface {
	ProcessPendingRetries(ctx context.Context, opts services.RunOptions) (*model.RunStats, error)
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

type AttemptHandler struct {
	svc    AttemptService
	runner RetryRunner
}

func RegisterAttemptRoutes(e *router.Group, h *AttemptHandler) {
	e.POST("/attempts", h.CreateAttempt)
	e.GET("/attempts", h.ListAttempts)
	e.GET("/attempts/{id}", h.GetAttempt)
	e.POST("/attempts/{id}/cancel", h.CancelAttempt)
	e.POST("/attempts/{id}/retry", h.RetryAttempt)
	e.POST("/attempts/cancel", h.BulkCancel)
	e.GET("/stats", h.GetStats)
	e.POST("/retries/run", h.RunRetries)
}

func NewAttemptHandler(attemptService AttemptService, runner RetryRunner) *AttemptHandler {
	return &AttemptHandler{
		svc:    attemptService,
		runner: runner,
	}
}

type listAttemptsResponse struct {
	Items []*model.Attempt `json:"items"`
	Total int64            `json:"total"`
}

type bulkCancelRequest struct {
	RecipientID *int64  `json:"recipient_id,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Category    *string `json:"category,omitempty"`
}

type bulkCancelResponse struct {
	Cancelled int64 `json:"cancelled"`
}

type runRetriesRequest struct {
	MaxPerRun     int  `json:"max_per_run,omitempty"`
	DryRun        bool `json:"dry_run,omitempty"`
	Cleanup       bool `json:"cleanup,omitempty"`
	RetentionDays int  `json:"retention_days,omitempty"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *AttemptHandler) CreateAttempt(ctx *xhttp.RequestCtx) {
	var req model.AttemptCreateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	att, err := h.svc.Create(ctx, req)
	if err != nil {
		if errors.Is(err, model.ErrValidation) ||
			errors.Is(err, model.ErrInvalidPhone) ||
			errors.Is(err, services.ErrNoRecipient) {
			writeError(ctx, 400, err.Error())
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 201, att)
}

func (h *AttemptHandler) GetAttempt(ctx *xhttp.RequestCtx) {
	id, err := pathID(ctx)
	if err != nil {
		writeError(ctx, 400, "invalid id")
		return
	}

	att, err := h.svc.Get(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(ctx, 404, err.Error())
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, att)
}

func (h *AttemptHandler) ListAttempts(ctx *xhttp.RequestCtx) {
	var f model.AttemptFilter

	if v := query(ctx, "status"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] != "" {
				f.Statuses = append(f.Statuses, model.AttemptStatus(parts[i]))
			}
		}
	}
	if v := query(ctx, "phone"); v != "" {
		f.Phone = &v
	}
	if v := query(ctx, "message_type"); v != "" {
		mt := model.MessageType(v)
		f.MessageType = &mt
	}
	if v := query(ctx, "category"); v != "" {
		f.Category = &v
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, listAttemptsResponse{Items: items, Total: total})
}

func (h *AttemptHandler) CancelAttempt(ctx *xhttp.RequestCtx) {
	id, err := pathID(ctx)
	if err != nil {
		writeError(ctx, 400, "invalid id")
		return
	}

	att, err := h.svc.Cancel(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			writeError(ctx, 404, err.Error())
		case errors.Is(err, services.ErrNotCancellable):
			writeError(ctx, 409, err.Error())
		default:
			writeError(ctx, 500, err.Error())
		}
		return
	}
	writeJSON(ctx, 200, att)
}

func (h *AttemptHandler) RetryAttempt(ctx *xhttp.RequestCtx) {
	id, err := pathID(ctx)
	if err != nil {
		writeError(ctx, 400, "invalid id")
		return
	}

	att, err := h.svc.RetryNow(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			writeError(ctx, 404, err.Error())
		case errors.Is(err, services.ErrNotRetryable):
			writeError(ctx, 409, err.Error())
		default:
			// The retry was accepted but the provider refused; the record
			// carries the failure detail.
			if att != nil {
				writeJSON(ctx, 200, att)
				return
			}
			writeError(ctx, 500, err.Error())
		}
		return
	}
	writeJSON(ctx, 200, att)
}

func (h *AttemptHandler) BulkCancel(ctx *xhttp.RequestCtx) {
	var req bulkCancelRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.RecipientID == nil && req.Phone == nil && req.Category == nil {
		writeError(ctx, 400, "at least one of recipient_id, phone or category is required")
		return
	}

	n, err := h.svc.CancelPending(ctx, repository.CancelFilter{
		RecipientID: req.RecipientID,
		Phone:       req.Phone,
		Category:    req.Category,
	})
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, bulkCancelResponse{Cancelled: n})
}

func (h *AttemptHandler) GetStats(ctx *xhttp.RequestCtx) {
	window := 24 * time.Hour
	if v := query(ctx, "window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(ctx, 400, "invalid window")
			return
		}
		window = d
	}

	summary, err := h.svc.Stats(ctx, window)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, summary)
}

func (h *AttemptHandler) RunRetries(ctx *xhttp.RequestCtx) {
	var req runRetriesRequest
	if len(ctx.PostBody()) > 0 {
		if err := readJSON(ctx, &req); err != nil {
			writeError(ctx, 400, "invalid JSON: "+err.Error())
			return
		}
	}

	stats, err := h.runner.ProcessPendingRetries(ctx, services.RunOptions{
		MaxPerRun: req.MaxPerRun,
		DryRun:    req.DryRun,
	})
	if err != nil {
		if errors.Is(err, services.ErrRunInProgress) {
			writeError(ctx, 409, err.Error())
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}

	if req.Cleanup && !req.DryRun {
		deleted, err := h.runner.Cleanup(ctx, req.RetentionDays)
		if err != nil {
			writeError(ctx, 500, err.Error())
			return
		}
		stats.CleanupDeleted = deleted
	}

	writeJSON(ctx, 200, stats)
}

func pathID(ctx *xhttp.RequestCtx) (int64, error) {
	v, _ := ctx.UserValue("id").(string)
	return strconv.ParseInt(v, 10, 64)
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
