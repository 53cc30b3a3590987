package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/haneul-labs/tripdesk/internal/approval"
	"github.com/haneul-labs/tripdesk/internal/idempotency"
	"github.com/haneul-labs/tripdesk/internal/observability"
	"github.com/haneul-labs/tripdesk/model"
)

// maxBodySize caps request bodies read by the approval handlers.
const maxBodySize = 1 << 20

func handleApprovalCreate(engine *approval.Engine, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, r, model.NewUnauthorizedError("missing request context"))
			return
		}

		var input approval.CreateInput
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&input); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}

		ap, err := engine.Create(r.Context(), rctx, input)
		if err != nil {
			WriteError(w, r, err)
			return
		}

		if metrics != nil {
			metrics.RecordApprovalCreated(ap.TargetType)
		}

		WriteJSON(w, http.StatusCreated, map[string]any{
			"message": "Approval request created successfully",
			"data":    ap,
		})
	}
}

func handleApprovalList(engine *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := approval.ListQuery{
			Page:        queryInt(r, "page", 1),
			Limit:       queryInt(r, "limit", 0),
			Status:      r.URL.Query().Get("status"),
			RequesterID: r.URL.Query().Get("requesterId"),
			ApproverID:  r.URL.Query().Get("approverId"),
			TargetType:  r.URL.Query().Get("targetType"),
			TargetID:    r.URL.Query().Get("targetId"),
		}

		page, err := engine.List(r.Context(), query)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, page)
	}
}

func handleApprovalStats(engine *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		year := queryInt(r, "year", time.Now().UTC().Year())
		month := queryInt(r, "month", 0)

		stats, err := engine.Stats(r.Context(), year, month)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": stats})
	}
}

func handleApprovalPending(engine *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, r, model.NewUnauthorizedError("missing request context"))
			return
		}

		data, err := engine.PendingFor(r.Context(), rctx.SubjectID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": data})
	}
}

func handleApprovalGet(engine *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		ap, err := engine.FindByID(r.Context(), id)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": ap})
	}
}

func handleApprovalUpdate(engine *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, r, model.NewUnauthorizedError("missing request context"))
			return
		}
		id := chi.URLParam(r, "id")

		var input approval.UpdateInput
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&input); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}

		ap, err := engine.Update(r.Context(), rctx, id, input)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"message": "Approval request updated successfully",
			"data":    ap,
		})
	}
}

// handleApprovalAction records an approve or reject decision. When the client
// sends an X-Idempotency-Key header, a retried request with the same body is
// replayed from cache instead of tripping the already-acted conflict.
func handleApprovalAction(
	engine *approval.Engine,
	idemStore idempotency.Store,
	idemTTL time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, r, model.NewUnauthorizedError("missing request context"))
			return
		}
		id := chi.URLParam(r, "id")

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			WriteError(w, r, model.NewBadRequestError("failed to read request body"))
			return
		}

		idemKey := r.Header.Get("X-Idempotency-Key")
		var storeKey, inputHash string
		if idemStore != nil && idemKey != "" {
			storeKey = idempotency.FormatKey(id, idemKey)
			inputHash = idempotency.HashInput(body)

			cached, found, err := idemStore.Check(r.Context(), storeKey, inputHash)
			if err != nil {
				if env, ok := err.(*model.ErrorEnvelope); ok && env.Code == model.ErrConflict {
					if metrics != nil {
						metrics.RecordIdempotencyConflict()
					}
					WriteError(w, r, env)
					return
				}
				// Cache trouble never blocks the action itself.
				logger.Warn("idempotency check failed", zap.Error(err), zap.String("approval_id", id))
			} else if found {
				if metrics != nil {
					metrics.RecordIdempotencyReplay()
				}
				WriteJSON(w, http.StatusOK, map[string]any{
					"message": "Approval action processed successfully",
					"data":    cached,
				})
				return
			}
		}

		var input approval.ActionInput
		if err := json.Unmarshal(bytes.TrimSpace(body), &input); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}

		start := time.Now()
		ap, err := engine.Action(r.Context(), rctx, id, input)
		if err != nil {
			WriteError(w, r, err)
			return
		}

		if metrics != nil {
			metrics.RecordApprovalAction(input.Action, ap.Status, time.Since(start))
			if ap.IsTerminal() {
				metrics.RecordApprovalResolved(ap.Status)
				metrics.RecordNotification(ap.Status)
			}
		}

		if storeKey != "" {
			if err := idemStore.Store(r.Context(), storeKey, inputHash, ap, idemTTL); err != nil {
				logger.Warn("idempotency store failed", zap.Error(err), zap.String("approval_id", id))
			}
		}

		WriteJSON(w, http.StatusOK, map[string]any{
			"message": "Approval action processed successfully",
			"data":    ap,
		})
	}
}

func handleApprovalDelete(engine *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := engine.Delete(r.Context(), id); err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{
			"message": "Approval request deleted successfully",
		})
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
