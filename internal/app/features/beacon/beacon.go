// internal/app/features/beacon/beacon.go
package beacon

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	adminstore "github.com/dalemusser/rentdesk/internal/app/store/admins"
	"github.com/dalemusser/rentdesk/internal/app/store/sessionlog"
	"github.com/dalemusser/rentdesk/internal/app/system/auditlog"
	"github.com/dalemusser/rentdesk/internal/app/system/jsonutil"
	"github.com/dalemusser/rentdesk/internal/app/system/normalize"
	"github.com/dalemusser/rentdesk/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Handler handles the unload beacon sent by the browser when an admin
// closes the tab without signing out.
type Handler struct {
	sessionLogs *sessionlog.Store
	adminStore  *adminstore.Store
	db          *mongo.Database
	auditLogger *auditlog.Logger
	logger      *zap.Logger
}

// NewHandler creates a new beacon Handler.
func NewHandler(db *mongo.Database, sessionLogs *sessionlog.Store, adminStore *adminstore.Store, auditLogger *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		sessionLogs: sessionLogs,
		adminStore:  adminStore,
		db:          db,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// Routes returns a chi.Router with the beacon route mounted.
// The route is deliberately unauthenticated: navigator.sendBeacon fires
// during page unload, when the browser may already have dropped the
// session cookie, and it cannot carry a CSRF token. The handler is safe
// to expose because closing a session entry is idempotent and the worst
// a forged request can do is mark an account offline.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/", h.handleBeacon)
	return r
}

// beaconRequest is the body sent by navigator.sendBeacon. The browser
// sends it as a JSON blob; a form-encoded fallback is accepted for
// clients that cannot set a content type on the beacon payload.
type beaconRequest struct {
	AccountID string `json:"account_id"`
}

// handleBeacon records a logout for the given account.
// POST /api/auth/logout-beacon
//
// Responses:
//   - 200: the open entry was closed, or there was nothing to close
//   - 400: missing or blank account_id
//   - 503: the datastore is unreachable; the client may retry
//   - 500: unexpected datastore error
func (h *Handler) handleBeacon(w http.ResponseWriter, r *http.Request) {
	// Beacons are fire-and-forget on the client side, so every request
	// gets an id that ties the response to the server logs.
	requestID := uuid.NewString()

	accountID := h.parseAccountID(r)
	if accountID == "" {
		jsonutil.BadRequest(w, "account_id is required")
		return
	}

	// Probe the datastore before attempting the write so an outage maps
	// to 503 rather than a generic failure. sendBeacon clients cannot
	// read the response, but proxies and retrying clients can.
	pingCtx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()
	if err := h.db.Client().Ping(pingCtx, readpref.Primary()); err != nil {
		h.logger.Warn("beacon rejected: datastore unreachable",
			zap.String("request_id", requestID),
			zap.String("account_id", accountID),
			zap.Error(err))
		jsonutil.ServiceUnavailable(w, "datastore unavailable")
		return
	}

	now := time.Now().UTC()

	closed, err := h.sessionLogs.RecordLogout(r.Context(), accountID, now, sessionlog.SourceBeacon)
	if err != nil {
		h.logger.Error("beacon logout failed",
			zap.String("request_id", requestID),
			zap.String("account_id", accountID),
			zap.Error(err))
		jsonutil.InternalError(w, "failed to record logout")
		return
	}

	// The last_logout mirror on the admin document is best-effort and
	// written independently of whether an entry was actually closed.
	if oid, idErr := primitive.ObjectIDFromHex(accountID); idErr == nil {
		if err := h.adminStore.SetLastLogout(r.Context(), oid, now); err != nil {
			h.logger.Warn("failed to update last_logout mirror",
				zap.String("request_id", requestID),
				zap.String("account_id", accountID),
				zap.Error(err))
		}
	}

	h.auditLogger.LogoutBeacon(r.Context(), r, accountID, !closed)

	if !closed {
		h.logger.Debug("beacon logout was a no-op",
			zap.String("request_id", requestID),
			zap.String("account_id", accountID))
	}

	jsonutil.OK(w, map[string]any{
		"status": "ok",
		"closed": closed,
	})
}

// parseAccountID extracts the account id from a JSON or form-encoded body.
func (h *Handler) parseAccountID(r *http.Request) string {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return ""
		}
		return normalize.AccountID(r.FormValue("account_id"))
	}

	var req beaconRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	return normalize.AccountID(req.AccountID)
}
