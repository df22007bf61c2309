// internal/app/features/logout/logout.go
package logout

import (
	"net/http"
	"time"

	adminstore "github.com/dalemusser/rentdesk/internal/app/store/admins"
	"github.com/dalemusser/rentdesk/internal/app/store/sessionlog"
	"github.com/dalemusser/rentdesk/internal/app/system/auditlog"
	"github.com/dalemusser/rentdesk/internal/app/system/auth"
	"github.com/dalemusser/rentdesk/internal/app/system/jsonutil"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Handler provides sign-out handlers.
type Handler struct {
	sessionMgr  *auth.SessionManager
	auditLogger *auditlog.Logger
	sessionLogs *sessionlog.Store
	adminStore  *adminstore.Store
	logger      *zap.Logger
}

// NewHandler creates a new logout Handler.
func NewHandler(
	sessionMgr *auth.SessionManager,
	auditLogger *auditlog.Logger,
	sessionLogs *sessionlog.Store,
	adminStore *adminstore.Store,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		sessionMgr:  sessionMgr,
		auditLogger: auditLogger,
		sessionLogs: sessionLogs,
		adminStore:  adminStore,
		logger:      logger,
	}
}

// Routes returns a chi.Router with logout routes mounted.
func Routes(h *Handler, sessionMgr *auth.SessionManager) http.Handler {
	r := chi.NewRouter()
	r.Use(sessionMgr.RequireSignedIn)
	r.Post("/", h.handleLogout)
	return r
}

// handleLogout closes the open session log entry and destroys the cookie
// session. Closing the entry is idempotent: if it was already closed (for
// example by the unload beacon racing an explicit sign-out), the close is a
// no-op and sign-out still succeeds.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if user, ok := auth.CurrentUser(r); ok {
		now := time.Now().UTC()

		if _, err := h.sessionLogs.RecordLogout(r.Context(), user.ID, now, sessionlog.SourceExplicit); err != nil {
			h.logger.Warn("failed to record logout in session log",
				zap.String("account_id", user.ID),
				zap.Error(err))
		}

		// The last_logout mirror is best-effort and written independently of
		// whether an entry was closed, so a sign-out after the unload beacon
		// already closed the entry still refreshes the mirror.
		if oid, idErr := primitive.ObjectIDFromHex(user.ID); idErr == nil {
			if err := h.adminStore.SetLastLogout(r.Context(), oid, now); err != nil {
				h.logger.Warn("failed to update last_logout mirror",
					zap.String("account_id", user.ID),
					zap.Error(err))
			}
		}

		h.auditLogger.Logout(r.Context(), r, user.ID)
	}

	h.sessionMgr.DestroySession(w, r)

	jsonutil.OK(w, map[string]string{"status": "signed_out"})
}
