// internal/app/features/login/login.go
package login

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: The hex form of the admin's MongoDB ObjectID (_id)
//   - Email / email: The address the admin types to sign in (matched case-insensitively)

import (
	"fmt"
	"net/http"
	"time"

	adminstore "github.com/dalemusser/rentdesk/internal/app/store/admins"
	"github.com/dalemusser/rentdesk/internal/app/store/ratelimit"
	"github.com/dalemusser/rentdesk/internal/app/store/sessionlog"
	"github.com/dalemusser/rentdesk/internal/app/system/auditlog"
	"github.com/dalemusser/rentdesk/internal/app/system/auth"
	"github.com/dalemusser/rentdesk/internal/app/system/authutil"
	"github.com/dalemusser/rentdesk/internal/app/system/jsonutil"
	"github.com/dalemusser/rentdesk/internal/app/system/normalize"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Handler provides password sign-in handlers.
type Handler struct {
	adminStore     *adminstore.Store
	sessionLogs    *sessionlog.Store
	rateLimitStore *ratelimit.Store // nil if rate limiting disabled
	sessionMgr     *auth.SessionManager
	auditLogger    *auditlog.Logger
	logger         *zap.Logger
}

// NewHandler creates a new login Handler.
// rateLimitStore can be nil to disable rate limiting.
func NewHandler(
	db *mongo.Database,
	sessionMgr *auth.SessionManager,
	auditLogger *auditlog.Logger,
	sessionLogs *sessionlog.Store,
	rateLimitStore *ratelimit.Store,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		adminStore:     adminstore.New(db),
		sessionLogs:    sessionLogs,
		rateLimitStore: rateLimitStore,
		sessionMgr:     sessionMgr,
		auditLogger:    auditLogger,
		logger:         logger,
	}
}

// Routes returns a chi.Router with login routes mounted.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/", h.handleLogin)
	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccountID string `json:"account_id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

// handleLogin processes a password sign-in.
// POST /api/auth/login
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := jsonutil.Decode(r, &req); err != nil {
		jsonutil.BadRequest(w, "invalid JSON body")
		return
	}

	email := normalize.Email(req.Email)
	if email == "" || req.Password == "" {
		jsonutil.BadRequest(w, "email and password are required")
		return
	}

	// Check rate limit before touching the account.
	if h.rateLimitStore != nil {
		allowed, _, lockedUntil := h.rateLimitStore.CheckAllowed(r.Context(), email)
		if !allowed {
			h.auditLogger.LogAuthEvent(r, nil, "login_rate_limited", false, "rate limit exceeded for "+email)
			jsonutil.Error(w, http.StatusTooManyRequests, lockoutMessage(lockedUntil))
			return
		}
	}

	admin, err := h.adminStore.GetByEmail(r.Context(), email)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			// Record the failure even though the account doesn't exist so
			// enumeration attempts burn through the same attempt budget.
			if h.rateLimitStore != nil {
				h.rateLimitStore.RecordFailure(r.Context(), email)
			}
			h.auditLogger.LoginFailedAccountNotFound(r.Context(), r, email)
			jsonutil.Unauthorized(w, "invalid credentials")
			return
		}
		h.logger.Error("database error during login lookup", zap.Error(err))
		jsonutil.ServiceUnavailable(w, "service temporarily unavailable")
		return
	}

	if admin.Status != "active" {
		if h.rateLimitStore != nil {
			h.rateLimitStore.RecordFailure(r.Context(), email)
		}
		h.auditLogger.LoginFailedAccountDisabled(r.Context(), r, admin.ID, admin.Email)
		jsonutil.Forbidden(w, "account is disabled")
		return
	}

	if admin.PasswordHash == nil || !authutil.CheckPassword(req.Password, *admin.PasswordHash) {
		if h.rateLimitStore != nil {
			lockedOut, lockedUntil := h.rateLimitStore.RecordFailure(r.Context(), email)
			if lockedOut {
				h.auditLogger.LogAuthEvent(r, &admin.ID, "login_locked_out", false, "too many failed attempts")
				jsonutil.Error(w, http.StatusTooManyRequests, lockoutMessage(lockedUntil))
				return
			}
		}
		h.auditLogger.LoginFailedWrongPassword(r.Context(), r, admin.ID, admin.Email)
		jsonutil.Unauthorized(w, "invalid credentials")
		return
	}

	if h.rateLimitStore != nil {
		h.rateLimitStore.ClearOnSuccess(r.Context(), email)
	}

	if err := h.completeLogin(w, r, admin.ID, admin.Email, admin.Role); err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		jsonutil.InternalError(w, "failed to create session")
		return
	}

	h.auditLogger.LoginSuccess(r.Context(), r, admin.ID, admin.AuthMethod, admin.Email)

	jsonutil.OK(w, loginResponse{
		AccountID: admin.ID.Hex(),
		FullName:  admin.FullName,
		Email:     admin.Email,
		Role:      admin.Role,
	})
}

// completeLogin creates the cookie session and records the login in the
// session log. The last_login mirror on the admin document is written after
// the session log and is best-effort: a mirror failure is logged but never
// fails the sign-in.
func (h *Handler) completeLogin(w http.ResponseWriter, r *http.Request, id primitive.ObjectID, email, role string) error {
	token, err := auth.GenerateSessionToken()
	if err != nil {
		return err
	}

	if err := h.sessionMgr.CreateSession(w, r, id, role, token); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := h.sessionLogs.RecordLogin(r.Context(), id.Hex(), email, now); err != nil {
		// Presence reporting degrades if this write is lost, but a sign-in
		// that already has a valid cookie session should not be blocked.
		h.logger.Warn("failed to record login in session log",
			zap.String("account_id", id.Hex()),
			zap.Error(err))
	}

	if err := h.adminStore.SetLastLogin(r.Context(), id, now); err != nil {
		h.logger.Warn("failed to update last_login mirror",
			zap.String("account_id", id.Hex()),
			zap.Error(err))
	}

	return nil
}

// lockoutMessage builds the message returned when an email is rate limited.
func lockoutMessage(lockedUntil *time.Time) string {
	if lockedUntil == nil {
		return "too many failed login attempts; try again later"
	}
	remaining := time.Until(*lockedUntil)
	if remaining > time.Minute {
		return fmt.Sprintf("too many failed login attempts; try again in %d minute(s)", int(remaining.Minutes())+1)
	}
	return fmt.Sprintf("too many failed login attempts; try again in %d second(s)", int(remaining.Seconds())+1)
}
