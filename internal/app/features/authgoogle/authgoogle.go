// internal/app/features/authgoogle/authgoogle.go
package authgoogle

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: The hex form of the admin's MongoDB ObjectID (_id)
//   - Email / email: The address the admin signs in with (matched case-insensitively)

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	adminstore "github.com/dalemusser/rentdesk/internal/app/store/admins"
	"github.com/dalemusser/rentdesk/internal/app/store/oauthstate"
	"github.com/dalemusser/rentdesk/internal/app/store/sessionlog"
	"github.com/dalemusser/rentdesk/internal/app/system/auditlog"
	"github.com/dalemusser/rentdesk/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Handler provides Google OAuth handlers.
type Handler struct {
	adminStore      *adminstore.Store
	sessionMgr      *auth.SessionManager
	auditLogger     *auditlog.Logger
	sessionLogs     *sessionlog.Store
	oauthStateStore *oauthstate.Store
	oauthConfig     *oauth2.Config
	logger          *zap.Logger
}

// NewHandler creates a new Google OAuth Handler.
func NewHandler(
	db *mongo.Database,
	sessionMgr *auth.SessionManager,
	auditLogger *auditlog.Logger,
	sessionLogs *sessionlog.Store,
	oauthStateStore *oauthstate.Store,
	clientID string,
	clientSecret string,
	baseURL string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		adminStore:      adminstore.New(db),
		sessionMgr:      sessionMgr,
		auditLogger:     auditLogger,
		sessionLogs:     sessionLogs,
		oauthStateStore: oauthStateStore,
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  baseURL + "/api/auth/google/callback",
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		logger: logger,
	}
}

// Routes returns a chi.Router with Google OAuth routes mounted.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.startAuth)
	r.Get("/callback", h.handleCallback)
	return r
}

// startAuth initiates the Google OAuth flow.
func (h *Handler) startAuth(w http.ResponseWriter, r *http.Request) {
	// Generate state token
	state, err := generateState()
	if err != nil {
		h.logger.Error("failed to generate oauth state", zap.Error(err))
		http.Redirect(w, r, "/login?error=oauth_error", http.StatusSeeOther)
		return
	}

	// Store state in database
	if err := h.oauthStateStore.Create(r.Context(), state); err != nil {
		h.logger.Error("failed to store oauth state", zap.Error(err))
		http.Redirect(w, r, "/login?error=oauth_error", http.StatusSeeOther)
		return
	}

	// Redirect to Google
	url := h.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// handleCallback processes the Google OAuth callback. Sign-in requires an
// existing active admin account: the back office has no self-service signup,
// so unknown Google identities are turned away.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	// Verify state
	state := r.URL.Query().Get("state")
	if !h.oauthStateStore.Verify(r.Context(), state) {
		h.logger.Warn("invalid oauth state")
		http.Redirect(w, r, "/login?error=invalid_state", http.StatusSeeOther)
		return
	}

	// Check for error from Google
	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		h.logger.Warn("oauth error from google", zap.String("error", errMsg))
		http.Redirect(w, r, "/login?error="+errMsg, http.StatusSeeOther)
		return
	}

	// Exchange code for token
	code := r.URL.Query().Get("code")
	token, err := h.oauthConfig.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("failed to exchange oauth code", zap.Error(err))
		http.Redirect(w, r, "/login?error=token_exchange_failed", http.StatusSeeOther)
		return
	}

	// Get account info from Google
	userInfo, err := h.getUserInfo(r.Context(), token)
	if err != nil {
		h.logger.Error("failed to fetch google userinfo", zap.Error(err))
		http.Redirect(w, r, "/login?error=userinfo_failed", http.StatusSeeOther)
		return
	}

	admin, err := h.adminStore.GetByEmail(r.Context(), userInfo.Email)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			h.auditLogger.LoginFailedAccountNotFound(r.Context(), r, userInfo.Email)
			http.Redirect(w, r, "/login?error=account_not_found", http.StatusSeeOther)
			return
		}
		h.logger.Error("failed to load account by email", zap.Error(err))
		http.Redirect(w, r, "/login?error=database_error", http.StatusSeeOther)
		return
	}

	if admin.Status != "active" {
		h.auditLogger.LoginFailedAccountDisabled(r.Context(), r, admin.ID, admin.Email)
		http.Redirect(w, r, "/login?error=account_disabled", http.StatusSeeOther)
		return
	}

	if err := h.completeLogin(w, r, admin.ID, admin.Email, admin.Role); err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		http.Redirect(w, r, "/login?error=session_error", http.StatusSeeOther)
		return
	}

	h.auditLogger.LoginSuccess(r.Context(), r, admin.ID, "google", admin.Email)

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// GoogleUserInfo represents account info returned by Google.
type GoogleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// getUserInfo fetches account info from Google.
func (h *Handler) getUserInfo(ctx context.Context, token *oauth2.Token) (*GoogleUserInfo, error) {
	client := h.oauthConfig.Client(ctx, token)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", "https://www.googleapis.com/oauth2/v2/userinfo", nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var userInfo GoogleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, err
	}

	return &userInfo, nil
}

// generateState generates a random state token.
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// completeLogin creates the cookie session and records the sign-in in the
// session log, mirroring last_login onto the admin document best-effort.
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
