// internal/app/features/accounts/accounts.go
package accounts

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: The hex form of the admin's MongoDB ObjectID (_id)

import (
	"net/http"

	adminstore "github.com/dalemusser/rentdesk/internal/app/store/admins"
	"github.com/dalemusser/rentdesk/internal/app/system/auditlog"
	"github.com/dalemusser/rentdesk/internal/app/system/auth"
	"github.com/dalemusser/rentdesk/internal/app/system/authutil"
	"github.com/dalemusser/rentdesk/internal/app/system/jsonutil"
	"github.com/dalemusser/rentdesk/internal/app/system/normalize"
	"github.com/dalemusser/rentdesk/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Handler provides admin account management handlers.
type Handler struct {
	adminStore  *adminstore.Store
	auditLogger *auditlog.Logger
	logger      *zap.Logger
}

// NewHandler creates a new accounts Handler.
func NewHandler(db *mongo.Database, auditLogger *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		adminStore:  adminstore.New(db),
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// Routes returns a chi.Router with account management routes mounted.
// Every route requires the admin role; support and developer staff use
// the read-only audit listing instead.
func Routes(h *Handler, sessionMgr *auth.SessionManager) http.Handler {
	r := chi.NewRouter()
	r.Use(sessionMgr.RequireRole("admin"))

	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}/role", h.changeRole)
	r.Put("/{id}/status", h.changeStatus)
	r.Delete("/{id}", h.delete)

	return r
}

// list returns every admin account.
// GET /api/accounts
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	admins, err := h.adminStore.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list accounts", zap.Error(err))
		jsonutil.InternalError(w, "failed to list accounts")
		return
	}
	if admins == nil {
		admins = []models.Admin{}
	}
	jsonutil.OK(w, map[string]any{"accounts": admins})
}

// get returns a single admin account.
// GET /api/accounts/{id}
func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.loadAdmin(w, r)
	if !ok {
		return
	}
	jsonutil.OK(w, admin)
}

type createRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Password string `json:"password"` // empty for google-auth accounts
}

// create adds a new admin account.
// POST /api/accounts
func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := jsonutil.Decode(r, &req); err != nil {
		jsonutil.BadRequest(w, "invalid JSON body")
		return
	}

	fields := map[string]string{}
	if normalize.Name(req.FullName) == "" {
		fields["full_name"] = "required"
	}
	if normalize.Email(req.Email) == "" {
		fields["email"] = "required"
	}
	if !models.IsValidRole(normalize.Role(req.Role)) {
		fields["role"] = "must be admin, support, or developer"
	}
	if len(fields) > 0 {
		jsonutil.ValidationError(w, fields)
		return
	}

	admin := models.Admin{
		FullName:   req.FullName,
		Email:      req.Email,
		Role:       req.Role,
		AuthMethod: "google",
	}

	if req.Password != "" {
		if err := authutil.ValidatePassword(req.Password); err != nil {
			jsonutil.ValidationError(w, map[string]string{"password": err.Error()})
			return
		}
		hash, err := authutil.HashPassword(req.Password)
		if err != nil {
			h.logger.Error("failed to hash password", zap.Error(err))
			jsonutil.InternalError(w, "failed to create account")
			return
		}
		admin.AuthMethod = "password"
		admin.PasswordHash = &hash
	}

	created, err := h.adminStore.Create(r.Context(), admin)
	if err != nil {
		if err == adminstore.ErrDuplicateEmail {
			jsonutil.Error(w, http.StatusConflict, "an account with that email already exists")
			return
		}
		h.logger.Error("failed to create account", zap.Error(err))
		jsonutil.InternalError(w, "failed to create account")
		return
	}

	if actor, ok := auth.CurrentUser(r); ok {
		if actorID, err := primitive.ObjectIDFromHex(actor.ID); err == nil {
			h.auditLogger.AccountCreated(r.Context(), r, actorID, created.ID, actor.Role, created.Role, created.AuthMethod)
		}
	}

	jsonutil.Created(w, created)
}

type roleRequest struct {
	Role string `json:"role"`
}

// changeRole updates an account's role. Demoting the last active admin
// is rejected so the back office cannot lock itself out.
// PUT /api/accounts/{id}/role
func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.loadAdmin(w, r)
	if !ok {
		return
	}

	var req roleRequest
	if err := jsonutil.Decode(r, &req); err != nil {
		jsonutil.BadRequest(w, "invalid JSON body")
		return
	}

	role := normalize.Role(req.Role)
	if !models.IsValidRole(role) {
		jsonutil.ValidationError(w, map[string]string{"role": "must be admin, support, or developer"})
		return
	}

	if admin.Role == models.RoleAdmin && role != models.RoleAdmin {
		if blocked := h.guardLastAdmin(w, r, admin); blocked {
			return
		}
	}

	if err := h.adminStore.UpdateRole(r.Context(), admin.ID, role); err != nil {
		h.logger.Error("failed to update role", zap.Error(err))
		jsonutil.InternalError(w, "failed to update role")
		return
	}

	if actor, ok := auth.CurrentUser(r); ok {
		if actorID, err := primitive.ObjectIDFromHex(actor.ID); err == nil {
			h.auditLogger.AccountRoleChanged(r.Context(), r, actorID, admin.ID, actor.Role, role)
		}
	}

	jsonutil.OK(w, map[string]string{"account_id": admin.ID.Hex(), "role": role})
}

type statusRequest struct {
	Status string `json:"status"`
}

// changeStatus enables or disables an account. Disabling the last
// active admin is rejected.
// PUT /api/accounts/{id}/status
func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.loadAdmin(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := jsonutil.Decode(r, &req); err != nil {
		jsonutil.BadRequest(w, "invalid JSON body")
		return
	}

	st := normalize.Status(req.Status)
	if st != "active" && st != "disabled" {
		jsonutil.ValidationError(w, map[string]string{"status": "must be active or disabled"})
		return
	}

	if st == "disabled" && admin.Role == models.RoleAdmin {
		if blocked := h.guardLastAdmin(w, r, admin); blocked {
			return
		}
	}

	if err := h.adminStore.UpdateStatus(r.Context(), admin.ID, st); err != nil {
		h.logger.Error("failed to update status", zap.Error(err))
		jsonutil.InternalError(w, "failed to update status")
		return
	}

	if actor, ok := auth.CurrentUser(r); ok {
		if actorID, err := primitive.ObjectIDFromHex(actor.ID); err == nil {
			if st == "disabled" {
				h.auditLogger.AccountDisabled(r.Context(), r, actorID, admin.ID, actor.Role)
			} else {
				h.auditLogger.AccountEnabled(r.Context(), r, actorID, admin.ID, actor.Role)
			}
		}
	}

	jsonutil.OK(w, map[string]string{"account_id": admin.ID.Hex(), "status": st})
}

// delete removes an account. The last active admin cannot be deleted.
// DELETE /api/accounts/{id}
func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.loadAdmin(w, r)
	if !ok {
		return
	}

	if admin.Role == models.RoleAdmin && admin.Status == "active" {
		if blocked := h.guardLastAdmin(w, r, admin); blocked {
			return
		}
	}

	if _, err := h.adminStore.Delete(r.Context(), admin.ID); err != nil {
		h.logger.Error("failed to delete account", zap.Error(err))
		jsonutil.InternalError(w, "failed to delete account")
		return
	}

	if actor, ok := auth.CurrentUser(r); ok {
		if actorID, err := primitive.ObjectIDFromHex(actor.ID); err == nil {
			h.auditLogger.AccountDeleted(r.Context(), r, actorID, admin.ID, actor.Role, admin.Role)
		}
	}

	jsonutil.NoContent(w)
}

// loadAdmin resolves the {id} route param, writing the error response
// itself when the id is invalid or unknown.
func (h *Handler) loadAdmin(w http.ResponseWriter, r *http.Request) (*models.Admin, bool) {
	admin, err := h.adminStore.GetByAccountID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if err == mongo.ErrNoDocuments {
			jsonutil.NotFound(w, "account not found")
			return nil, false
		}
		h.logger.Error("failed to load account", zap.Error(err))
		jsonutil.InternalError(w, "failed to load account")
		return nil, false
	}
	return admin, true
}

// guardLastAdmin rejects the operation when the target is the only
// active admin left. Returns true if the request was blocked.
func (h *Handler) guardLastAdmin(w http.ResponseWriter, r *http.Request, target *models.Admin) bool {
	count, err := h.adminStore.CountActiveAdmins(r.Context())
	if err != nil {
		h.logger.Error("failed to count active admins", zap.Error(err))
		jsonutil.InternalError(w, "failed to verify admin count")
		return true
	}
	if count <= 1 && target.Status == "active" {
		jsonutil.Error(w, http.StatusConflict, "cannot remove the last active admin")
		return true
	}
	return false
}
