// internal/app/features/loginaudit/loginaudit.go
package loginaudit

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: The hex form of the admin's MongoDB ObjectID (_id),
//     used as the string key in session logs and API payloads

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	adminstore "github.com/dalemusser/rentdesk/internal/app/store/admins"
	"github.com/dalemusser/rentdesk/internal/app/store/sessionlog"
	"github.com/dalemusser/rentdesk/internal/app/system/jsonutil"
	"github.com/dalemusser/rentdesk/internal/app/system/normalize"
	"github.com/dalemusser/rentdesk/internal/app/system/timeouts"
	"github.com/dalemusser/rentdesk/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// pageSize is the fixed number of rows per listing page.
const pageSize = 25

// Handler provides the login-audit listing and export.
type Handler struct {
	adminStore  *adminstore.Store
	sessionLogs *sessionlog.Store
	logger      *zap.Logger
}

// NewHandler creates a new loginaudit Handler.
func NewHandler(db *mongo.Database, logger *zap.Logger) *Handler {
	return &Handler{
		adminStore:  adminstore.New(db),
		sessionLogs: sessionlog.New(db),
		logger:      logger,
	}
}

// Routes returns a chi.Router with loginaudit routes mounted.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Get("/export", h.handleExport)
	return r
}

// Row is one account in the listing: the admin record joined with its
// session log. IsOnline comes from the session log (an open entry); the
// last_login/last_logout mirror on the admin document is only used for
// accounts that have no session log yet.
type Row struct {
	AccountID  string     `json:"account_id"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	LastLogin  *time.Time `json:"last_login"`
	LastLogout *time.Time `json:"last_logout"`
	IsOnline   bool       `json:"is_online"`
}

// listResponse is the JSON body for the listing endpoint.
type listResponse struct {
	Rows       []Row `json:"rows"`
	Total      int   `json:"total"`
	Page       int   `json:"page"`
	PageCount  int   `json:"page_count"`
	HasPrev    bool  `json:"has_prev"`
	HasNext    bool  `json:"has_next"`
	RangeStart int   `json:"range_start"` // 1-based index of the first row on this page
	RangeEnd   int   `json:"range_end"`   // 1-based index of the last row on this page
}

// query holds the parsed listing parameters.
type query struct {
	Text   string // free-text filter against email and role
	Status string // all | online | offline
	Sort   string // email | role | last_login | last_logout
	Dir    string // asc | desc
	Page   int    // 1-based
}

// parseQuery extracts listing parameters with defaults.
func parseQuery(r *http.Request) query {
	q := query{
		Text:   normalize.QueryParam(r.URL.Query().Get("q")),
		Status: strings.ToLower(normalize.QueryParam(r.URL.Query().Get("status"))),
		Sort:   strings.ToLower(normalize.QueryParam(r.URL.Query().Get("sort"))),
		Dir:    strings.ToLower(normalize.QueryParam(r.URL.Query().Get("dir"))),
		Page:   1,
	}

	switch q.Status {
	case "online", "offline":
	default:
		q.Status = "all"
	}

	switch q.Sort {
	case "role", "last_login", "last_logout":
	default:
		q.Sort = "email"
	}

	if q.Dir != "desc" {
		q.Dir = "asc"
	}

	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		q.Page = p
	}

	return q
}

// handleList serves the login-audit listing.
// GET /api/audit/logins
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	q := parseQuery(r)

	rows, err := h.buildRows(ctx)
	if err != nil {
		h.logger.Error("failed to build login audit rows", zap.Error(err))
		jsonutil.InternalError(w, "failed to load login audit")
		return
	}

	rows = applyFilter(rows, q)
	applySort(rows, q)

	total := len(rows)
	pageCount := (total + pageSize - 1) / pageSize
	if pageCount < 1 {
		pageCount = 1
	}

	page := q.Page
	if page > pageCount {
		page = pageCount
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if end > total {
		end = total
	}

	resp := listResponse{
		Rows:      rows[start:end],
		Total:     total,
		Page:      page,
		PageCount: pageCount,
		HasPrev:   page > 1,
		HasNext:   page < pageCount,
	}
	if total > 0 {
		resp.RangeStart = start + 1
		resp.RangeEnd = end
	}
	if resp.Rows == nil {
		resp.Rows = []Row{}
	}

	jsonutil.OK(w, resp)
}

// buildRows joins every admin account with its session log.
func (h *Handler) buildRows(ctx context.Context) ([]Row, error) {
	admins, err := h.adminStore.List(ctx)
	if err != nil {
		return nil, err
	}

	logs, err := h.sessionLogs.All(ctx)
	if err != nil {
		return nil, err
	}

	byAccount := make(map[string]*models.SessionLog, len(logs))
	for i := range logs {
		byAccount[logs[i].AccountID] = &logs[i]
	}

	rows := make([]Row, 0, len(admins))
	for i := range admins {
		a := &admins[i]
		row := Row{
			AccountID: a.ID.Hex(),
			Email:     a.Email,
			Role:      a.Role,
		}

		if log, ok := byAccount[row.AccountID]; ok {
			row.LastLogin = log.LastLogin()
			row.LastLogout = log.LastLogout()
			row.IsOnline = log.IsOnline()
		} else {
			// No session log yet: fall back to the mirror. An account
			// without a log has never recorded a login, so it cannot be
			// online regardless of what the mirror says.
			row.LastLogin = a.LastLogin
			row.LastLogout = a.LastLogout
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// applyFilter returns the rows matching the free-text and status filters.
func applyFilter(rows []Row, q query) []Row {
	if q.Text == "" && q.Status == "all" {
		return rows
	}

	needle := strings.ToLower(q.Text)
	out := rows[:0:0]
	for _, row := range rows {
		if needle != "" &&
			!strings.Contains(strings.ToLower(row.Email), needle) &&
			!strings.Contains(strings.ToLower(row.Role), needle) {
			continue
		}
		if q.Status == "online" && !row.IsOnline {
			continue
		}
		if q.Status == "offline" && row.IsOnline {
			continue
		}
		out = append(out, row)
	}
	return out
}

// applySort sorts rows by the requested key and direction. The sort is
// stable and equal keys fall back to email ascending so paging never
// reshuffles rows between requests.
func applySort(rows []Row, q query) {
	desc := q.Dir == "desc"

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]

		var cmp int
		switch q.Sort {
		case "role":
			cmp = strings.Compare(a.Role, b.Role)
		case "last_login":
			cmp = compareTimePtr(a.LastLogin, b.LastLogin)
		case "last_logout":
			cmp = compareTimePtr(a.LastLogout, b.LastLogout)
		default:
			cmp = strings.Compare(a.Email, b.Email)
		}

		if cmp == 0 {
			return a.Email < b.Email
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

// compareTimePtr orders optional timestamps; nil sorts before any value.
func compareTimePtr(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case a.Before(*b):
		return -1
	case a.After(*b):
		return 1
	default:
		return 0
	}
}
