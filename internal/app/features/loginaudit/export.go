// internal/app/features/loginaudit/export.go
package loginaudit

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dalemusser/rentdesk/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// handleExport exports the filtered and sorted rows as CSV. Pagination
// does not apply: an export always covers the full result set.
// GET /api/audit/logins/export
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Batch())
	defer cancel()

	q := parseQuery(r)

	rows, err := h.buildRows(ctx)
	if err != nil {
		h.logger.Error("failed to build rows for export", zap.Error(err))
		http.Error(w, "A database error occurred", http.StatusInternalServerError)
		return
	}

	rows = applyFilter(rows, q)
	applySort(rows, q)

	filename := fmt.Sprintf("login_audit_%s.csv", time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, url.PathEscape(filename)))

	// UTF-8 BOM for Excel
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		h.logger.Error("CSV write failed (BOM)", zap.Error(err))
		return
	}

	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	defer cw.Flush()

	// Header
	if err := cw.Write([]string{"account_id", "email", "role", "last_login", "last_logout", "is_online"}); err != nil {
		h.logger.Error("CSV write failed (header)", zap.Error(err))
		return
	}

	// Rows
	for _, row := range rows {
		if err := cw.Write([]string{
			row.AccountID,
			sanitizeCSVField(row.Email),
			sanitizeCSVField(row.Role),
			formatTimePtr(row.LastLogin),
			formatTimePtr(row.LastLogout),
			fmt.Sprintf("%t", row.IsOnline),
		}); err != nil {
			h.logger.Error("CSV write failed (row)", zap.Error(err))
			return
		}
	}

	h.logger.Info("login audit CSV exported", zap.Int("rows", len(rows)))
}

// formatTimePtr renders an optional timestamp as RFC3339, or empty.
func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// sanitizeCSVField prevents CSV formula injection.
func sanitizeCSVField(s string) string {
	if len(s) == 0 {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@':
		return "'" + s
	}
	return s
}
