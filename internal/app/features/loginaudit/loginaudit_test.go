package loginaudit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	adminstore "github.com/dalemusser/rentdesk/internal/app/store/admins"
	"github.com/dalemusser/rentdesk/internal/app/store/sessionlog"
	"github.com/dalemusser/rentdesk/internal/domain/models"
	"github.com/dalemusser/rentdesk/internal/testutil"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) (*Handler, *mongo.Database) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	return NewHandler(db, zap.NewNop()), db
}

// seedAdmin creates an admin and optionally records a login (and logout).
func seedAdmin(t *testing.T, h *Handler, email, role string, login, logout bool) models.Admin {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()

	admin, err := h.adminStore.Create(ctx, models.Admin{
		FullName:   "Seed " + email,
		Email:      email,
		AuthMethod: "password",
		Role:       role,
	})
	if err != nil {
		t.Fatalf("failed to create admin %s: %v", email, err)
	}

	if login {
		if err := h.sessionLogs.RecordLogin(ctx, admin.ID.Hex(), admin.Email, time.Now().UTC()); err != nil {
			t.Fatalf("failed to record login for %s: %v", email, err)
		}
	}
	if logout {
		if _, err := h.sessionLogs.RecordLogout(ctx, admin.ID.Hex(), time.Now().UTC(), sessionlog.SourceExplicit); err != nil {
			t.Fatalf("failed to record logout for %s: %v", email, err)
		}
	}
	return admin
}

func getList(h *Handler, rawQuery string) listResponse {
	req := httptest.NewRequest(http.MethodGet, "/?"+rawQuery, nil)
	rec := httptest.NewRecorder()
	h.handleList(rec, req)

	var resp listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		panic(fmt.Sprintf("failed to decode list response: %v (body: %s)", err, rec.Body.String()))
	}
	return resp
}

func TestList_JoinsAdminsWithSessionLogs(t *testing.T) {
	h, _ := newTestHandler(t)

	online := seedAdmin(t, h, "online@test.com", "admin", true, false)
	offline := seedAdmin(t, h, "offline@test.com", "support", true, true)
	never := seedAdmin(t, h, "never@test.com", "developer", false, false)

	resp := getList(h, "")
	if resp.Total != 3 {
		t.Fatalf("total = %d, want 3", resp.Total)
	}

	byID := make(map[string]Row)
	for _, row := range resp.Rows {
		byID[row.AccountID] = row
	}

	if row := byID[online.ID.Hex()]; !row.IsOnline || row.LastLogin == nil {
		t.Errorf("online account: is_online=%v last_login=%v", row.IsOnline, row.LastLogin)
	}
	if row := byID[offline.ID.Hex()]; row.IsOnline || row.LastLogout == nil {
		t.Errorf("offline account: is_online=%v last_logout=%v", row.IsOnline, row.LastLogout)
	}
	if row := byID[never.ID.Hex()]; row.IsOnline || row.LastLogin != nil {
		t.Errorf("never-logged-in account: is_online=%v last_login=%v", row.IsOnline, row.LastLogin)
	}
}

func TestList_MirrorFallbackForAccountsWithoutLog(t *testing.T) {
	h, db := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	admin := seedAdmin(t, h, "mirror@test.com", "admin", false, false)

	// Simulate a pruned log: the mirror still carries the last known times.
	at := time.Now().Add(-48 * time.Hour).UTC()
	store := adminstore.New(db)
	if err := store.SetLastLogin(ctx, admin.ID, at); err != nil {
		t.Fatalf("SetLastLogin: %v", err)
	}
	if err := store.SetLastLogout(ctx, admin.ID, at.Add(time.Hour)); err != nil {
		t.Fatalf("SetLastLogout: %v", err)
	}

	resp := getList(h, "")
	if len(resp.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(resp.Rows))
	}
	row := resp.Rows[0]
	if row.LastLogin == nil || row.LastLogout == nil {
		t.Fatal("mirror times should surface when no session log exists")
	}
	if row.IsOnline {
		t.Error("account without a session log can never be online")
	}
}

func TestList_StatusFilter(t *testing.T) {
	h, _ := newTestHandler(t)

	seedAdmin(t, h, "on1@test.com", "admin", true, false)
	seedAdmin(t, h, "on2@test.com", "support", true, false)
	seedAdmin(t, h, "off1@test.com", "admin", true, true)

	online := getList(h, "status=online")
	if online.Total != 2 {
		t.Errorf("online total = %d, want 2", online.Total)
	}
	for _, row := range online.Rows {
		if !row.IsOnline {
			t.Errorf("row %s should be online", row.Email)
		}
	}

	offline := getList(h, "status=offline")
	if offline.Total != 1 {
		t.Errorf("offline total = %d, want 1", offline.Total)
	}

	all := getList(h, "status=bogus")
	if all.Total != 3 {
		t.Errorf("unknown status should fall back to all; total = %d, want 3", all.Total)
	}
}

func TestList_FreeTextFilter(t *testing.T) {
	h, _ := newTestHandler(t)

	seedAdmin(t, h, "alice@rentdesk.com", "admin", false, false)
	seedAdmin(t, h, "bob@rentdesk.com", "support", false, false)
	seedAdmin(t, h, "carol@other.com", "developer", false, false)

	// Matches email substring, case-insensitive.
	resp := getList(h, "q=RENTDESK")
	if resp.Total != 2 {
		t.Errorf("email filter total = %d, want 2", resp.Total)
	}

	// Matches role substring too.
	resp = getList(h, "q=supp")
	if resp.Total != 1 {
		t.Errorf("role filter total = %d, want 1", resp.Total)
	}
	if resp.Rows[0].Email != "bob@rentdesk.com" {
		t.Errorf("role filter matched %q", resp.Rows[0].Email)
	}

	resp = getList(h, "q=nomatch")
	if resp.Total != 0 {
		t.Errorf("no-match total = %d, want 0", resp.Total)
	}
	if resp.Rows == nil {
		t.Error("rows should be an empty slice, not null")
	}
}

func TestList_SortByEmailDefault(t *testing.T) {
	h, _ := newTestHandler(t)

	seedAdmin(t, h, "zoe@test.com", "admin", false, false)
	seedAdmin(t, h, "adam@test.com", "admin", false, false)
	seedAdmin(t, h, "mia@test.com", "admin", false, false)

	resp := getList(h, "")
	want := []string{"adam@test.com", "mia@test.com", "zoe@test.com"}
	for i, w := range want {
		if resp.Rows[i].Email != w {
			t.Errorf("rows[%d] = %q, want %q", i, resp.Rows[i].Email, w)
		}
	}

	resp = getList(h, "dir=desc")
	if resp.Rows[0].Email != "zoe@test.com" {
		t.Errorf("desc rows[0] = %q, want zoe@test.com", resp.Rows[0].Email)
	}
}

func TestList_SortByLastLogin_NilsFirst(t *testing.T) {
	h, _ := newTestHandler(t)

	seedAdmin(t, h, "recent@test.com", "admin", true, false)
	seedAdmin(t, h, "never@test.com", "admin", false, false)

	resp := getList(h, "sort=last_login&dir=asc")
	if resp.Rows[0].Email != "never@test.com" {
		t.Errorf("asc rows[0] = %q, want never@test.com (nil sorts first)", resp.Rows[0].Email)
	}

	resp = getList(h, "sort=last_login&dir=desc")
	if resp.Rows[0].Email != "recent@test.com" {
		t.Errorf("desc rows[0] = %q, want recent@test.com", resp.Rows[0].Email)
	}
}

func TestList_SortTiesBrokenByEmail(t *testing.T) {
	h, _ := newTestHandler(t)

	// Same role for everyone: the role sort must fall back to email.
	seedAdmin(t, h, "c@test.com", "support", false, false)
	seedAdmin(t, h, "a@test.com", "support", false, false)
	seedAdmin(t, h, "b@test.com", "support", false, false)

	resp := getList(h, "sort=role")
	want := []string{"a@test.com", "b@test.com", "c@test.com"}
	for i, w := range want {
		if resp.Rows[i].Email != w {
			t.Errorf("rows[%d] = %q, want %q", i, resp.Rows[i].Email, w)
		}
	}
}

func TestList_Pagination(t *testing.T) {
	h, _ := newTestHandler(t)

	// One more than a full page.
	for i := 0; i < pageSize+1; i++ {
		seedAdmin(t, h, fmt.Sprintf("admin%02d@test.com", i), "admin", false, false)
	}

	page1 := getList(h, "page=1")
	if len(page1.Rows) != pageSize {
		t.Errorf("page 1 rows = %d, want %d", len(page1.Rows), pageSize)
	}
	if page1.HasPrev || !page1.HasNext {
		t.Errorf("page 1: has_prev=%v has_next=%v", page1.HasPrev, page1.HasNext)
	}
	if page1.PageCount != 2 {
		t.Errorf("page_count = %d, want 2", page1.PageCount)
	}
	if page1.RangeStart != 1 || page1.RangeEnd != pageSize {
		t.Errorf("range = %d-%d, want 1-%d", page1.RangeStart, page1.RangeEnd, pageSize)
	}

	page2 := getList(h, "page=2")
	if len(page2.Rows) != 1 {
		t.Errorf("page 2 rows = %d, want 1", len(page2.Rows))
	}
	if !page2.HasPrev || page2.HasNext {
		t.Errorf("page 2: has_prev=%v has_next=%v", page2.HasPrev, page2.HasNext)
	}

	// Out-of-range pages clamp to the last page instead of erroring.
	clamped := getList(h, "page=99")
	if clamped.Page != 2 {
		t.Errorf("clamped page = %d, want 2", clamped.Page)
	}
	if len(clamped.Rows) != 1 {
		t.Errorf("clamped rows = %d, want 1", len(clamped.Rows))
	}

	// Page zero and garbage fall back to page 1.
	first := getList(h, "page=0")
	if first.Page != 1 {
		t.Errorf("page=0 clamped to %d, want 1", first.Page)
	}
}

func TestList_EmptyDatabase(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := getList(h, "")
	if resp.Total != 0 {
		t.Errorf("total = %d, want 0", resp.Total)
	}
	if resp.Page != 1 || resp.PageCount != 1 {
		t.Errorf("page=%d page_count=%d, want 1/1", resp.Page, resp.PageCount)
	}
	if resp.HasPrev || resp.HasNext {
		t.Error("empty listing should have no prev/next")
	}
	if resp.RangeStart != 0 || resp.RangeEnd != 0 {
		t.Errorf("range = %d-%d, want 0-0", resp.RangeStart, resp.RangeEnd)
	}
}

func TestExport_CSV(t *testing.T) {
	h, _ := newTestHandler(t)

	seedAdmin(t, h, "export1@test.com", "admin", true, false)
	seedAdmin(t, h, "export2@test.com", "support", true, true)

	req := httptest.NewRequest(http.MethodGet, "/export", nil)
	rec := httptest.NewRecorder()
	h.handleExport(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "login_audit_") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	body := rec.Body.Bytes()
	if len(body) < 3 || body[0] != 0xEF || body[1] != 0xBB || body[2] != 0xBF {
		t.Error("CSV should start with a UTF-8 BOM")
	}

	text := string(body[3:])
	lines := strings.Split(strings.TrimRight(text, "\r\n"), "\r\n")
	if len(lines) != 3 {
		t.Fatalf("CSV lines = %d, want 3 (header + 2 rows)", len(lines))
	}
	if lines[0] != "account_id,email,role,last_login,last_logout,is_online" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "export1@test.com") {
		t.Errorf("row 1 = %q, want export1 first (email sort)", lines[1])
	}
	if !strings.Contains(lines[1], "true") {
		t.Errorf("row 1 = %q, want is_online true", lines[1])
	}
}

func TestExport_RespectsFilters(t *testing.T) {
	h, _ := newTestHandler(t)

	seedAdmin(t, h, "keep@test.com", "admin", true, false)
	seedAdmin(t, h, "drop@test.com", "support", true, true)

	req := httptest.NewRequest(http.MethodGet, "/export?status=online", nil)
	rec := httptest.NewRecorder()
	h.handleExport(rec, req)

	text := rec.Body.String()
	if !strings.Contains(text, "keep@test.com") {
		t.Error("export should include the online account")
	}
	if strings.Contains(text, "drop@test.com") {
		t.Error("export should exclude the offline account")
	}
}

func TestSanitizeCSVField(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"normal@test.com", "normal@test.com"},
		{"=cmd()", "'=cmd()"},
		{"+1234", "'+1234"},
		{"-payload", "'-payload"},
		{"@import", "'@import"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitizeCSVField(tt.in); got != tt.want {
			t.Errorf("sanitizeCSVField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCompareTimePtr(t *testing.T) {
	earlier := time.Now().Add(-time.Hour)
	later := time.Now()

	if compareTimePtr(nil, nil) != 0 {
		t.Error("nil/nil should compare equal")
	}
	if compareTimePtr(nil, &later) != -1 {
		t.Error("nil should sort before a value")
	}
	if compareTimePtr(&later, nil) != 1 {
		t.Error("a value should sort after nil")
	}
	if compareTimePtr(&earlier, &later) != -1 {
		t.Error("earlier should sort before later")
	}
	if compareTimePtr(&later, &earlier) != 1 {
		t.Error("later should sort after earlier")
	}
	if compareTimePtr(&earlier, &earlier) != 0 {
		t.Error("equal times should compare equal")
	}
}

func TestRoutes(t *testing.T) {
	h, _ := newTestHandler(t)

	router := Routes(h)
	if router == nil {
		t.Fatal("Routes() returned nil")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("GET / status = %d, want %d", rec.Code, http.StatusOK)
	}
}
