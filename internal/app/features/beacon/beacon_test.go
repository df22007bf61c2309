package beacon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	adminstore "github.com/dalemusser/rentdesk/internal/app/store/admins"
	"github.com/dalemusser/rentdesk/internal/app/store/sessionlog"
	"github.com/dalemusser/rentdesk/internal/domain/models"
	"github.com/dalemusser/rentdesk/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) (*Handler, *sessionlog.Store, *mongo.Database) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	sessionLogs := sessionlog.New(db)
	return NewHandler(db, sessionLogs, adminstore.New(db), nil, zap.NewNop()), sessionLogs, db
}

func postBeaconJSON(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handleBeacon(rec, req)
	return rec
}

func TestBeacon_ClosesOpenEntry(t *testing.T) {
	h, sessionLogs, _ := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	accountID := primitive.NewObjectID().Hex()
	if err := sessionLogs.RecordLogin(ctx, accountID, "beacon@test.com", time.Now().UTC()); err != nil {
		t.Fatalf("failed to record login: %v", err)
	}

	rec := postBeaconJSON(h, `{"account_id":"`+accountID+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		Closed bool `json:"closed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Closed {
		t.Error("closed = false, want true")
	}

	log, err := sessionLogs.GetByAccount(ctx, accountID)
	if err != nil {
		t.Fatalf("failed to get session log: %v", err)
	}
	if log.IsOnline() {
		t.Error("account should be offline after beacon")
	}
	if log.Sessions[0].EndReason != sessionlog.SourceBeacon {
		t.Errorf("end_reason = %q, want %q", log.Sessions[0].EndReason, sessionlog.SourceBeacon)
	}
}

func TestBeacon_AbsentAccount_IsNoop(t *testing.T) {
	h, sessionLogs, _ := newTestHandler(t)

	accountID := primitive.NewObjectID().Hex()
	rec := postBeaconJSON(h, `{"account_id":"`+accountID+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Closed bool `json:"closed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Closed {
		t.Error("closed = true, want false for absent account")
	}

	// The no-op must not create a session log document.
	ctx, cancel := testutil.TestContext()
	defer cancel()
	if _, err := sessionLogs.GetByAccount(ctx, accountID); err != mongo.ErrNoDocuments {
		t.Errorf("GetByAccount() error = %v, want mongo.ErrNoDocuments", err)
	}
}

func TestBeacon_AlreadyClosed_IsNoop(t *testing.T) {
	h, sessionLogs, _ := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	accountID := primitive.NewObjectID().Hex()
	if err := sessionLogs.RecordLogin(ctx, accountID, "closed@test.com", time.Now().UTC()); err != nil {
		t.Fatalf("failed to record login: %v", err)
	}
	if _, err := sessionLogs.RecordLogout(ctx, accountID, time.Now().UTC(), sessionlog.SourceExplicit); err != nil {
		t.Fatalf("failed to record logout: %v", err)
	}

	rec := postBeaconJSON(h, `{"account_id":"`+accountID+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	// The explicit end reason is preserved; the beacon didn't overwrite it.
	log, err := sessionLogs.GetByAccount(ctx, accountID)
	if err != nil {
		t.Fatalf("failed to get session log: %v", err)
	}
	if log.Sessions[0].EndReason != sessionlog.SourceExplicit {
		t.Errorf("end_reason = %q, want %q", log.Sessions[0].EndReason, sessionlog.SourceExplicit)
	}
}

func TestBeacon_UpdatesLastLogoutMirror(t *testing.T) {
	h, sessionLogs, db := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	admins := adminstore.New(db)
	admin, err := admins.Create(ctx, models.Admin{
		FullName:   "Mirror Test",
		Email:      "mirror@test.com",
		Role:       models.RoleSupport,
		AuthMethod: "google",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	accountID := admin.ID.Hex()
	if err := sessionLogs.RecordLogin(ctx, accountID, admin.Email, time.Now().UTC()); err != nil {
		t.Fatalf("failed to record login: %v", err)
	}

	rec := postBeaconJSON(h, `{"account_id":"`+accountID+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	got, err := admins.GetByID(ctx, admin.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.LastLogout == nil {
		t.Fatal("LastLogout mirror should be set after beacon")
	}
	if time.Since(*got.LastLogout) > time.Minute {
		t.Errorf("LastLogout = %v, want a recent timestamp", *got.LastLogout)
	}
}

func TestBeacon_MissingAccountID(t *testing.T) {
	h, _, _ := newTestHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"empty object", `{}`},
		{"blank account_id", `{"account_id":"   "}`},
		{"malformed JSON", `{not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postBeaconJSON(h, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestBeacon_FormEncodedBody(t *testing.T) {
	h, sessionLogs, _ := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	accountID := primitive.NewObjectID().Hex()
	if err := sessionLogs.RecordLogin(ctx, accountID, "form@test.com", time.Now().UTC()); err != nil {
		t.Fatalf("failed to record login: %v", err)
	}

	form := url.Values{}
	form.Set("account_id", accountID)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.handleBeacon(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	online, err := sessionLogs.IsOnline(ctx, accountID)
	if err != nil {
		t.Fatalf("IsOnline() error: %v", err)
	}
	if online {
		t.Error("account should be offline after form-encoded beacon")
	}
}

func TestRoutes(t *testing.T) {
	h, _, _ := newTestHandler(t)

	router := Routes(h)
	if router == nil {
		t.Fatal("Routes() returned nil")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
