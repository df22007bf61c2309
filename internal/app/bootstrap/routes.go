// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"
	"time"

	accountsfeature "github.com/dalemusser/rentdesk/internal/app/features/accounts"
	authgooglefeature "github.com/dalemusser/rentdesk/internal/app/features/authgoogle"
	beaconfeature "github.com/dalemusser/rentdesk/internal/app/features/beacon"
	healthfeature "github.com/dalemusser/rentdesk/internal/app/features/health"
	loginfeature "github.com/dalemusser/rentdesk/internal/app/features/login"
	loginauditfeature "github.com/dalemusser/rentdesk/internal/app/features/loginaudit"
	logoutfeature "github.com/dalemusser/rentdesk/internal/app/features/logout"
	adminstore "github.com/dalemusser/rentdesk/internal/app/store/admins"
	"github.com/dalemusser/rentdesk/internal/app/store/audit"
	"github.com/dalemusser/rentdesk/internal/app/store/oauthstate"
	"github.com/dalemusser/rentdesk/internal/app/store/ratelimit"
	"github.com/dalemusser/rentdesk/internal/app/store/sessionlog"
	"github.com/dalemusser/rentdesk/internal/app/system/auditlog"
	"github.com/dalemusser/rentdesk/internal/app/system/auth"
	"github.com/dalemusser/rentdesk/internal/app/system/jsonutil"
	"github.com/dalemusser/waffle/config"
	"github.com/dalemusser/waffle/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// any Startup hooks have completed. At this point you have access to:
//   - coreCfg: WAFFLE core configuration (ports, env, timeouts, etc.)
//   - appCfg: app-specific configuration defined in AppConfig
//   - deps: any DB or backend clients bundled in DBDeps
//   - logger: the fully configured zap.Logger for this app
//
// This function should:
//  1. Create a router (chi, standard mux, etc.)
//  2. Mount feature routers for different parts of your application
//  3. Add any additional middleware needed for specific routes
//  4. Return the configured router as an http.Handler
//
// The whole surface is a JSON API consumed by the back-office front end;
// there is no server-rendered HTML.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	// Create the session manager using app config.
	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, appCfg.SessionMaxAge, secure, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	// Set up the UserFetcher so LoadSessionUser fetches fresh account data on
	// each request. This ensures role changes and disabled accounts take
	// effect immediately.
	sessionMgr.SetUserFetcher(adminstore.NewFetcher(deps.MongoDatabase, logger))

	// Create audit store and logger for security event tracking.
	auditStore := audit.New(deps.MongoDatabase)
	auditConfig := auditlog.Config{
		Auth:  appCfg.AuditLogAuth,
		Admin: appCfg.AuditLogAdmin,
	}
	auditLogger := auditlog.New(auditStore, logger, auditConfig)

	// Session log store shared by the auth features and the audit listing.
	sessionLogs := sessionlog.New(deps.MongoDatabase)

	r := chi.NewRouter()

	// ─────────────────────────────────────────────────────────────────────────────
	// Global Middleware (applies to ALL routes)
	// ─────────────────────────────────────────────────────────────────────────────

	// Request timeout middleware: prevents requests from hanging indefinitely.
	r.Use(chimw.Timeout(30 * time.Second))

	// CORS middleware: must be early in the chain to handle preflight requests.
	r.Use(middleware.CORSFromConfig(coreCfg))

	// Security headers middleware: adds X-Frame-Options, X-Content-Type-Options, etc.
	r.Use(middleware.SecurityHeadersFromConfig(coreCfg))

	// Session middleware: loads SessionUser into context if signed in.
	r.Use(sessionMgr.LoadSessionUser)

	// CSRF protection middleware with path-based exemption for endpoints that
	// cannot carry a token. Cookie name is "rentdesk_csrf" to avoid collisions
	// with other services on the same domain.
	csrfOpts := []csrf.Option{
		csrf.Secure(secure),
		csrf.Path("/"),
		csrf.CookieName("rentdesk_csrf"),
		csrf.FieldName("csrf_token"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			logger.Warn("CSRF validation failed",
				zap.String("path", req.URL.Path),
				zap.String("method", req.Method),
				zap.String("reason", csrf.FailureReason(req).Error()),
			)
			jsonutil.Error(w, http.StatusForbidden, "CSRF token invalid or missing")
		})),
	}
	// In dev mode, trust localhost origins for CSRF validation.
	trustedOrigins := []string{
		"localhost:8080",
		"localhost:3000",
		"127.0.0.1:8080",
		"127.0.0.1:3000",
	}
	if !secure {
		csrfOpts = append(csrfOpts, csrf.TrustedOrigins(trustedOrigins))
	}
	if appCfg.SessionDomain != "" {
		csrfOpts = append(csrfOpts, csrf.Domain(appCfg.SessionDomain))
	}
	csrfProtect := csrf.Protect([]byte(appCfg.CSRFKey), csrfOpts...)

	// Wrap CSRF middleware to skip for:
	// - Login (no session exists yet, so there is no token to present)
	// - Logout beacon (navigator.sendBeacon cannot attach headers)
	csrfMiddleware := func(next http.Handler) http.Handler {
		csrfHandler := csrfProtect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			switch req.URL.Path {
			case "/api/auth/login", "/api/auth/logout-beacon":
				next.ServeHTTP(w, req)
				return
			}
			csrfHandler.ServeHTTP(w, req)
		})
	}
	r.Use(csrfMiddleware)

	// ─────────────────────────────────────────────────────────────────────────────
	// Routes
	// ─────────────────────────────────────────────────────────────────────────────

	// Health check endpoints for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, sessionLogs, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))
	healthfeature.MountRootEndpoints(r, healthHandler)

	// Rate limiting for login attempts (nil if disabled)
	var rateLimitStore *ratelimit.Store
	if appCfg.RateLimitEnabled {
		rateLimitStore = ratelimit.New(
			deps.MongoDatabase,
			appCfg.RateLimitLoginAttempts,
			appCfg.RateLimitLoginWindow,
			appCfg.RateLimitLoginLockout,
		)
	}

	// Authentication
	loginHandler := loginfeature.NewHandler(
		deps.MongoDatabase,
		sessionMgr,
		auditLogger,
		sessionLogs,
		rateLimitStore,
		logger,
	)
	r.Mount("/api/auth/login", loginfeature.Routes(loginHandler))

	logoutHandler := logoutfeature.NewHandler(sessionMgr, auditLogger, sessionLogs, adminstore.New(deps.MongoDatabase), logger)
	r.Mount("/api/auth/logout", logoutfeature.Routes(logoutHandler, sessionMgr))

	// Logout beacon for browser-close. Unauthenticated; see the beacon
	// package for why.
	beaconHandler := beaconfeature.NewHandler(deps.MongoDatabase, sessionLogs, adminstore.New(deps.MongoDatabase), auditLogger, logger)
	r.Mount("/api/auth/logout-beacon", beaconfeature.Routes(beaconHandler))

	// Google OAuth (only mount if configured)
	googleEnabled := appCfg.GoogleClientID != "" && appCfg.GoogleClientSecret != ""
	if googleEnabled {
		oauthStateStore := oauthstate.New(deps.MongoDatabase)
		googleHandler := authgooglefeature.NewHandler(
			deps.MongoDatabase,
			sessionMgr,
			auditLogger,
			sessionLogs,
			oauthStateStore,
			appCfg.GoogleClientID,
			appCfg.GoogleClientSecret,
			appCfg.BaseURL,
			logger,
		)
		r.Mount("/api/auth/google", authgooglefeature.Routes(googleHandler))
		logger.Info("Google OAuth enabled", zap.String("redirect_url", appCfg.BaseURL+"/api/auth/google/callback"))
	}

	// Login audit listing and CSV export (any signed-in staff role)
	loginAuditHandler := loginauditfeature.NewHandler(deps.MongoDatabase, logger)
	r.Route("/api/audit/logins", func(sr chi.Router) {
		sr.Use(sessionMgr.RequireRole("admin", "support", "developer"))
		sr.Mount("/", loginauditfeature.Routes(loginAuditHandler))
	})

	// Account management (admin only; role check lives in accounts.Routes)
	accountsHandler := accountsfeature.NewHandler(deps.MongoDatabase, auditLogger, logger)
	r.Mount("/api/accounts", accountsfeature.Routes(accountsHandler, sessionMgr))

	// 404 catch-all for unmatched routes
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		jsonutil.NotFound(w, "not found")
	})

	return r, nil
}
