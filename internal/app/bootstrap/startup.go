// internal/app/bootstrap/startup.go
package bootstrap

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: The hex form of the admin's MongoDB ObjectID (_id)
//   - Email / email: The address the admin signs in with (stored lowercase)

import (
	"context"
	"time"

	"github.com/dalemusser/rentdesk/internal/app/store/sessionlog"
	"github.com/dalemusser/rentdesk/internal/app/system/normalize"
	"github.com/dalemusser/rentdesk/internal/app/system/tasks"
	"github.com/dalemusser/rentdesk/internal/domain/models"
	"github.com/dalemusser/waffle/config"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Startup runs once after DB connections and schema/index setup are complete,
// but before the HTTP handler is built and requests are served.
//
// This is the place for one-time initialization that depends on having live
// database connections and fully loaded configuration. Unlike ConnectDB and
// EnsureSchema which focus on infrastructure, Startup is for application-level
// initialization.
//
// Common uses for Startup:
//   - Warm caches with frequently accessed data
//   - Initialize in-memory lookup tables
//   - Validate external service connectivity
//   - Set up background workers or scheduled tasks
//
// Returning a non-nil error will abort startup and prevent the server from
// starting. Returning nil signals that initialization succeeded.
//
// The context will be cancelled if the process is asked to shut down while
// Startup is running; honor it in any long-running work.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	// Note: Indexes are created in EnsureSchema via indexes.EnsureAll().
	// Store-level EnsureIndexes() calls are not needed here.

	// Seed admin account if configured
	if appCfg.SeedAdminEmail != "" {
		if err := ensureAdminAccount(ctx, deps, appCfg.SeedAdminEmail, appCfg.SeedAdminName, logger); err != nil {
			logger.Error("failed to seed admin account", zap.Error(err))
			return err
		}
	}

	// Start background task runner
	startTaskRunner(deps.MongoDatabase, appCfg, logger)

	return nil
}

// taskRunner is the global task runner instance, used for graceful shutdown.
var taskRunner *tasks.Runner

// startTaskRunner initializes and starts the background task runner.
func startTaskRunner(db *mongo.Database, appCfg AppConfig, logger *zap.Logger) {
	taskRunner = tasks.New(logger)
	sessionLogs := sessionlog.New(db)

	// Register cleanup jobs
	taskRunner.Register(tasks.OAuthStateCleanupJob(db, logger))
	taskRunner.Register(tasks.RateLimitCleanupJob(db, logger))

	// Prune closed session entries past the retention window (if enabled)
	if appCfg.SessionLogRetentionDays > 0 {
		taskRunner.Register(tasks.SessionLogRetentionJob(sessionLogs, logger, appCfg.SessionLogRetentionDays))
	}

	// Watch for drift between session logs and the admin mirror fields
	taskRunner.Register(tasks.MirrorDriftCheckJob(db, sessionLogs, logger))

	// Start running jobs
	taskRunner.Start()
}

// ensureAdminAccount ensures an admin account exists with the given email.
// If an account exists with this email, ensure it has the admin role.
// If no account exists, create a new Google-auth admin account.
func ensureAdminAccount(ctx context.Context, deps DBDeps, email string, name string, logger *zap.Logger) error {
	db := deps.MongoDatabase
	coll := db.Collection("admins")

	email = normalize.Email(email)
	if name == "" {
		name = "Admin"
	}

	// Check if an account exists with this email
	var existing models.Admin
	err := coll.FindOne(ctx, bson.M{"email_ci": text.Fold(email)}).Decode(&existing)

	if err == nil {
		// Account exists
		if existing.Role == models.RoleAdmin {
			logger.Debug("admin account already configured", zap.String("email", email))
			return nil
		}

		// Promote to admin
		_, err = coll.UpdateByID(ctx, existing.ID, bson.M{
			"$set": bson.M{
				"role":       models.RoleAdmin,
				"updated_at": time.Now().UTC(),
			},
		})
		if err != nil {
			return err
		}
		logger.Info("promoted existing account to admin",
			zap.String("email", email),
			zap.String("account_id", existing.ID.Hex()),
			zap.String("previous_role", existing.Role))
		return nil
	}

	if err != mongo.ErrNoDocuments {
		return err
	}

	// Create new admin account. Seeded admins sign in with Google; a
	// password can be set later through the accounts API.
	now := time.Now().UTC()
	admin := models.Admin{
		ID:         primitive.NewObjectID(),
		FullName:   name,
		FullNameCI: text.Fold(name),
		Email:      email,
		EmailCI:    text.Fold(email),
		AuthMethod: "google",
		Role:       models.RoleAdmin,
		Status:     "active",
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err = coll.InsertOne(ctx, admin)
	if err != nil {
		return err
	}

	logger.Info("created admin account",
		zap.String("email", email),
		zap.String("account_id", admin.ID.Hex()))
	return nil
}
