// internal/app/system/tasks/jobs.go
package tasks

import (
	"context"
	"time"

	"github.com/dalemusser/rentdesk/internal/app/store/sessionlog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// OAuthStateCleanupJob creates a job that removes expired OAuth state tokens.
func OAuthStateCleanupJob(db *mongo.Database, logger *zap.Logger) Job {
	return Job{
		Name:     "oauth-state-cleanup",
		Interval: 1 * time.Hour,
		Run: func(ctx context.Context) error {
			coll := db.Collection("oauth_states")
			result, err := coll.DeleteMany(ctx, bson.M{
				"expires_at": bson.M{"$lt": time.Now()},
			})
			if err != nil {
				return err
			}
			if result.DeletedCount > 0 {
				logger.Info("cleaned up expired oauth states",
					zap.Int64("deleted", result.DeletedCount))
			}
			return nil
		},
	}
}

// RateLimitCleanupJob creates a job that removes stale login attempt records.
// The TTL index on rate_limits usually handles this; the job is a backstop for
// deployments where TTL monitors are disabled.
func RateLimitCleanupJob(db *mongo.Database, logger *zap.Logger) Job {
	return Job{
		Name:     "rate-limit-cleanup",
		Interval: 6 * time.Hour,
		Run: func(ctx context.Context) error {
			coll := db.Collection("rate_limits")
			result, err := coll.DeleteMany(ctx, bson.M{
				"expires_at": bson.M{"$lt": time.Now()},
			})
			if err != nil {
				return err
			}
			if result.DeletedCount > 0 {
				logger.Info("cleaned up stale login attempt records",
					zap.Int64("deleted", result.DeletedCount))
			}
			return nil
		},
	}
}

// SessionLogRetentionJob creates a job that prunes closed session entries older
// than the configured retention window. Open entries are never pruned, so an
// account that signed in before the cutoff and never signed out still shows as
// online. A retention of zero days disables pruning; callers should not
// register the job in that case.
func SessionLogRetentionJob(logs *sessionlog.Store, logger *zap.Logger, retentionDays int) Job {
	return Job{
		Name:     "session-log-retention",
		Interval: 12 * time.Hour,
		Run: func(ctx context.Context) error {
			cutoff := time.Now().AddDate(0, 0, -retentionDays)
			pruned, err := logs.PruneClosedBefore(ctx, cutoff)
			if err != nil {
				return err
			}
			if pruned > 0 {
				logger.Info("pruned closed session entries",
					zap.Int64("pruned", pruned),
					zap.Int("retention_days", retentionDays))
			}
			return nil
		},
	}
}

// MirrorDriftCheckJob creates a job that compares the last_login/last_logout
// mirror fields on admin accounts against the session log. The mirror writes
// are best-effort, so drift is expected occasionally; the job reports it
// without repairing anything, since the session log is the source of truth.
func MirrorDriftCheckJob(db *mongo.Database, logs *sessionlog.Store, logger *zap.Logger) Job {
	return Job{
		Name:     "mirror-drift-check",
		Interval: 24 * time.Hour,
		Run: func(ctx context.Context) error {
			docs, err := logs.All(ctx)
			if err != nil {
				return err
			}

			admins := db.Collection("admins")
			drifted := 0
			for _, doc := range docs {
				oid, err := primitive.ObjectIDFromHex(doc.AccountID)
				if err != nil {
					continue
				}

				var mirror struct {
					LastLogin  *time.Time `bson:"last_login"`
					LastLogout *time.Time `bson:"last_logout"`
				}
				err = admins.FindOne(ctx, bson.M{"_id": oid}).Decode(&mirror)
				if err != nil {
					if err == mongo.ErrNoDocuments {
						continue
					}
					return err
				}

				logLogin := doc.LastLogin()
				logLogout := doc.LastLogout()
				if timesDrift(mirror.LastLogin, logLogin) || timesDrift(mirror.LastLogout, logLogout) {
					drifted++
					logger.Warn("presence mirror drift detected",
						zap.String("account_id", doc.AccountID),
						zap.Timep("mirror_last_login", mirror.LastLogin),
						zap.Timep("log_last_login", logLogin),
						zap.Timep("mirror_last_logout", mirror.LastLogout),
						zap.Timep("log_last_logout", logLogout))
				}
			}

			if drifted > 0 {
				logger.Warn("presence mirror drift summary",
					zap.Int("accounts_drifted", drifted),
					zap.Int("accounts_checked", len(docs)))
			}
			return nil
		},
	}
}

// timesDrift reports whether two optional timestamps disagree by more than a
// second. Mongo stores dates at millisecond precision, so exact equality is
// too strict.
func timesDrift(a, b *time.Time) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil || b == nil {
		return true
	}
	d := a.Sub(*b)
	if d < 0 {
		d = -d
	}
	return d > time.Second
}
