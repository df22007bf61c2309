// internal/app/store/sessionlog/store.go
package sessionlog

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: The hex form of the admin's MongoDB ObjectID (_id)
//   - Email / email: The address the admin signs in with (stored lowercase)

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/rentdesk/internal/app/system/normalize"
	"github.com/dalemusser/rentdesk/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Logout sources. Stored on the closed entry's end_reason field.
const (
	SourceExplicit = "explicit" // user clicked sign out
	SourceBeacon   = "beacon"   // navigator.sendBeacon on tab close
)

// maxLoginRetries bounds the compare-and-swap loop in RecordLogin.
// Contention on a single account's log is rare (a human signing in),
// so a small bound is plenty.
const maxLoginRetries = 3

// ErrConcurrentUpdate is returned when RecordLogin loses the CAS race
// more times than maxLoginRetries allows.
var ErrConcurrentUpdate = errors.New("session log modified concurrently; retries exhausted")

// Store manages per-account session log documents in MongoDB.
//
// Each account has at most one document (unique index on account_id)
// holding the full login/logout history as an embedded array. The write
// paths maintain the invariant that at most one entry in the array is
// open (logout_at == nil) at any time.
type Store struct {
	c *mongo.Collection
}

// New creates a new session log Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("session_logs")}
}

// EnsureIndexes creates indexes for efficient querying.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		// One log per account
		{
			Keys:    bson.D{{Key: "account_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_sessionlog_account"),
		},
		// Presence queries (who's online) walk the open entries
		{
			Keys:    bson.D{{Key: "sessions.logout_at", Value: 1}},
			Options: options.Index().SetName("idx_sessionlog_open"),
		},
		// Email search in the audit listing
		{
			Keys:    bson.D{{Key: "email_ci", Value: 1}},
			Options: options.Index().SetName("idx_sessionlog_email_ci"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// RecordLogin records a sign-in for the account at the given time.
//
// Behavior:
//   - No document yet: insert a fresh log with a single open entry.
//   - Document with an open entry: refresh that entry's login_at
//     (a reconnect or duplicate-tab login never creates a second open entry).
//   - Document with all entries closed: append a new open entry.
//
// The read-modify-write is guarded by a compare-and-swap on the
// document's updated_at snapshot, so two concurrent logins cannot
// silently drop each other's writes. A lost CAS re-reads and retries.
func (s *Store) RecordLogin(ctx context.Context, accountID, email string, at time.Time) error {
	at = at.UTC()
	email = normalize.Email(email)

	for attempt := 0; attempt < maxLoginRetries; attempt++ {
		var log models.SessionLog
		err := s.c.FindOne(ctx, bson.M{"account_id": accountID}).Decode(&log)
		if err == mongo.ErrNoDocuments {
			doc := models.SessionLog{
				ID:        primitive.NewObjectID(),
				AccountID: accountID,
				Email:     email,
				EmailCI:   text.Fold(email),
				Sessions:  []models.SessionEntry{{LoginAt: at}},
				UpdatedAt: at,
			}
			if _, err := s.c.InsertOne(ctx, doc); err != nil {
				if wafflemongo.IsDup(err) {
					// Concurrent first login created the document; re-read
					// and take the update path.
					continue
				}
				return err
			}
			return nil
		}
		if err != nil {
			return err
		}

		snapshot := log.UpdatedAt
		if i := log.OpenEntry(); i >= 0 {
			log.Sessions[i].LoginAt = at
		} else {
			log.Sessions = append(log.Sessions, models.SessionEntry{LoginAt: at})
		}
		log.Email = email
		log.EmailCI = text.Fold(email)
		log.UpdatedAt = at

		res, err := s.c.ReplaceOne(ctx, bson.M{"_id": log.ID, "updated_at": snapshot}, log)
		if err != nil {
			return err
		}
		if res.MatchedCount == 1 {
			return nil
		}
		// Someone else won the race between our read and write; retry
		// against the fresh document.
	}
	return ErrConcurrentUpdate
}

// RecordLogout closes the account's open entry, if any, stamping it
// with the given time and source ("explicit" or "beacon").
//
// Returns true if an entry was closed. An absent document and an
// already-closed log are both safe no-ops returning false: a beacon can
// fire after an explicit logout, and a logout can race a fresh install
// with no log at all.
func (s *Store) RecordLogout(ctx context.Context, accountID string, at time.Time, source string) (bool, error) {
	at = at.UTC()
	source = normalize.Source(source)

	// Single atomic positional update: the filter only matches while an
	// open entry exists, so concurrent logouts cannot double-close.
	// $elemMatch is required rather than the dotted form: a null match on
	// "sessions.logout_at" also matches an empty sessions array (retention
	// pruning can empty one), and then the positional $ has no element to
	// bind to and the update errors.
	res, err := s.c.UpdateOne(ctx,
		bson.M{
			"account_id": accountID,
			"sessions":   bson.M{"$elemMatch": bson.M{"logout_at": nil}},
		},
		bson.M{
			"$set": bson.M{
				"sessions.$.logout_at":  at,
				"sessions.$.end_reason": source,
				"updated_at":            at,
			},
		},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

// GetByAccount loads the session log for one account.
// Returns mongo.ErrNoDocuments if the account has never logged in.
func (s *Store) GetByAccount(ctx context.Context, accountID string) (*models.SessionLog, error) {
	var log models.SessionLog
	if err := s.c.FindOne(ctx, bson.M{"account_id": accountID}).Decode(&log); err != nil {
		return nil, err
	}
	return &log, nil
}

// IsOnline reports whether the account currently has an open entry.
// Accounts with no session log or a fully pruned one are offline;
// $elemMatch keeps an empty sessions array from matching the null probe.
func (s *Store) IsOnline(ctx context.Context, accountID string) (bool, error) {
	err := s.c.FindOne(ctx, bson.M{
		"account_id": accountID,
		"sessions":   bson.M{"$elemMatch": bson.M{"logout_at": nil}},
	}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// All returns every session log document. The back office has a bounded
// staff population, so loading all logs for the audit listing is fine.
func (s *Store) All(ctx context.Context) ([]models.SessionLog, error) {
	cur, err := s.c.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var logs []models.SessionLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// CountOnline counts accounts with an open entry.
func (s *Store) CountOnline(ctx context.Context) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{
		"sessions": bson.M{"$elemMatch": bson.M{"logout_at": nil}},
	})
}

// PruneClosedBefore removes closed entries that ended before the cutoff
// from every log. Open entries are never pruned. Returns the number of
// documents modified.
func (s *Store) PruneClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	// $lt with a Date is type-bracketed in MongoDB and never matches the
	// null logout_at of an open entry.
	res, err := s.c.UpdateMany(ctx,
		bson.M{"sessions.logout_at": bson.M{"$lt": cutoff}},
		bson.M{
			"$pull": bson.M{
				"sessions": bson.M{"logout_at": bson.M{"$lt": cutoff}},
			},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
