// internal/app/store/admins/fetcher.go
package adminstore

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: The hex form of the admin's MongoDB ObjectID (_id)
//   - Email / email: The address the admin signs in with (stored lowercase)

import (
	"context"

	"github.com/dalemusser/rentdesk/internal/app/system/auth"
	"github.com/dalemusser/rentdesk/internal/app/system/normalize"
	"github.com/dalemusser/rentdesk/internal/app/system/timeouts"
	"github.com/dalemusser/rentdesk/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Fetcher implements auth.UserFetcher to load fresh admin data on each request.
// It fetches account data from MongoDB.
type Fetcher struct {
	admins *mongo.Collection
	logger *zap.Logger
}

// NewFetcher creates a UserFetcher that queries the given database.
func NewFetcher(db *mongo.Database, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		admins: db.Collection("admins"),
		logger: logger,
	}
}

// FetchUser retrieves an admin by account ID and returns nil if the account is
// not found, disabled, or if any error occurs. This implements auth.UserFetcher.
func (f *Fetcher) FetchUser(ctx context.Context, accountID string) *auth.SessionUser {
	oid, err := primitive.ObjectIDFromHex(accountID)
	if err != nil {
		return nil
	}

	// Use a short timeout for the DB query
	ctx, cancel := context.WithTimeout(ctx, timeouts.Short())
	defer cancel()

	// Fetch with a projection for only the fields the session needs
	var a models.Admin
	proj := options.FindOne().SetProjection(bson.M{
		"_id":         1,
		"full_name":   1,
		"email":       1,
		"auth_method": 1,
		"role":        1,
		"status":      1,
	})

	if err := f.admins.FindOne(ctx, bson.M{"_id": oid}, proj).Decode(&a); err != nil {
		// Account not found or DB error
		return nil
	}

	if normalize.Status(a.Status) == "disabled" {
		return nil
	}

	return &auth.SessionUser{
		ID:    a.ID.Hex(),
		Name:  a.FullName,
		Email: a.Email,
		Role:  normalize.Role(a.Role),
	}
}
