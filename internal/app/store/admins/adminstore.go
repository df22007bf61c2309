// internal/app/store/admins/adminstore.go
package adminstore

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: The hex form of the admin's MongoDB ObjectID (_id)
//   - Email / email: The address the admin signs in with (stored lowercase)

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/rentdesk/internal/app/system/normalize"
	"github.com/dalemusser/rentdesk/internal/app/system/status"
	"github.com/dalemusser/rentdesk/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("admins")}
}

var (
	// ErrDuplicateEmail is returned when attempting to create an admin with an email that already exists.
	ErrDuplicateEmail = errors.New("an admin with this email already exists")
	errBadRole        = errors.New("invalid role")
	errBadStatus      = errors.New(`status must be "active"|"disabled"`)
)

// GetByID loads an admin by ObjectID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Admin, error) {
	var a models.Admin
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByAccountID loads an admin by the hex string form of its ObjectID.
func (s *Store) GetByAccountID(ctx context.Context, accountID string) (*models.Admin, error) {
	oid, err := primitive.ObjectIDFromHex(accountID)
	if err != nil {
		return nil, mongo.ErrNoDocuments
	}
	return s.GetByID(ctx, oid)
}

// GetByEmail looks up an admin by case/diacritic-insensitive email.
// Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.Admin, error) {
	var a models.Admin
	folded := text.Fold(normalize.Email(email))
	if err := s.c.FindOne(ctx, bson.M{"email_ci": folded}).Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts a new admin after normalizing & validating fields.
func (s *Store) Create(ctx context.Context, a models.Admin) (models.Admin, error) {
	a.ID = primitive.NewObjectID()
	a.FullName = normalize.Name(a.FullName)
	a.FullNameCI = text.Fold(a.FullName)
	a.Email = normalize.Email(a.Email)
	a.EmailCI = text.Fold(a.Email)

	if a.Status == "" {
		a.Status = status.Active
	}
	if !models.IsValidRole(a.Role) {
		return models.Admin{}, errBadRole
	}
	if !status.IsValid(a.Status) {
		return models.Admin{}, errBadStatus
	}

	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, a); err != nil {
		if wafflemongo.IsDup(err) {
			return models.Admin{}, ErrDuplicateEmail
		}
		return models.Admin{}, err
	}
	return a, nil
}

// List returns all admin accounts sorted by folded name.
func (s *Store) List(ctx context.Context) ([]models.Admin, error) {
	cur, err := s.c.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "full_name_ci", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var admins []models.Admin
	if err := cur.All(ctx, &admins); err != nil {
		return nil, err
	}
	return admins, nil
}

// UpdateRole changes an admin's role.
func (s *Store) UpdateRole(ctx context.Context, id primitive.ObjectID, role string) error {
	role = normalize.Role(role)
	if !models.IsValidRole(role) {
		return errBadRole
	}
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"role":       role,
		"updated_at": time.Now(),
	}})
	return err
}

// UpdateStatus changes an admin's status (active/disabled).
func (s *Store) UpdateStatus(ctx context.Context, id primitive.ObjectID, st string) error {
	st = normalize.Status(st)
	if !status.IsValid(st) {
		return errBadStatus
	}
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"status":     st,
		"updated_at": time.Now(),
	}})
	return err
}

// SetPasswordHash replaces an admin's bcrypt password hash.
func (s *Store) SetPasswordHash(ctx context.Context, id primitive.ObjectID, hash string) error {
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"password_hash": hash,
		"updated_at":    time.Now(),
	}})
	return err
}

// SetLastLogin updates the presence mirror's last_login field.
//
// The mirror is written best-effort after the session log and is
// deliberately not part of the same transaction; a failed mirror write
// is logged by the caller and never fails the sign-in. The session log
// is the source of truth for presence.
func (s *Store) SetLastLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	at = at.UTC()
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"last_login": at,
		"updated_at": at,
	}})
	return err
}

// SetLastLogout updates the presence mirror's last_logout field.
// Same best-effort semantics as SetLastLogin.
func (s *Store) SetLastLogout(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	at = at.UTC()
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"last_logout": at,
		"updated_at":  at,
	}})
	return err
}

// CountActiveAdmins returns the number of accounts with role=admin and status=active.
// Used to keep the back office from locking out its last administrator.
func (s *Store) CountActiveAdmins(ctx context.Context) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{
		"role":   models.RoleAdmin,
		"status": status.Active,
	})
}

// Delete deletes an admin by ID. Returns the number of documents deleted (0 or 1).
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
