package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/lantuyan/crawler-f1-sub000/pkg/model"
	"github.com/lantuyan/crawler-f1-sub000/pkg/retry"
)

// ErrNotFound is returned when a profile URL has no mirror row.
var ErrNotFound = errors.New("profile not found")

// Profile is one mirrored profile row. first_seen and last_seen give the
// audit trail the CSV files cannot: the stored CSV prunes a profile the
// moment one crawl misses it, the mirror remembers when it was last alive.
type Profile struct {
	ID        uuid.UUID      `db:"id" json:"id"`
	URL       string         `db:"url" json:"url"`
	Nickname  string         `db:"nickname" json:"nickname"`
	Canton    string         `db:"canton" json:"canton,omitempty"`
	City      string         `db:"city" json:"city,omitempty"`
	Category  string         `db:"category" json:"category,omitempty"`
	Phone     string         `db:"phone" json:"phone,omitempty"`
	Active    bool           `db:"active" json:"active"`
	Certified bool           `db:"certified" json:"certified"`
	About     string         `db:"about" json:"about,omitempty"`
	Visits    int            `db:"visits" json:"visits"`
	Likes     int            `db:"likes" json:"likes"`
	Followers int            `db:"followers" json:"followers"`
	Reviews   int            `db:"reviews" json:"reviews"`
	Services  pq.StringArray `db:"services" json:"services,omitempty"`
	Link      string         `db:"link" json:"link,omitempty"`
	Status    string         `db:"status" json:"status,omitempty"`
	FirstSeen time.Time      `db:"first_seen" json:"first_seen"`
	LastSeen  time.Time      `db:"last_seen" json:"last_seen"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// ProfileFilters narrows ListProfiles results.
type ProfileFilters struct {
	Canton     *string
	City       *string
	Category   *string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// ProfileStore defines the interface for mirrored profile data access.
type ProfileStore interface {
	UpsertProfiles(ctx context.Context, records []*model.ProfileRecord) error
	DeleteMissing(ctx context.Context, keepURLs []string) (int64, error)
	GetProfileByURL(ctx context.Context, url string) (*Profile, error)
	ListProfiles(ctx context.Context, filters ProfileFilters) ([]*Profile, error)
	CountProfiles(ctx context.Context) (int, error)
}

// profileStore implements ProfileStore on Postgres.
type profileStore struct {
	db     *DB
	logger *zap.Logger
}

// NewProfileStore creates a profile store.
func NewProfileStore(db *DB, logger *zap.Logger) ProfileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &profileStore{db: db, logger: logger}
}

// UpsertProfiles writes records into the mirror in one transaction, keyed
// by URL. Existing rows are refreshed and their last_seen advanced; the
// whole batch is retried with backoff on transient failures.
func (s *profileStore) UpsertProfiles(ctx context.Context, records []*model.ProfileRecord) error {
	if len(records) == 0 {
		return nil
	}

	retryCfg := retry.RetryStorageOperation()
	retryCfg.Logger = s.logger

	err := retry.Retry(ctx, retryCfg, func() error {
		return s.upsertOnce(ctx, records)
	})
	if err != nil {
		s.logger.Error("Failed to upsert profiles", zap.Int("count", len(records)), zap.Error(err))
		return fmt.Errorf("failed to upsert profiles: %w", err)
	}

	s.logger.Info("Profiles mirrored", zap.Int("count", len(records)))
	return nil
}

func (s *profileStore) upsertOnce(ctx context.Context, records []*model.ProfileRecord) error {
	query := `
		INSERT INTO profiles (
			id, url, nickname, canton, city, category, phone, active,
			certified, about, visits, likes, followers, reviews, services,
			link, status
		) VALUES (
			:id, :url, :nickname, :canton, :city, :category, :phone, :active,
			:certified, :about, :visits, :likes, :followers, :reviews, :services,
			:link, :status
		)
		ON CONFLICT (url) DO UPDATE SET
			nickname = EXCLUDED.nickname,
			canton = EXCLUDED.canton,
			city = EXCLUDED.city,
			category = EXCLUDED.category,
			phone = EXCLUDED.phone,
			active = EXCLUDED.active,
			certified = EXCLUDED.certified,
			about = EXCLUDED.about,
			visits = EXCLUDED.visits,
			likes = EXCLUDED.likes,
			followers = EXCLUDED.followers,
			reviews = EXCLUDED.reviews,
			services = EXCLUDED.services,
			link = EXCLUDED.link,
			status = EXCLUDED.status,
			last_seen = NOW(),
			updated_at = NOW()`

	return s.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		for _, record := range records {
			if _, err := tx.NamedExecContext(ctx, query, profileFromRecord(record)); err != nil {
				return fmt.Errorf("upsert %s: %w", record.URL, err)
			}
		}
		return nil
	})
}

// DeleteMissing removes mirror rows whose URL is not in keepURLs, returning
// how many were pruned. An empty keep set clears the mirror.
func (s *profileStore) DeleteMissing(ctx context.Context, keepURLs []string) (int64, error) {
	query := `DELETE FROM profiles WHERE NOT (url = ANY($1))`

	result, err := s.db.ExecContext(ctx, query, pq.Array(keepURLs))
	if err != nil {
		s.logger.Error("Failed to prune mirrored profiles", zap.Error(err))
		return 0, fmt.Errorf("failed to prune profiles: %w", err)
	}

	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if pruned > 0 {
		s.logger.Info("Pruned mirrored profiles", zap.Int64("count", pruned))
	}
	return pruned, nil
}

// GetProfileByURL retrieves one mirrored profile by its URL key.
func (s *profileStore) GetProfileByURL(ctx context.Context, url string) (*Profile, error) {
	var profile Profile
	query := `SELECT * FROM profiles WHERE url = $1`

	err := s.db.GetContext(ctx, &profile, query, url)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
		}
		s.logger.Error("Failed to get profile", zap.Error(err), zap.String("url", url))
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &profile, nil
}

// ListProfiles queries mirrored profiles with optional filters.
func (s *profileStore) ListProfiles(ctx context.Context, filters ProfileFilters) ([]*Profile, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if filters.Canton != nil {
		args = append(args, *filters.Canton)
		conditions = append(conditions, fmt.Sprintf("canton = $%d", len(args)))
	}
	if filters.City != nil {
		args = append(args, *filters.City)
		conditions = append(conditions, fmt.Sprintf("city = $%d", len(args)))
	}
	if filters.Category != nil {
		args = append(args, *filters.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filters.ActiveOnly {
		conditions = append(conditions, "active = TRUE")
	}

	query := fmt.Sprintf(`SELECT * FROM profiles WHERE %s ORDER BY last_seen DESC`,
		strings.Join(conditions, " AND "))

	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	profiles := []*Profile{}
	if err := s.db.SelectContext(ctx, &profiles, query, args...); err != nil {
		s.logger.Error("Failed to list profiles", zap.Error(err))
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	return profiles, nil
}

// CountProfiles returns the number of mirrored profiles.
func (s *profileStore) CountProfiles(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM profiles`); err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return count, nil
}

// profileFromRecord maps a harvested record onto its mirror row.
func profileFromRecord(record *model.ProfileRecord) *Profile {
	return &Profile{
		ID:        uuid.New(),
		URL:       record.URL,
		Nickname:  record.Nickname,
		Canton:    record.Canton,
		City:      record.City,
		Category:  record.Category,
		Phone:     record.Phone,
		Active:    record.Active,
		Certified: record.Certified,
		About:     record.About,
		Visits:    record.Visits,
		Likes:     record.Likes,
		Followers: record.Followers,
		Reviews:   record.Reviews,
		Services:  pq.StringArray(record.Services),
		Link:      record.Link,
		Status:    string(record.Status),
	}
}
