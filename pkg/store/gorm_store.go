package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"inkfolio/pkg/domain"
)

const migrateLockID int64 = 51820417

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&AccountModel{}, &UserModel{}, &ContentModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'books'
					AND constraint_name = 'books_type_check'
				) THEN
					ALTER TABLE books
					ADD CONSTRAINT books_type_check CHECK (type IN ('book', 'photo'));
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'books'
					AND constraint_name = 'books_status_check'
				) THEN
					ALTER TABLE books
					ADD CONSTRAINT books_status_check CHECK (status IN ('draft', 'published'));
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure content constraints: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateAccount inserts a new identity account.
func (s *GormStore) CreateAccount(ctx context.Context, a domain.Account) error {
	model := accountToModel(a)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

// GetAccountByEmail looks up an account by email.
func (s *GormStore) GetAccountByEmail(ctx context.Context, email string) (domain.Account, bool, error) {
	var model AccountModel
	if err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, err
	}
	return accountFromModel(model), true, nil
}

// GetAccountByID returns an account by ID.
func (s *GormStore) GetAccountByID(ctx context.Context, id string) (domain.Account, bool, error) {
	var model AccountModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, err
	}
	return accountFromModel(model), true, nil
}

// TouchAccountSignIn records the last successful sign-in.
func (s *GormStore) TouchAccountSignIn(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("id = ?", id).
		Update("last_sign_in_at", at.UTC()).Error
}

// UpsertUserByEmail creates a profile or overwrites the existing one with the same email.
func (s *GormStore) UpsertUserByEmail(ctx context.Context, u domain.User) (domain.User, error) {
	u.Email = normalizeEmail(u.Email)
	model := userToModel(u)
	err := s.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "bio", "avatar_url", "role", "updated_at"}),
		},
		clause.Returning{},
	).Create(&model).Error
	if err != nil {
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// GetUserByEmail looks up a profile by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// UpdateUser applies a partial profile update in one statement.
func (s *GormStore) UpdateUser(ctx context.Context, id string, in domain.ProfileInput, at time.Time) (domain.User, bool, error) {
	var models []UserModel
	res := s.db.WithContext(ctx).Model(&models).
		Clauses(clause.Returning{}).
		Where("id = ?", id).
		Updates(profileUpdates(in, at.UTC()))
	if res.Error != nil {
		return domain.User{}, false, res.Error
	}
	if res.RowsAffected == 0 || len(models) == 0 {
		return domain.User{}, false, nil
	}
	return userFromModel(models[0]), true, nil
}

// CreateContent inserts a content item.
func (s *GormStore) CreateContent(ctx context.Context, item domain.ContentItem) error {
	model := contentToModel(item)
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListContent returns items matching filter, newest first.
func (s *GormStore) ListContent(ctx context.Context, filter domain.ContentFilter) ([]domain.ContentItem, error) {
	filter = filter.Normalize()
	tx := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if filter.Type != "" {
		tx = tx.Where("type = ?", string(filter.Type))
	}
	if filter.Status != "" && filter.Status != domain.StatusAll {
		tx = tx.Where("status = ?", string(filter.Status))
	}
	if filter.Category != "" {
		tx = tx.Where("category = ?", filter.Category)
	}
	var models []ContentModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ContentItem, 0, len(models))
	for _, m := range models {
		item, err := contentFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, nil
}

// GetContent retrieves an item.
func (s *GormStore) GetContent(ctx context.Context, id string) (domain.ContentItem, bool, error) {
	var model ContentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ContentItem{}, false, nil
		}
		return domain.ContentItem{}, false, err
	}
	item, err := contentFromModel(model)
	if err != nil {
		return domain.ContentItem{}, false, err
	}
	return item, true, nil
}

// UpdateContent applies the supplied fields in one UPDATE ... RETURNING.
func (s *GormStore) UpdateContent(ctx context.Context, id string, in domain.ContentInput, at time.Time) (domain.ContentItem, bool, error) {
	var models []ContentModel
	res := s.db.WithContext(ctx).Model(&models).
		Clauses(clause.Returning{}).
		Where("id = ?", id).
		Updates(contentUpdates(in, at.UTC()))
	if res.Error != nil {
		return domain.ContentItem{}, false, res.Error
	}
	if res.RowsAffected == 0 || len(models) == 0 {
		return domain.ContentItem{}, false, nil
	}
	item, err := contentFromModel(models[0])
	if err != nil {
		return domain.ContentItem{}, false, err
	}
	return item, true, nil
}

// DeleteContent hard-deletes an item and reports whether it existed.
func (s *GormStore) DeleteContent(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&ContentModel{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SQLSTATE 23505")
}
