package security

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/PolicyRouter/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidCredentials is returned for unknown users, wrong passwords and disabled accounts.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Seed is a credential to upsert. Password may be plain text or a bcrypt hash.
type Seed struct {
	Username string
	Password string
	Admin    bool
}

// CredentialStore verifies basic auth identities against the credentials table.
type CredentialStore struct {
	db *gorm.DB
}

// NewCredentialStore builds a store over db.
func NewCredentialStore(db *gorm.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Upsert creates or replaces the credentials in seeds. Existing admin grants are kept.
func (s *CredentialStore) Upsert(ctx context.Context, seeds []Seed) error {
	for _, seed := range seeds {
		username := strings.TrimSpace(seed.Username)
		if username == "" || seed.Password == "" {
			return fmt.Errorf("credential: username and password are required")
		}
		hash := seed.Password
		if !IsBcryptHash(hash) {
			hashed, errHash := HashPassword(seed.Password)
			if errHash != nil {
				return fmt.Errorf("credential: hash %s: %w", username, errHash)
			}
			hash = hashed
		}
		row := models.Credential{Username: username, Password: hash, Active: true, IsAdmin: seed.Admin}
		updates := []string{"password", "active", "updated_at"}
		if seed.Admin {
			updates = append(updates, "is_admin")
		}
		if errUpsert := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}},
			DoUpdates: clause.AssignmentColumns(updates),
		}).Create(&row).Error; errUpsert != nil {
			return fmt.Errorf("credential: save %s: %w", username, errUpsert)
		}
	}
	return nil
}

// Verify returns the active credential matching username and password.
func (s *CredentialStore) Verify(ctx context.Context, username, password string) (*models.Credential, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalidCredentials
	}
	var row models.Credential
	errFind := s.db.WithContext(ctx).Where("username = ?", username).First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if errFind != nil {
		return nil, fmt.Errorf("credential: load %s: %w", username, errFind)
	}
	if !row.Active || !CheckPassword(row.Password, password) {
		return nil, ErrInvalidCredentials
	}
	return &row, nil
}

// EnsureAdmin creates an admin with a random password when no active admin exists.
// The generated password is returned so it can be shown once.
func (s *CredentialStore) EnsureAdmin(ctx context.Context, username string) (string, error) {
	var count int64
	if errCount := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("is_admin = ? AND active = ?", true, true).
		Count(&count).Error; errCount != nil {
		return "", fmt.Errorf("credential: count admins: %w", errCount)
	}
	if count > 0 {
		return "", nil
	}
	password, errGenerate := GeneratePassword(24)
	if errGenerate != nil {
		return "", errGenerate
	}
	if errUpsert := s.Upsert(ctx, []Seed{{Username: username, Password: password, Admin: true}}); errUpsert != nil {
		return "", errUpsert
	}
	log.Warnf("created bootstrap admin credential %q", username)
	return password, nil
}
