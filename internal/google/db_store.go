package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"golang.org/x/oauth2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/teemow/inboxagent/internal/logging"
	"github.com/teemow/inboxagent/internal/tokens"
)

// Credential is the persisted form of an OAuth token. Token fields hold
// ciphertext when the store has an encryption key.
type Credential struct {
	ID           uint   `gorm:"primaryKey"`
	UserID       string `gorm:"size:255;not null;uniqueIndex:idx_credential_user_service"`
	Service      string `gorm:"size:32;not null;uniqueIndex:idx_credential_user_service"`
	AccessToken  string `gorm:"size:4096"`
	RefreshToken string `gorm:"size:4096"`
	TokenType    string `gorm:"size:50"`
	Expiry       time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName pins the table name.
func (Credential) TableName() string {
	return "google_credentials"
}

// OpenDB opens a database from a DSN. DSNs starting with postgres:// or
// postgresql:// use Postgres, anything else is treated as a SQLite path
// (":memory:" included).
func OpenDB(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("credential store DSN is empty")
	}

	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}
	return db, nil
}

// DBCredentialStore is a CredentialStore backed by GORM.
type DBCredentialStore struct {
	db        *gorm.DB
	encryptor *Encryptor
	logger    *slog.Logger
}

// NewDBCredentialStore migrates the schema and returns the store.
func NewDBCredentialStore(db *gorm.DB, encryptor *Encryptor, logger *slog.Logger) (*DBCredentialStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if encryptor == nil {
		encryptor = &Encryptor{}
	}
	if err := db.AutoMigrate(&Credential{}); err != nil {
		return nil, fmt.Errorf("failed to migrate credential schema: %w", err)
	}
	if !encryptor.Enabled() {
		logger.Warn("Credential encryption disabled, OAuth tokens are stored in plaintext")
	}
	return &DBCredentialStore{db: db, encryptor: encryptor, logger: logger}, nil
}

// HasCredentials implements CredentialStore.
func (s *DBCredentialStore) HasCredentials(ctx context.Context, userID string, service tokens.Service) (bool, error) {
	tok, err := s.Credentials(ctx, userID, service)
	if errors.Is(err, ErrNoCredentials) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return usable(tok), nil
}

// StoreCredentials upserts the credential for (user, service).
func (s *DBCredentialStore) StoreCredentials(ctx context.Context, userID string, service tokens.Service, tok *oauth2.Token) error {
	if err := validateCredential(userID, tok); err != nil {
		return err
	}

	access, err := s.encryptor.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := s.encryptor.Encrypt(tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	cred := Credential{
		UserID:       userID,
		Service:      string(service),
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "service"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "token_type", "expiry", "updated_at"}),
	}).Create(&cred).Error
	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	s.logger.Debug("Stored credentials", logging.UserHash(userID), logging.Service(string(service)))
	return nil
}

// Credentials implements CredentialStore.
func (s *DBCredentialStore) Credentials(ctx context.Context, userID string, service tokens.Service) (*oauth2.Token, error) {
	order := lookupOrder(service)
	names := make([]string, len(order))
	for i, svc := range order {
		names[i] = string(svc)
	}

	var rows []Credential
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND service IN ?", userID, names).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	for _, svc := range order {
		for i := range rows {
			if rows[i].Service == string(svc) {
				return s.decode(&rows[i])
			}
		}
	}
	return nil, ErrNoCredentials
}

func (s *DBCredentialStore) decode(cred *Credential) (*oauth2.Token, error) {
	access, err := s.encryptor.Decrypt(cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := s.encryptor.Decrypt(cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    cred.TokenType,
		Expiry:       cred.Expiry,
	}, nil
}

// Ping checks database connectivity.
func (s *DBCredentialStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *DBCredentialStore) Close() error {
	return CloseDB(s.db)
}

// CloseDB closes the connection pool behind db.
func CloseDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
