package principal

import (
	"context"
	"database/sql"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// TokenRecord is one persisted token value keyed by its fixed storage name.
type TokenRecord struct {
	bun.BaseModel `bun:"table:auth_tokens,alias:tok"`

	Key       string    `bun:"key,pk" json:"key"`
	Value     string    `bun:"value,notnull" json:"value"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// BunTokenStore persists the token pair through bun. Both values live in the
// same table under the fixed keys and every mutation touches them together
// inside one transaction.
type BunTokenStore struct {
	db     *bun.DB
	logger Logger
}

// NewBunTokenStore wraps a bun database. Call Install once to create the table.
func NewBunTokenStore(db *bun.DB) *BunTokenStore {
	return &BunTokenStore{db: db, logger: defLogger{}}
}

// WithLogger overrides the store logger.
func (s *BunTokenStore) WithLogger(logger Logger) *BunTokenStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Install creates the backing table when missing.
func (s *BunTokenStore) Install(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*TokenRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create auth_tokens table")
	}
	return nil
}

func (s *BunTokenStore) Get(ctx context.Context) (Tokens, bool, error) {
	var records []TokenRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("key IN (?, ?)", AccessTokenKey, RefreshTokenKey).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return Tokens{}, false, nil
		}
		return Tokens{}, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read tokens")
	}

	var tokens Tokens
	for _, record := range records {
		switch record.Key {
		case AccessTokenKey:
			tokens.AccessToken = record.Value
		case RefreshTokenKey:
			tokens.RefreshToken = record.Value
		}
	}

	return tokens, tokens.HasAccess(), nil
}

func (s *BunTokenStore) Set(ctx context.Context, tokens Tokens) error {
	now := time.Now()
	records := []TokenRecord{
		{Key: AccessTokenKey, Value: tokens.AccessToken, UpdatedAt: now},
		{Key: RefreshTokenKey, Value: tokens.RefreshToken, UpdatedAt: now},
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for i := range records {
			_, err := tx.NewInsert().
				Model(&records[i]).
				On("CONFLICT (key) DO UPDATE").
				Set("value = EXCLUDED.value").
				Set("updated_at = EXCLUDED.updated_at").
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist tokens")
	}

	return nil
}

// Clear removes both values together; the pair is never deleted independently.
func (s *BunTokenStore) Clear(ctx context.Context) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*TokenRecord)(nil)).
			Where("key IN (?, ?)", AccessTokenKey, RefreshTokenKey).
			Exec(ctx)
		return err
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear tokens")
	}
	return nil
}

var _ TokenStore = (*BunTokenStore)(nil)
