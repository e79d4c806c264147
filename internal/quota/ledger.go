package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voicegate-labs/voicegate/internal/config"
	"github.com/voicegate-labs/voicegate/internal/store"
)

var (
	// ErrQuotaExceeded indicates the request would push character_count past
	// character_limit. The count is left unchanged.
	ErrQuotaExceeded = errors.New("character quota exceeded")
	// ErrNoUser indicates the user row does not exist.
	ErrNoUser = errors.New("user does not exist")
)

// User is a row of the users table.
type User struct {
	ID             int64 `json:"id"`
	AccountStatus  int32 `json:"account_status"`
	CharacterCount int64 `json:"character_count"`
	CharacterLimit int64 `json:"character_limit"`
}

// Ledger tracks per-user character consumption. It is the only writer of
// character_count, and every update is a single conditional statement so the
// invariant character_count <= character_limit holds under concurrent use.
type Ledger struct {
	st           *store.Store
	defaultLimit int64
	log          *slog.Logger
}

func NewLedger(st *store.Store, cfg config.QuotaConfig, log *slog.Logger) *Ledger {
	return &Ledger{
		st:           st,
		defaultLimit: cfg.DefaultCharacterLimit,
		log:          log.With(slog.String("component", "quota-ledger")),
	}
}

// GetOrCreate fetches the user row, creating it with defaults when absent.
// Idempotent under concurrent first use: the insert ignores conflicts and the
// row is re-read afterwards.
func (l *Ledger) GetOrCreate(ctx context.Context, id int64) (User, error) {
	user, err := l.Get(ctx, id)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNoUser) {
		return User{}, err
	}

	_, err = l.st.DB().ExecContext(ctx,
		`INSERT INTO users(id, account_status, character_count, character_limit)
		 VALUES(?, 0, 0, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, l.defaultLimit)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	l.log.Info("user created", slog.Int64("user_id", id), slog.Int64("character_limit", l.defaultLimit))
	return l.Get(ctx, id)
}

// Get fetches the user row without modifying state.
func (l *Ledger) Get(ctx context.Context, id int64) (User, error) {
	var user User
	err := l.st.DB().QueryRowContext(ctx,
		`SELECT id, account_status, character_count, character_limit FROM users WHERE id = ?`, id).
		Scan(&user.ID, &user.AccountStatus, &user.CharacterCount, &user.CharacterLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNoUser
	}
	if err != nil {
		return User{}, fmt.Errorf("fetch user: %w", err)
	}
	return user, nil
}

// UseCapacity atomically consumes length characters of quota. The check and
// the increment are one conditional UPDATE, so two concurrent callers can
// never jointly overshoot the limit.
func (l *Ledger) UseCapacity(ctx context.Context, id int64, length int64) error {
	if length < 0 {
		return fmt.Errorf("negative length %d", length)
	}
	res, err := l.st.DB().ExecContext(ctx,
		`UPDATE users SET character_count = character_count + ?1
		 WHERE id = ?2 AND character_count + ?1 <= character_limit`,
		length, id)
	if err != nil {
		return fmt.Errorf("use capacity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("use capacity: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// The guarded update touched nothing: either the row is missing or the
	// quota check failed.
	if _, err := l.Get(ctx, id); err != nil {
		return err
	}
	return ErrQuotaExceeded
}
