package projection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coffeeshop.io/coffeeshop/internal/storage"
)

// Token is a processing group's progress through the event log.
type Token struct {
	Group string `json:"processingGroup"`
	// Position is the global position of the last event handled; 0 means none.
	Position int64 `json:"position"`
	// ReplayUntil is the position the group had reached before its last
	// reset. Events at or below it are redelivered with the replay flag.
	ReplayUntil int64     `json:"replayUntil"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Replaying reports whether the group is redelivering events after a reset.
func (t Token) Replaying() bool {
	return t.Position < t.ReplayUntil
}

// IsReplay reports whether the event at position is a redelivery.
func (t Token) IsReplay(position int64) bool {
	return position <= t.ReplayUntil
}

// TokenStore persists tokens. Save participates in the transaction carried
// by ctx so a token only moves together with the read-model write.
type TokenStore interface {
	// Load returns the zero token for a group that has never run.
	Load(ctx context.Context, group string) (Token, error)
	Save(ctx context.Context, token Token) error
}

// MemoryTokens is the in-memory TokenStore.
type MemoryTokens struct {
	tokens map[string]Token
	mu     sync.RWMutex
}

// NewMemoryTokens creates an empty MemoryTokens.
func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{tokens: make(map[string]Token)}
}

type stagedTokens struct {
	store  *MemoryTokens
	tokens map[string]Token
}

func (s *stagedTokens) Prepare() error { return nil }

func (s *stagedTokens) Apply() {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for group, tok := range s.tokens {
		s.store.tokens[group] = tok
	}
}

func (m *MemoryTokens) openStage() *stagedTokens {
	return &stagedTokens{store: m, tokens: make(map[string]Token)}
}

func (m *MemoryTokens) Load(ctx context.Context, group string) (Token, error) {
	var (
		tok Token
		ok  bool
	)
	storage.Peek(ctx, m, func(s *stagedTokens) { tok, ok = s.tokens[group] })
	if ok {
		return tok, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tok, ok := m.tokens[group]; ok {
		return tok, nil
	}
	return Token{Group: group}, nil
}

func (m *MemoryTokens) Save(ctx context.Context, token Token) error {
	if token.Group == "" {
		return fmt.Errorf("token requires a processing group")
	}
	if token.UpdatedAt.IsZero() {
		token.UpdatedAt = time.Now().UTC()
	}

	staged, err := storage.Stage(ctx, m, m.openStage, func(s *stagedTokens) error {
		s.tokens[token.Group] = token
		return nil
	})
	if staged {
		if err != nil {
			return fmt.Errorf("save token %s: %w", token.Group, err)
		}
		return nil
	}

	m.mu.Lock()
	m.tokens[token.Group] = token
	m.mu.Unlock()
	return nil
}

// PostgresTokens keeps tokens in the tracking_tokens table.
type PostgresTokens struct {
	pool *pgxpool.Pool
}

// NewPostgresTokens creates a PostgresTokens on pool.
func NewPostgresTokens(pool *pgxpool.Pool) *PostgresTokens {
	return &PostgresTokens{pool: pool}
}

func (p *PostgresTokens) Load(ctx context.Context, group string) (Token, error) {
	tok := Token{Group: group}
	err := storage.Conn(ctx, p.pool).QueryRow(ctx,
		`SELECT position, replay_until, updated_at FROM tracking_tokens WHERE processing_group = $1`,
		group,
	).Scan(&tok.Position, &tok.ReplayUntil, &tok.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{Group: group}, nil
	}
	if err != nil {
		return Token{}, fmt.Errorf("load token %s: %w", group, err)
	}
	return tok, nil
}

func (p *PostgresTokens) Save(ctx context.Context, token Token) error {
	if token.Group == "" {
		return fmt.Errorf("token requires a processing group")
	}
	if token.UpdatedAt.IsZero() {
		token.UpdatedAt = time.Now().UTC()
	}
	_, err := storage.Conn(ctx, p.pool).Exec(ctx,
		`INSERT INTO tracking_tokens (processing_group, position, replay_until, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (processing_group) DO UPDATE
		 SET position = EXCLUDED.position, replay_until = EXCLUDED.replay_until, updated_at = EXCLUDED.updated_at`,
		token.Group, token.Position, token.ReplayUntil, token.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save token %s: %w", token.Group, err)
	}
	return nil
}
