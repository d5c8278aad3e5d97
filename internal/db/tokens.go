package db

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Permission is an API access tier. Each tier includes the ones below it.
type Permission string

const (
	PermMonitor   Permission = "monitor"
	PermControl   Permission = "control"
	PermConfigure Permission = "configure"
)

var permRank = map[Permission]int{
	PermMonitor:   1,
	PermControl:   2,
	PermConfigure: 3,
}

// ParsePermission validates a permission name.
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := permRank[p]; !ok {
		return "", fmt.Errorf("unknown permission %q (want monitor, control or configure)", s)
	}
	return p, nil
}

// Allows reports whether p grants required.
func (p Permission) Allows(required Permission) bool {
	return permRank[p] >= permRank[required] && permRank[required] > 0
}

// tokenPrefix marks rconsole API tokens.
const tokenPrefix = "rcs_"

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExists   = errors.New("a token with that name already exists")
	ErrInvalidToken  = errors.New("invalid token")
)

// Token describes a stored API token. The secret itself is never stored.
type Token struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Permission Permission `json:"permission"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsed   time.Time  `json:"last_used,omitempty"`
}

// CreateToken stores a new token and returns its plaintext form, which is
// shown once. The form is rcs_<id>_<secret>; the id locates the row and
// the secret is checked against a bcrypt hash.
func (d *Database) CreateToken(name string, perm Permission) (string, Token, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", Token{}, errors.New("token name is required")
	}
	if _, ok := permRank[perm]; !ok {
		return "", Token{}, fmt.Errorf("unknown permission %q", perm)
	}

	secretBytes := make([]byte, 24)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", Token{}, fmt.Errorf("failed to generate token: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", Token{}, fmt.Errorf("failed to hash token: %w", err)
	}

	t := Token{
		ID:         strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Name:       name,
		Permission: perm,
		CreatedAt:  time.Now().UTC(),
	}

	err = d.Transaction(func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow("SELECT COUNT(*) FROM api_tokens WHERE name = ?", name).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return ErrTokenExists
		}
		_, err := tx.Exec(`INSERT INTO api_tokens (id, name, hash, permission, created_at)
			VALUES (?, ?, ?, ?, ?)`, t.ID, t.Name, string(hash), string(t.Permission), toMillis(t.CreatedAt))
		return err
	})
	if err != nil {
		return "", Token{}, fmt.Errorf("failed to create token %s: %w", name, err)
	}

	return tokenPrefix + t.ID + "_" + secret, t, nil
}

// VerifyToken checks a plaintext token and returns its record. Last use
// is updated on success.
func (d *Database) VerifyToken(plaintext string) (Token, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(plaintext), tokenPrefix)
	if !ok {
		return Token{}, ErrInvalidToken
	}
	id, secret, ok := strings.Cut(rest, "_")
	if !ok || id == "" || secret == "" {
		return Token{}, ErrInvalidToken
	}

	var (
		t         Token
		hash      string
		perm      string
		createdMs int64
		usedMs    int64
	)
	err := d.QueryRow(`SELECT id, name, hash, permission, created_at, last_used
		FROM api_tokens WHERE id = ?`, id).Scan(&t.ID, &t.Name, &hash, &perm, &createdMs, &usedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrInvalidToken
	}
	if err != nil {
		return Token{}, fmt.Errorf("failed to look up token: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil {
		return Token{}, ErrInvalidToken
	}

	t.Permission = Permission(perm)
	t.CreatedAt = fromMillis(createdMs)
	t.LastUsed = time.Now().UTC()
	if _, err := d.Exec("UPDATE api_tokens SET last_used = ? WHERE id = ?", toMillis(t.LastUsed), t.ID); err != nil {
		return Token{}, fmt.Errorf("failed to update token: %w", err)
	}
	return t, nil
}

// ListTokens returns every token, oldest first.
func (d *Database) ListTokens() ([]Token, error) {
	rows, err := d.Query("SELECT id, name, permission, created_at, last_used FROM api_tokens ORDER BY created_at, name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var out []Token
	for rows.Next() {
		var (
			t                 Token
			perm              string
			createdMs, usedMs int64
		)
		if err := rows.Scan(&t.ID, &t.Name, &perm, &createdMs, &usedMs); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		t.Permission = Permission(perm)
		t.CreatedAt = fromMillis(createdMs)
		t.LastUsed = fromMillis(usedMs)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RevokeToken deletes the token with the given name or id.
func (d *Database) RevokeToken(nameOrID string) error {
	res, err := d.Exec("DELETE FROM api_tokens WHERE name = ? OR id = ?", nameOrID, nameOrID)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTokenNotFound
	}
	return nil
}
