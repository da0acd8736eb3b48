// Package identity binds login identities to provisioned children.
package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"eleve/internal/database"
	"eleve/internal/errs"
	"eleve/internal/models"
	"eleve/internal/security"
)

// LocalProvider keeps login identities in the service's own database
type LocalProvider struct {
	db          *database.DB
	hasher      *security.Hasher
	emailDomain string
}

// NewLocalProvider creates a provider backed by the identities table.
// Recovery emails are synthesised as <handle>@<emailDomain>.
func NewLocalProvider(db *database.DB, hasher *security.Hasher, emailDomain string) *LocalProvider {
	return &LocalProvider{db: db, hasher: hasher, emailDomain: emailDomain}
}

// CreateIdentity stores a new identity and returns its ID
func (p *LocalProvider) CreateIdentity(ctx context.Context, handle, secret string, attrs models.IdentityAttributes) (string, error) {
	hash, err := p.hasher.Hash(secret)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("failed to encode identity attributes: %w", err)
	}

	id := uuid.NewString()
	query := `
		INSERT INTO identities (id, handle, secret_hash, email, attributes_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = p.db.ExecContext(ctx, query, id, handle, hash, p.email(handle), string(attrsJSON), time.Now().UTC().Truncate(time.Second))
	if err != nil {
		return "", p.classify("create identity", err)
	}
	return id, nil
}

// DeleteIdentity removes an identity. Deleting a missing identity is not an error.
func (p *LocalProvider) DeleteIdentity(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, "DELETE FROM identities WHERE id = ?", id); err != nil {
		return p.classify("delete identity", err)
	}
	return nil
}

// HandleExists reports whether an identity already uses handle
func (p *LocalProvider) HandleExists(ctx context.Context, handle string) (bool, error) {
	var count int
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM identities WHERE handle = ?", handle).Scan(&count); err != nil {
		return false, p.classify("check handle", err)
	}
	return count > 0, nil
}

// Authenticate checks a handle and secret and returns the identity ID
func (p *LocalProvider) Authenticate(ctx context.Context, handle, secret string) (string, error) {
	var id, hash string
	err := p.db.QueryRowContext(ctx, "SELECT id, secret_hash FROM identities WHERE handle = ?", handle).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("identity %s: %w", handle, errs.ErrNotFound)
	}
	if err != nil {
		return "", p.classify("authenticate", err)
	}
	if !p.hasher.Check(secret, hash) {
		return "", fmt.Errorf("identity %s: %w", handle, errs.ErrNotFound)
	}
	return id, nil
}

func (p *LocalProvider) email(handle string) string {
	return handle + "@" + p.emailDomain
}

// classify maps store errors onto the identity provider's error kinds
func (p *LocalProvider) classify(op string, err error) error {
	err = p.db.Classify(err)
	switch {
	case errors.Is(err, errs.ErrConflict):
		return fmt.Errorf("%s: %w: %w", op, errs.ErrDuplicateHandle, err)
	case errors.Is(err, errs.ErrStoreUnavailable):
		return fmt.Errorf("%s: %w: %w", op, errs.ErrProviderUnavailable, err)
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}
