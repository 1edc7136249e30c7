package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// TokenRepository looks up per-community VK access tokens. Tokens are
// provisioned by the OAuth flow outside this service.
type TokenRepository struct {
	db *sqlx.DB
}

func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// GetAccessToken returns the community's access token, or "" when no token
// row exists.
func (r *TokenRepository) GetAccessToken(ctx context.Context, communityID int64) (string, error) {
	query := `SELECT access_token FROM community_tokens WHERE community_id = ?`

	var token string
	if err := r.db.GetContext(ctx, &token, query, communityID); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get access token: %w", err)
	}

	return token, nil
}
