package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Token is a time-limited credential bound to a task. Only the SHA256 hash
// of the bearer string is stored; the cleartext is returned to the caller
// once at mint time.
type Token struct {
	bun.BaseModel `bun:"table:tokens,alias:tok"`

	TokenHash string    `bun:"token_hash,pk"`
	TaskID    string    `bun:"task_id,notnull,type:uuid"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
}

// Expired reports whether the token is past its expiry. Expired tokens are
// inert: any access deletes them and reports not-found.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
