package voter

import (
	"database/sql"
	"time"
)

// AuthorizedVoter is a member allowed to nominate, vote, and be counted as
// attending. The list is managed by admins only.
type AuthorizedVoter struct {
	UserID      int64
	AddedBy     int64
	DisplayName sql.NullString // optional, refreshed on re-add
	AddedAt     time.Time
}
