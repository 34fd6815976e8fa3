package session

import "github.com/kbukum/authkit/token"

// Identity is the authenticated user as known to the client. It is set
// from the server's user object when a response carries one, or decoded
// from access-token claims otherwise; profile fetches take precedence
// over claims when both are available.
type Identity struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	IsVerified bool   `json:"is_verified"`
	Image      string `json:"image,omitempty"`
}

func identityFromClaims(c *token.Claims) *Identity {
	return &Identity{
		ID:         c.UserID,
		Username:   c.Username,
		Email:      c.Email,
		IsVerified: c.IsVerified,
		Image:      c.Image,
	}
}
