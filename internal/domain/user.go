package domain

import "time"

// User is an allow-list entry for an externally authenticated identity.
type User struct {
	ID             string
	Name           string
	Email          string
	GithubUsername string
	IsAuthorized   bool
	IsAdmin        bool
	LastSignInAt   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Identity is an external account asserted by the sign-in gateway.
type Identity struct {
	Provider string
	Username string
	Email    string
	Name     string
}
