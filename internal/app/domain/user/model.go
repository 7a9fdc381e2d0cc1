package user

import "time"

// User is an authenticated owner of projects, library entities and a points
// wallet.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
