package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles the access token may carry
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Username       string
	FirstName      string
	LastName       string
	PhoneNumber    string
	HashedPassword string
	Role           string
}
