package models

import "github.com/google/uuid"

type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"password,omitempty"`
	Username string    `json:"username"`

	IsPremium bool `json:"is_premium"`
	IsAdmin   bool `json:"is_admin"`
}
