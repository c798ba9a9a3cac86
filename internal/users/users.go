package users

import (
	"time"

	"github.com/google/uuid"
)

// User is an owner of conversations and memories. There is no
// authentication layer; users are plain owner records.
type User struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateUserRequest is the API payload for registering an owner.
type CreateUserRequest struct {
	DisplayName string `json:"display_name" validate:"required,min=1,max=120"`
}
