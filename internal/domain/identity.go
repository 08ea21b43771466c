package domain

import (
	"github.com/google/uuid"
)

type Identity struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
}

// Job is the subset of a gig the messaging core needs: who posted it.
type Job struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`
	Title   string    `json:"title"`
}

// UnknownIdentity is shown until a profile lookup succeeds.
func UnknownIdentity(id uuid.UUID) Identity {
	return Identity{ID: id, DisplayName: "User"}
}
