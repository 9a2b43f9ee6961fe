package domain

import "github.com/google/uuid"

type AccountStatus string

const (
	AccountActive  AccountStatus = "active"
	AccountBanned  AccountStatus = "banned"
	AccountRevoked AccountStatus = "revoked"

	// AccountDormant is only meaningful to purchase gating, where a dormant
	// account shops as an outsider instead of being locked out entirely.
	// The shared layer mapping does not know about it.
	AccountDormant AccountStatus = "dormant"
)

type Account struct {
	ID     uuid.UUID
	Role   string
	Status AccountStatus
}
