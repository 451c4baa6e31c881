package model

import (
	"time"
)

// Resolver is a registered, authorized liquidity provider.
type Resolver struct {
	Address      string    `db:"address"`
	Name         string    `db:"name"`
	RegisteredAt time.Time `db:"registered_at"`
}
