package services

import "context"

// Directory answers whether an identifier is known to an external system
// such as the entity registry or the user directory.
type Directory interface {
	Exists(ctx context.Context, id string) (bool, error)
}

var (
	_ Directory = (*HTTPDirectory)(nil)
	_ Directory = (*MemoryDirectory)(nil)
)
