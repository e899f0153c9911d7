// Package mirror writes password values to the external user-record store.
// Writes are idempotent set-password commands; the store is never read.
package mirror

import "context"

// Store is the single operation the sync coordinator needs from the mirror.
type Store interface {
	SetPassword(ctx context.Context, email, value string) error
}
