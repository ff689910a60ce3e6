package secrets

import (
	"context"

	"github.com/rappen/RappSack/internal/store"
)

// Vault holds environment variable values. Secret values are encrypted at
// rest (AES-256-GCM) and decrypted in-memory only. EnvironmentVariable
// satisfies plugin.EnvironmentVariables.
type Vault interface {
	Set(ctx context.Context, name, value string, secret bool) error
	EnvironmentVariable(ctx context.Context, name string) (string, bool, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]*store.EnvironmentVariable, error)
}

// VariableStore is the minimal persistence interface needed by the vault.
// Satisfied by store.Store.
type VariableStore interface {
	SetEnvironmentVariable(ctx context.Context, v *store.EnvironmentVariable) error
	GetEnvironmentVariable(ctx context.Context, name string) (*store.EnvironmentVariable, error)
	DeleteEnvironmentVariable(ctx context.Context, name string) error
	ListEnvironmentVariables(ctx context.Context) ([]*store.EnvironmentVariable, error)
}
