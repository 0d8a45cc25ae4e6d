package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvSecretStore reads credential payloads from environment variables. It
// stands in for a real secrets manager in development and small deploys;
// rotation via UpdateSecret is not supported.
//
// A secret key like "refunds/merch_1/stripe" maps to the variable
// REFUNDS_MERCH_1_STRIPE.
type EnvSecretStore struct{}

func envName(key string) string {
	name := strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(key)
	return strings.ToUpper(name)
}

// GetSecretJSON returns the raw payload stored under the key's variable.
func (EnvSecretStore) GetSecretJSON(ctx context.Context, key string) ([]byte, error) {
	v, ok := os.LookupEnv(envName(key))
	if !ok {
		return nil, fmt.Errorf("secret %s not set (env %s)", key, envName(key))
	}
	return []byte(v), nil
}

// UpdateSecret is unsupported: the process environment is read-only as a
// secret backend.
func (EnvSecretStore) UpdateSecret(ctx context.Context, key string, payload []byte) error {
	return fmt.Errorf("env secret store is read-only, cannot update %s", key)
}
