package engine

import (
	"context"
	"strconv"
	"strings"
)

// CredentialManager is the external collaborator that resolves a
// credential id to its decrypted field map. The engine never inspects or
// logs the contents it returns (§4.7).
type CredentialManager interface {
	Resolve(ctx context.Context, credentialID int) (map[string]interface{}, error)
}

// isCredentialKey reports whether a config key names a credential:
// exactly "credential_id", or any key ending in "_credential_id".
func isCredentialKey(key string) bool {
	return key == "credential_id" || strings.HasSuffix(key, "_credential_id")
}

// resolveCredentials scans a node's config for credential-id keys and asks
// the CredentialManager for each one's decrypted map, returning
// {credential_id -> fields}. A config with no credential keys resolves to
// an empty, non-nil map.
func resolveCredentials(ctx context.Context, mgr CredentialManager, config map[string]interface{}) (map[string]map[string]interface{}, error) {
	out := make(map[string]map[string]interface{})
	if mgr == nil {
		return out, nil
	}
	for key, raw := range config {
		if !isCredentialKey(key) {
			continue
		}
		id, ok := toInt(raw)
		if !ok {
			continue
		}
		fields, err := mgr.Resolve(ctx, id)
		if err != nil {
			return nil, &ConfigurationError{Message: "unresolvable credential id " + strconv.Itoa(id) + ": " + err.Error()}
		}
		out[strconv.Itoa(id)] = fields
	}
	return out, nil
}

func toInt(raw interface{}) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}
