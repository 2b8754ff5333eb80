// Package auth provides optional static API-key authentication for the
// query endpoints. Keys are configured as "key:client:role|role" entries.
package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

type Identity struct {
	ClientID string
	Roles    []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses a comma-separated list of
// key:client:role|role entries. An empty spec yields a validator that
// rejects every key.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	if strings.TrimSpace(spec) == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		key, client, roles, err := parseEntry(strings.TrimSpace(entry))
		if err != nil {
			return nil, err
		}
		validator.keys[key] = Identity{ClientID: client, Roles: roles}
	}
	return validator, nil
}

func parseEntry(entry string) (key, client string, roles []string, err error) {
	parts := strings.Split(entry, ":")
	if len(parts) != 3 {
		return "", "", nil, fmt.Errorf("invalid static key entry %q: expected key:client:role|role", entry)
	}
	key = strings.TrimSpace(parts[0])
	client = strings.TrimSpace(parts[1])
	if key == "" || client == "" {
		return "", "", nil, fmt.Errorf("invalid static key entry %q: empty key or client", entry)
	}
	for _, role := range strings.Split(parts[2], "|") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return "", "", nil, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
	}
	slices.Sort(roles)
	return key, client, roles, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}
