package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"stockclass/internal/access"
	"stockclass/internal/kv"
)

var ErrNoSession = errors.New("no saved session")

// SaveSession remembers who is logged in between stk invocations.
func SaveSession(ctx context.Context, store kv.Store, s access.Session) error {
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := store.Set(ctx, access.SessionKey, body); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func LoadSession(ctx context.Context, store kv.Store) (access.Session, error) {
	body, err := store.Get(ctx, access.SessionKey)
	if errors.Is(err, kv.ErrNotFound) {
		return access.Session{}, ErrNoSession
	}
	if err != nil {
		return access.Session{}, err
	}
	var s access.Session
	if err := json.Unmarshal(body, &s); err != nil {
		return access.Session{}, err
	}
	if s.Role == access.RoleNone {
		return access.Session{}, ErrNoSession
	}
	return s, nil
}

func ClearSession(ctx context.Context, store kv.Store) error {
	return store.Delete(ctx, access.SessionKey)
}
