package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"oauthfed/pkg/cache"
)

const (
	keyUserID        = "user_id"
	keyLoginComplete = "is_login_complete"

	// indexKey holds the space-separated names of every key written to the
	// session. Its presence is what makes an id a known session.
	indexKey = "_"

	idBytes = 32
)

// Session is a cache-backed key/value bag scoped to one visitor cookie.
type Session struct {
	id    string
	cache cache.Cache
	ttl   time.Duration

	onRotate func(id string)
}

func newID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) key(name string) string {
	return "session:" + s.id + ":" + name
}

// Get returns "" when the key is unset or expired.
func (s *Session) Get(ctx context.Context, key string) (string, error) {
	v, err := s.cache.Get(ctx, s.key(key))
	if errors.Is(err, cache.ErrMiss) {
		return "", nil
	}
	return v, err
}

func (s *Session) Set(ctx context.Context, key, value string) error {
	if err := s.cache.Set(ctx, s.key(key), value, s.ttl); err != nil {
		return err
	}

	names, err := s.names(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(names, key) {
		names = append(names, key)
	}
	return s.writeIndex(ctx, names)
}

// Take reads and clears key in one step, so a value is handed out at most once.
func (s *Session) Take(ctx context.Context, key string) (string, error) {
	v, err := s.cache.GetDel(ctx, s.key(key))
	if errors.Is(err, cache.ErrMiss) {
		return "", nil
	}
	return v, err
}

func (s *Session) Remove(ctx context.Context, key string) error {
	return s.cache.Del(ctx, s.key(key))
}

func (s *Session) SetCurrentUser(ctx context.Context, userID int64) error {
	return s.Set(ctx, keyUserID, strconv.FormatInt(userID, 10))
}

// CurrentUser returns the logged-in user id and whether one is set.
func (s *Session) CurrentUser(ctx context.Context) (int64, bool, error) {
	v, err := s.Get(ctx, keyUserID)
	if err != nil || v == "" {
		return 0, false, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return id, true, nil
}

func (s *Session) MarkLoginComplete(ctx context.Context) error {
	return s.Set(ctx, keyLoginComplete, "true")
}

func (s *Session) IsLoginComplete(ctx context.Context) (bool, error) {
	v, err := s.Get(ctx, keyLoginComplete)
	return v == "true", err
}

// Rotate moves every live value to a freshly generated id and retires the
// current one. Values already taken or expired are not carried over.
func (s *Session) Rotate(ctx context.Context) error {
	names, err := s.names(ctx)
	if err != nil {
		return err
	}
	id, err := newID()
	if err != nil {
		return err
	}

	next := &Session{id: id, cache: s.cache, ttl: s.ttl}
	live := make([]string, 0, len(names))
	for _, name := range names {
		v, err := s.cache.GetDel(ctx, s.key(name))
		if errors.Is(err, cache.ErrMiss) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to move session key %q: %w", name, err)
		}
		if err := s.cache.Set(ctx, next.key(name), v, s.ttl); err != nil {
			return fmt.Errorf("failed to move session key %q: %w", name, err)
		}
		live = append(live, name)
	}
	if err := next.writeIndex(ctx, live); err != nil {
		return err
	}
	if err := s.cache.Del(ctx, s.key(indexKey)); err != nil {
		return err
	}

	s.id = id
	if s.onRotate != nil {
		s.onRotate(id)
	}
	return nil
}

// Logout clears every value and retires the id.
func (s *Session) Logout(ctx context.Context) error {
	names, err := s.names(ctx)
	if err != nil {
		return err
	}
	errs := make([]error, 0, len(names)+1)
	for _, name := range names {
		errs = append(errs, s.Remove(ctx, name))
	}
	errs = append(errs, s.Remove(ctx, indexKey))
	return errors.Join(errs...)
}

// exists reports whether the id was issued by this server and is still live.
func (s *Session) exists(ctx context.Context) (bool, error) {
	_, err := s.cache.Get(ctx, s.key(indexKey))
	if errors.Is(err, cache.ErrMiss) {
		return false, nil
	}
	return err == nil, err
}

func (s *Session) names(ctx context.Context) ([]string, error) {
	v, err := s.cache.Get(ctx, s.key(indexKey))
	if errors.Is(err, cache.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return strings.Fields(v), nil
}

func (s *Session) writeIndex(ctx context.Context, names []string) error {
	return s.cache.Set(ctx, s.key(indexKey), strings.Join(names, " "), s.ttl)
}
