package federation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"oauthfed/pkg/idgen"
	"oauthfed/pkg/oauth2"
)

// Linker decides which local user a provider login belongs to.
// It only mutates in-memory entities; the caller persists the result.
type Linker struct {
	store AccountStore
	ids   idgen.Generator
	now   func() time.Time
}

func NewLinker(store AccountStore, ids idgen.Generator) *Linker {
	return &Linker{
		store: store,
		ids:   ids,
		now:   time.Now,
	}
}

// LinkOrCreate returns the user owning the provider identity, creating the
// user and identity when needed. It returns (nil, nil) when no account can be
// resolved because the profile carries no usable email.
func (l *Linker) LinkOrCreate(ctx context.Context, provider string, profile *Profile, token *oauth2.TokenResult) (*User, error) {
	now := l.now().UTC()

	identity, err := l.store.FindLinkedIdentity(ctx, provider, profile.RemoteUserID)
	switch {
	case err == nil:
		return l.refreshExisting(ctx, identity, profile, token, now)
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("failed to find linked identity: %w", err)
	}

	var user *User
	if profile.Email != "" {
		user, err = l.store.FindUserByEmail(ctx, profile.Email)
		switch {
		case errors.Is(err, ErrNotFound):
			user = nil
		case err != nil:
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		case profile.EmailUnverified():
			// An unverified address must not take over an existing account.
			return nil, nil
		}
	}

	if user == nil {
		if profile.Email == "" {
			return nil, nil
		}
		name := profile.Name
		if name == "" {
			name = profile.Email
		}
		user = &User{
			ID:        l.ids.GenerateID(),
			Email:     profile.Email,
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	identity = &LinkedIdentity{
		ID:              l.ids.GenerateID(),
		UserID:          user.ID,
		Provider:        provider,
		RemoteUserID:    profile.RemoteUserID,
		RemoteEmail:     profile.Email,
		RemoteName:      profile.Name,
		RemoteAvatarURL: profile.AvatarURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	identity.applyToken(token)
	user.Identities = append(user.Identities, identity)
	return user, nil
}

func (l *Linker) refreshExisting(ctx context.Context, identity *LinkedIdentity, profile *Profile, token *oauth2.TokenResult, now time.Time) (*User, error) {
	identity.RemoteEmail = profile.Email
	identity.RemoteName = profile.Name
	identity.RemoteAvatarURL = profile.AvatarURL
	identity.applyToken(token)
	identity.UpdatedAt = now

	user, err := l.store.FindUserByID(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load owner of identity %d: %w", identity.ID, err)
	}
	user.Identities = append(user.Identities, identity)
	return user, nil
}
