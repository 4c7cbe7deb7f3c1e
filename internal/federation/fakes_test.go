package federation

import (
	"context"
	"io"
	"sync"

	"oauthfed/pkg/logger"
	"oauthfed/pkg/oauth2"

	"github.com/stretchr/testify/mock"
)

var testLogger = logger.NewWithWriter("test", io.Discard)

type mockSettings struct {
	mock.Mock
}

func (m *mockSettings) FindSetting(ctx context.Context, provider string) (*ProviderSetting, error) {
	args := m.Called(ctx, provider)
	s, _ := args.Get(0).(*ProviderSetting)
	return s, args.Error(1)
}

func (m *mockSettings) ListEnabledSettings(ctx context.Context) ([]*ProviderSetting, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).([]*ProviderSetting)
	return s, args.Error(1)
}

type mockProviderClient struct {
	mock.Mock
}

func (m *mockProviderClient) AuthCodeURL(cfg oauth2.ProviderConfig, redirectURI, state string) (string, error) {
	args := m.Called(cfg, redirectURI, state)
	return args.String(0), args.Error(1)
}

func (m *mockProviderClient) ExchangeCode(ctx context.Context, cfg oauth2.ProviderConfig, code, redirectURI string) (*oauth2.TokenResult, error) {
	args := m.Called(ctx, cfg, code, redirectURI)
	t, _ := args.Get(0).(*oauth2.TokenResult)
	return t, args.Error(1)
}

func (m *mockProviderClient) RefreshToken(ctx context.Context, cfg oauth2.ProviderConfig, refreshToken string) (*oauth2.TokenResult, error) {
	args := m.Called(ctx, cfg, refreshToken)
	t, _ := args.Get(0).(*oauth2.TokenResult)
	return t, args.Error(1)
}

func (m *mockProviderClient) FetchProfile(ctx context.Context, cfg oauth2.ProviderConfig, accessToken string) (oauth2.RawProfile, error) {
	args := m.Called(ctx, cfg, accessToken)
	p, _ := args.Get(0).(oauth2.RawProfile)
	return p, args.Error(1)
}

// memoryStore keeps committed rows separately from the entities handed to
// callers, so tests observe only what SaveUser/SaveIdentity persisted.
type memoryStore struct {
	mu         sync.Mutex
	users      map[int64]User
	identities map[int64]LinkedIdentity
	saveErr    error
	saves      int
}

var _ AccountStore = (*memoryStore)(nil)

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:      make(map[int64]User),
		identities: make(map[int64]LinkedIdentity),
	}
}

func (s *memoryStore) FindUserByID(_ context.Context, id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *memoryStore) FindUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryStore) FindLinkedIdentity(_ context.Context, provider, remoteUserID string) (*LinkedIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, li := range s.identities {
		if li.Provider == provider && li.RemoteUserID == remoteUserID {
			return &li, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryStore) FindUserIdentity(_ context.Context, userID int64, provider string) (*LinkedIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, li := range s.identities {
		if li.UserID == userID && li.Provider == provider {
			return &li, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryStore) ListLinkedIdentities(_ context.Context, userID int64) ([]*LinkedIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*LinkedIdentity
	for _, li := range s.identities {
		if li.UserID == userID {
			out = append(out, &li)
		}
	}
	return out, nil
}

func (s *memoryStore) SaveUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	stored := *user
	stored.Identities = nil
	s.users[user.ID] = stored
	for _, li := range user.Identities {
		li.UserID = user.ID
		s.identities[li.ID] = *li
	}
	return nil
}

func (s *memoryStore) SaveIdentity(_ context.Context, identity *LinkedIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.identities[identity.ID] = *identity
	return nil
}

func (s *memoryStore) counts() (users, identities int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users), len(s.identities)
}

// fakeSession is a map-backed Session.
type fakeSession struct {
	values        map[string]string
	userID        int64
	loginComplete bool
	rotations     int
	rotateErr     error
}

func newFakeSession() *fakeSession {
	return &fakeSession{values: make(map[string]string)}
}

func (s *fakeSession) Set(_ context.Context, key, value string) error {
	s.values[key] = value
	return nil
}

func (s *fakeSession) Take(_ context.Context, key string) (string, error) {
	v := s.values[key]
	delete(s.values, key)
	return v, nil
}

func (s *fakeSession) Rotate(_ context.Context) error {
	if s.rotateErr != nil {
		return s.rotateErr
	}
	s.rotations++
	return nil
}

func (s *fakeSession) SetCurrentUser(_ context.Context, userID int64) error {
	s.userID = userID
	return nil
}

func (s *fakeSession) MarkLoginComplete(_ context.Context) error {
	s.loginComplete = true
	return nil
}
