package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"mailsmith/internal/types"
)

// --- Mock KeyRepo ---

type mockKeyRepo struct {
	mock.Mock
}

func (m *mockKeyRepo) Create(ctx context.Context, key *types.APIKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *mockKeyRepo) GetActiveByPrefix(ctx context.Context, prefix string) (*types.APIKey, error) {
	args := m.Called(ctx, prefix)
	if k := args.Get(0); k != nil {
		return k.(*types.APIKey), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockKeyRepo) TouchLastUsed(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockKeyRepo) Revoke(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// --- Mock PasswordHasher ---

type mockPasswordHasher struct {
	mock.Mock
}

func (m *mockPasswordHasher) CompareHashAndPassword(hashedPassword, password string) error {
	args := m.Called(hashedPassword, password)
	return args.Error(0)
}

func (m *mockPasswordHasher) GenerateFromPassword(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

// --- Stub KeyGenerator ---

type stubKeyGen struct {
	plaintext string
	prefix    string
	err       error
}

func (g *stubKeyGen) GenerateKey() (string, string, error) {
	return g.plaintext, g.prefix, g.err
}

// --- Test Logger & Clock ---

// testLogger records warnings for assertions and drops everything else.
type testLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *testLogger) Info(string, ...any)  {}
func (l *testLogger) Error(string, ...any) {}

func (l *testLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *testLogger) With(...any) types.Logger { return l }

func (l *testLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

func newTestService(repo KeyRepo, hasher PasswordHasher, gen KeyGenerator) (*KeyService, *testLogger) {
	logger := &testLogger{}
	svc := NewKeyService(KeyServiceConfig{
		Repo:   repo,
		Hasher: hasher,
		KeyGen: gen,
		Clock:  fixedClock{t: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)},
		Logger: logger,
	})
	return svc, logger
}

// ============================================================
// IssueKey Tests
// ============================================================

func TestKeyService_IssueKey_Success(t *testing.T) {
	repo := new(mockKeyRepo)
	hasher := new(mockPasswordHasher)
	gen := &stubKeyGen{plaintext: "ms_c2VjcmV0bWF0ZXJpYWw", prefix: "ms_c2VjcmV0"}
	svc, _ := newTestService(repo, hasher, gen)
	ctx := context.Background()

	hasher.On("GenerateFromPassword", "ms_c2VjcmV0bWF0ZXJpYWw").
		Return("$2a$10$storedhash", nil)
	repo.On("Create", ctx, mock.AnythingOfType("*types.APIKey")).Return(nil)

	key, plaintext, err := svc.IssueKey(ctx, "ci-pipeline")
	require.NoError(t, err)

	assert.Equal(t, "ms_c2VjcmV0bWF0ZXJpYWw", plaintext)
	assert.True(t, strings.HasPrefix(key.ID, "key_"))
	assert.Equal(t, "ci-pipeline", key.Name)
	assert.Equal(t, "ms_c2VjcmV0", key.Prefix)
	assert.Equal(t, "$2a$10$storedhash", key.KeyHash)
	assert.Equal(t, time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC), key.CreatedAt)
	repo.AssertExpectations(t)
}

func TestKeyService_IssueKey_GeneratorError(t *testing.T) {
	repo := new(mockKeyRepo)
	hasher := new(mockPasswordHasher)
	gen := &stubKeyGen{err: errors.New("entropy exhausted")}
	svc, _ := newTestService(repo, hasher, gen)

	_, _, err := svc.IssueKey(context.Background(), "ci-pipeline")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalUnexpected, appErr.Code)
}

func TestKeyService_IssueKey_HasherError(t *testing.T) {
	repo := new(mockKeyRepo)
	hasher := new(mockPasswordHasher)
	gen := &stubKeyGen{plaintext: "ms_c2VjcmV0bWF0ZXJpYWw", prefix: "ms_c2VjcmV0"}
	svc, _ := newTestService(repo, hasher, gen)

	hasher.On("GenerateFromPassword", mock.AnythingOfType("string")).
		Return("", errors.New("cost out of range"))

	_, _, err := svc.IssueKey(context.Background(), "ci-pipeline")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalUnexpected, appErr.Code)
}

func TestKeyService_IssueKey_RepoErrorPassthrough(t *testing.T) {
	repo := new(mockKeyRepo)
	hasher := new(mockPasswordHasher)
	gen := &stubKeyGen{plaintext: "ms_c2VjcmV0bWF0ZXJpYWw", prefix: "ms_c2VjcmV0"}
	svc, _ := newTestService(repo, hasher, gen)
	ctx := context.Background()

	dbErr := types.NewAppError(types.ErrCodeInternalDB, "failed to create api key", nil)
	hasher.On("GenerateFromPassword", mock.AnythingOfType("string")).Return("$2a$10$h", nil)
	repo.On("Create", ctx, mock.Anything).Return(dbErr)

	_, _, err := svc.IssueKey(ctx, "ci-pipeline")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

// ============================================================
// VerifyKey Tests
// ============================================================

func TestKeyService_VerifyKey_Success(t *testing.T) {
	repo := new(mockKeyRepo)
	hasher := new(mockPasswordHasher)
	svc, _ := newTestService(repo, hasher, &stubKeyGen{})
	ctx := context.Background()

	rawKey := "ms_Zm9vYmFyYmF6cXV4cXV1eA"
	stored := &types.APIKey{ID: "key_1", Prefix: "ms_Zm9vYmFy", KeyHash: "$2a$10$h"}

	repo.On("GetActiveByPrefix", ctx, "ms_Zm9vYmFy").Return(stored, nil)
	hasher.On("CompareHashAndPassword", "$2a$10$h", rawKey).Return(nil)
	repo.On("TouchLastUsed", ctx, "key_1").Return(nil)

	key, err := svc.VerifyKey(ctx, rawKey)
	require.NoError(t, err)
	assert.Equal(t, "key_1", key.ID)
	repo.AssertExpectations(t)
}

func TestKeyService_VerifyKey_Malformed(t *testing.T) {
	repo := new(mockKeyRepo)
	hasher := new(mockPasswordHasher)
	svc, _ := newTestService(repo, hasher, &stubKeyGen{})

	for _, raw := range []string{"", "ms_short", "sk_live_WRONGSCHEME0000"} {
		_, err := svc.VerifyKey(context.Background(), raw)
		require.Error(t, err, "raw=%q", raw)

		var appErr *types.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, types.ErrCodeAuthKeyInvalid, appErr.Code)
	}
}

func TestKeyService_VerifyKey_UnknownPrefix(t *testing.T) {
	repo := new(mockKeyRepo)
	hasher := new(mockPasswordHasher)
	svc, _ := newTestService(repo, hasher, &stubKeyGen{})
	ctx := context.Background()

	notFound := types.NewAppError(types.ErrCodeNotFoundAPIKey, "api key not found", nil)
	repo.On("GetActiveByPrefix", ctx, mock.AnythingOfType("string")).Return(nil, notFound)

	_, err := svc.VerifyKey(ctx, "ms_dW5rbm93bnByZWZpeHh4")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	// Masked: callers cannot distinguish unknown from revoked or mismatched.
	assert.Equal(t, types.ErrCodeAuthKeyInvalid, appErr.Code)
}

func TestKeyService_VerifyKey_WrongSecret(t *testing.T) {
	repo := new(mockKeyRepo)
	hasher := new(mockPasswordHasher)
	svc, _ := newTestService(repo, hasher, &stubKeyGen{})
	ctx := context.Background()

	stored := &types.APIKey{ID: "key_1", Prefix: "ms_Zm9vYmFy", KeyHash: "$2a$10$h"}
	repo.On("GetActiveByPrefix", ctx, mock.AnythingOfType("string")).Return(stored, nil)
	hasher.On("CompareHashAndPassword", mock.Anything, mock.Anything).
		Return(bcrypt.ErrMismatchedHashAndPassword)

	_, err := svc.VerifyKey(ctx, "ms_Zm9vYmFyV1JPTkdTRUNSRVQ")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthKeyInvalid, appErr.Code)
}

func TestKeyService_VerifyKey_RepoErrorPassthrough(t *testing.T) {
	repo := new(mockKeyRepo)
	hasher := new(mockPasswordHasher)
	svc, _ := newTestService(repo, hasher, &stubKeyGen{})
	ctx := context.Background()

	dbErr := types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve api key", nil)
	repo.On("GetActiveByPrefix", ctx, mock.AnythingOfType("string")).Return(nil, dbErr)

	_, err := svc.VerifyKey(ctx, "ms_Zm9vYmFyYmF6cXV4cXV1eA")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestKeyService_VerifyKey_TouchFailureNonFatal(t *testing.T) {
	repo := new(mockKeyRepo)
	hasher := new(mockPasswordHasher)
	svc, logger := newTestService(repo, hasher, &stubKeyGen{})
	ctx := context.Background()

	rawKey := "ms_Zm9vYmFyYmF6cXV4cXV1eA"
	stored := &types.APIKey{ID: "key_1", Prefix: "ms_Zm9vYmFy", KeyHash: "$2a$10$h"}

	repo.On("GetActiveByPrefix", ctx, "ms_Zm9vYmFy").Return(stored, nil)
	hasher.On("CompareHashAndPassword", "$2a$10$h", rawKey).Return(nil)
	repo.On("TouchLastUsed", ctx, "key_1").Return(errors.New("deadlock"))

	key, err := svc.VerifyKey(ctx, rawKey)
	require.NoError(t, err)
	assert.Equal(t, "key_1", key.ID)
	assert.Equal(t, 1, logger.warnCount())
}

// TestKeyService_IssueAndVerify_RoundTrip exercises the production generator
// and bcrypt hasher end to end at the minimum cost factor.
func TestKeyService_IssueAndVerify_RoundTrip(t *testing.T) {
	repo := new(mockKeyRepo)
	svc, _ := newTestService(repo, NewBcryptHasher(bcrypt.MinCost), &CryptoKeyGenerator{})
	ctx := context.Background()

	var created *types.APIKey
	repo.On("Create", ctx, mock.AnythingOfType("*types.APIKey")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*types.APIKey)
		}).
		Return(nil)

	issued, plaintext, err := svc.IssueKey(ctx, "round-trip")
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, issued.ID, created.ID)
	assert.NotContains(t, created.KeyHash, plaintext)

	repo.On("GetActiveByPrefix", ctx, issued.Prefix).Return(created, nil)
	repo.On("TouchLastUsed", ctx, issued.ID).Return(nil)

	verified, err := svc.VerifyKey(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, issued.ID, verified.ID)
}

// ============================================================
// RevokeKey Tests
// ============================================================

func TestKeyService_RevokeKey_Success(t *testing.T) {
	repo := new(mockKeyRepo)
	svc, _ := newTestService(repo, new(mockPasswordHasher), &stubKeyGen{})
	ctx := context.Background()

	repo.On("Revoke", ctx, "key_1").Return(nil)

	err := svc.RevokeKey(ctx, "key_1")
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestKeyService_RevokeKey_NotFound(t *testing.T) {
	repo := new(mockKeyRepo)
	svc, _ := newTestService(repo, new(mockPasswordHasher), &stubKeyGen{})
	ctx := context.Background()

	notFound := types.NewAppError(types.ErrCodeNotFoundAPIKey, "api key not found or already revoked", nil)
	repo.On("Revoke", ctx, "key_gone").Return(notFound)

	err := svc.RevokeKey(ctx, "key_gone")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundAPIKey, appErr.Code)
}
