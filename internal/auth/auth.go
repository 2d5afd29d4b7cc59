// Package auth implements API key issuance and verification for mailsmith.
// Keys follow a visible-prefix scheme: the plaintext is returned exactly
// once at issuance, only its bcrypt hash is stored, and the stored prefix
// lets verification fetch a single candidate row instead of scanning the
// table.
package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"mailsmith/internal/types"
)

// KeyRepo defines the data access methods needed by the KeyService.
type KeyRepo interface {
	Create(ctx context.Context, key *types.APIKey) error
	GetActiveByPrefix(ctx context.Context, prefix string) (*types.APIKey, error)
	TouchLastUsed(ctx context.Context, id string) error
	Revoke(ctx context.Context, id string) error
}

// PasswordHasher abstracts bcrypt operations for testability.
type PasswordHasher interface {
	CompareHashAndPassword(hashedPassword, password string) error
	GenerateFromPassword(password string) (string, error)
}

// bcryptHasher is the production implementation of PasswordHasher.
type bcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a PasswordHasher using bcrypt at the given cost.
// Cost 0 falls back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) PasswordHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &bcryptHasher{cost: cost}
}

func (b *bcryptHasher) CompareHashAndPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func (b *bcryptHasher) GenerateFromPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// KeyService issues, verifies, and revokes API keys.
type KeyService struct {
	repo   KeyRepo
	hasher PasswordHasher
	keyGen KeyGenerator
	clock  types.Clock
	logger types.Logger
}

// KeyServiceConfig holds the dependencies for creating a KeyService.
type KeyServiceConfig struct {
	Repo   KeyRepo
	Hasher PasswordHasher
	KeyGen KeyGenerator
	Clock  types.Clock
	Logger types.Logger
}

// NewKeyService creates a new KeyService. If Hasher is nil the production
// bcrypt hasher at default cost is used; if KeyGen is nil the crypto/rand
// generator is used; if Clock is nil RealClock is used. Repo and Logger are
// required.
func NewKeyService(cfg KeyServiceConfig) *KeyService {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	keyGen := cfg.KeyGen
	if keyGen == nil {
		keyGen = &CryptoKeyGenerator{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &KeyService{
		repo:   cfg.Repo,
		hasher: hasher,
		keyGen: keyGen,
		clock:  clock,
		logger: cfg.Logger,
	}
}

// IssueKey generates a new API key, persists its bcrypt hash, and returns
// the stored row together with the plaintext. The plaintext is never stored
// and cannot be recovered after this call returns.
func (s *KeyService) IssueKey(ctx context.Context, name string) (*types.APIKey, string, error) {
	plaintext, prefix, err := s.keyGen.GenerateKey()
	if err != nil {
		return nil, "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate api key", err)
	}

	hash, err := s.hasher.GenerateFromPassword(plaintext)
	if err != nil {
		return nil, "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash api key", err)
	}

	key := &types.APIKey{
		ID:        "key_" + uuid.New().String(),
		Name:      name,
		Prefix:    prefix,
		KeyHash:   hash,
		CreatedAt: s.clock.Now(),
	}

	if err := s.repo.Create(ctx, key); err != nil {
		return nil, "", err
	}

	s.logger.Info("api key issued",
		"key_id", key.ID,
		"prefix", prefix,
	)

	return key, plaintext, nil
}

// VerifyKey authenticates a presented key. The lookup runs against the
// stored prefix so the bcrypt comparison only ever sees one candidate hash.
// Malformed keys, unknown prefixes, revoked keys, and hash mismatches are
// all reported identically as ErrCodeAuthKeyInvalid so callers cannot
// enumerate key material.
func (s *KeyService) VerifyKey(ctx context.Context, rawKey string) (*types.APIKey, error) {
	prefix, ok := KeyPrefix(rawKey)
	if !ok {
		return nil, types.NewAppError(types.ErrCodeAuthKeyInvalid, "invalid api key", nil)
	}

	key, err := s.repo.GetActiveByPrefix(ctx, prefix)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundAPIKey {
			return nil, types.NewAppError(types.ErrCodeAuthKeyInvalid, "invalid api key", nil)
		}
		return nil, err
	}

	if err := s.hasher.CompareHashAndPassword(key.KeyHash, rawKey); err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthKeyInvalid, "invalid api key", nil)
	}

	// Lost touches must never fail an authenticated request.
	if err := s.repo.TouchLastUsed(ctx, key.ID); err != nil {
		s.logger.Warn("failed to update api key last_used_at",
			"key_id", key.ID,
			"error", err,
		)
	}

	return key, nil
}

// RevokeKey revokes the key with the given ID. Revocation takes effect on
// the next VerifyKey call; there is no token cache to invalidate.
func (s *KeyService) RevokeKey(ctx context.Context, id string) error {
	if err := s.repo.Revoke(ctx, id); err != nil {
		return err
	}
	s.logger.Info("api key revoked", "key_id", id)
	return nil
}
