package admission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	StageIdentity = "identity"

	DefaultIdentityCacheTTL = 600 * time.Second
)

// KeyDirectory looks up active API keys in the durable directory.
type KeyDirectory interface {
	FindTenantByKeyHash(ctx context.Context, hash string) (uuid.UUID, bool, error)
}

type identityEntry struct {
	TenantID uuid.UUID `json:"tenant_id"`
}

// HashCredential returns the hex SHA-256 digest under which keys are stored.
func HashCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

func IdentityCacheKey(digest string) string {
	return fmt.Sprintf("apikey:%s", digest)
}

// IdentityResolver maps an API key to its tenant, cache-aside over the fast
// store and the durable directory.
type IdentityResolver struct {
	cache     Cache
	directory KeyDirectory
	cfg       ResolverConfig
	log       *zap.Logger
}

func NewIdentityResolver(cache Cache, directory KeyDirectory, cfg ResolverConfig, log *zap.Logger) *IdentityResolver {
	return &IdentityResolver{
		cache:     cache,
		directory: directory,
		cfg:       cfg.withDefaults(DefaultIdentityCacheTTL),
		log:       log.Named(StageIdentity),
	}
}

func (r *IdentityResolver) Name() string { return StageIdentity }

func (r *IdentityResolver) Admit(ctx context.Context, req *Request) error {
	credential := strings.TrimSpace(req.Credential())
	if credential == "" {
		return missingCredential()
	}

	digest := HashCredential(credential)
	key := IdentityCacheKey(digest)
	log := r.log.With(zap.String("key_digest", digest[:12]))

	tenantID, found, err := r.fromCache(ctx, key, log)
	if err != nil {
		log.Error("identity cache read failed", zap.Error(err))
		return resolverFailure("Identity resolution failed", err)
	}

	if !found {
		tenantID, found, err = r.fromDirectory(ctx, digest)
		if err != nil {
			log.Error("api key lookup failed", zap.Error(err))
			return resolverFailure("Identity resolution failed", err)
		}
		if !found {
			log.Debug("unknown or inactive api key")
			return invalidCredential()
		}
		r.store(ctx, key, tenantID, log)
	}

	if err := req.SetTenant(tenantID); err != nil {
		return missingContext(StageIdentity)
	}

	return nil
}

// fromCache reports a miss for absent and for unreadable entries.
func (r *IdentityResolver) fromCache(ctx context.Context, key string, log *zap.Logger) (uuid.UUID, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	raw, err := r.cache.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		r.cfg.Observer.CacheLookup(StageIdentity, false)
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}

	var entry identityEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.TenantID == uuid.Nil {
		log.Warn("discarding malformed identity cache entry", zap.Error(err))
		r.cfg.Observer.CacheLookup(StageIdentity, false)
		return uuid.Nil, false, nil
	}

	log.Debug("identity cache hit")
	r.cfg.Observer.CacheLookup(StageIdentity, true)
	return entry.TenantID, true, nil
}

func (r *IdentityResolver) fromDirectory(ctx context.Context, digest string) (uuid.UUID, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	var (
		tenantID uuid.UUID
		found    bool
	)
	err := r.cfg.Breaker.Call(func() error {
		var err error
		tenantID, found, err = r.directory.FindTenantByKeyHash(ctx, digest)
		return err
	})

	return tenantID, found, err
}

// store is best-effort; a failed write only costs a later directory lookup.
func (r *IdentityResolver) store(ctx context.Context, key string, tenantID uuid.UUID, log *zap.Logger) {
	payload, err := json.Marshal(identityEntry{TenantID: tenantID})
	if err != nil {
		log.Warn("failed to encode identity cache entry", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	if err := r.cache.Set(ctx, key, payload, r.cfg.CacheTTL); err != nil {
		log.Warn("identity cache write failed", zap.Error(err))
		return
	}

	log.Debug("identity cached", zap.String("tenant_id", tenantID.String()))
}
