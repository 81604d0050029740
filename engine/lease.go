package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// leaser hands out per-lead dispatch leases. Holding the lease
// serializes decide-and-log across engine instances; it is released
// before the send goes out.
type leaser struct {
	rdb *redis.Client
	ttl time.Duration
}

func newLeaser(rdb *redis.Client, ttl time.Duration) *leaser {
	return &leaser{rdb: rdb, ttl: ttl}
}

func leaseKey(tenantID, leadID uuid.UUID) string {
	return fmt.Sprintf("lease:lead:%s:%s", tenantID, leadID)
}

// acquire takes the lead's lease. ok is false when another holder has
// it. The returned release is safe to call regardless.
func (l *leaser) acquire(ctx context.Context, tenantID, leadID uuid.UUID) (release func(), ok bool, err error) {
	key := leaseKey(tenantID, leadID)
	token := uuid.NewString()

	ok, err = l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return func() {}, false, nil
	}

	release = func() {
		// Best effort: an expired lease is already gone.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.rdb, []string{key}, token).Err()
	}
	return release, true, nil
}
