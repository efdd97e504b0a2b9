package mirror

import (
	"slices"
	"sync"
	"time"

	"github.com/InsulaLabs/ntmirror/models"
	"github.com/jellydator/ttlcache/v3"
)

// valueCache keeps the last delivered record per topic. With a ttl, records
// that see no update for that long are dropped.
type valueCache struct {
	cache *ttlcache.Cache[string, models.ValueRecord]

	started  bool
	stopOnce sync.Once
}

func newValueCache(ttl time.Duration) *valueCache {
	opts := []ttlcache.Option[string, models.ValueRecord]{
		ttlcache.WithDisableTouchOnHit[string, models.ValueRecord](),
	}
	if ttl > 0 {
		opts = append(opts, ttlcache.WithTTL[string, models.ValueRecord](ttl))
	}

	vc := &valueCache{cache: ttlcache.New[string, models.ValueRecord](opts...)}
	if ttl > 0 {
		vc.started = true
		go vc.cache.Start()
	}
	return vc
}

func (vc *valueCache) set(name string, rec models.ValueRecord) {
	vc.cache.Set(name, rec, ttlcache.DefaultTTL)
}

func (vc *valueCache) get(name string) (models.ValueRecord, bool) {
	item := vc.cache.Get(name)
	if item == nil {
		return models.ValueRecord{}, false
	}
	return cloneRecord(item.Value()), true
}

// cloneRecord copies slice payloads so callers cannot write into the cache.
func cloneRecord(rec models.ValueRecord) models.ValueRecord {
	switch v := rec.Value.(type) {
	case []bool:
		rec.Value = slices.Clone(v)
	case []int64:
		rec.Value = slices.Clone(v)
	case []float64:
		rec.Value = slices.Clone(v)
	case []string:
		rec.Value = slices.Clone(v)
	case []byte:
		rec.Value = slices.Clone(v)
	}
	return rec
}

func (vc *valueCache) stop() {
	if !vc.started {
		return
	}
	vc.stopOnce.Do(vc.cache.Stop)
}
