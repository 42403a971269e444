package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"
)

// BucketingManager spreads employer rows across Scylla partitions by hashing
// the email. The bucket count is part of the schema contract: changing it
// orphans existing rows.
type BucketingManager struct {
	employerBuckets int
	hasherPool      sync.Pool
}

func NewBucketingManager(employerBuckets int) *BucketingManager {
	if employerBuckets <= 0 {
		employerBuckets = 1
	}
	return &BucketingManager{
		employerBuckets: employerBuckets,
		hasherPool: sync.Pool{
			New: func() interface{} { return murmur3.New64() },
		},
	}
}

// EmployerBucket returns the partition bucket for an employer email, in
// [0, employerBuckets).
func (bm *BucketingManager) EmployerBucket(email string) int {
	return int(bm.hash(email) % uint64(bm.employerBuckets))
}

func (bm *BucketingManager) Buckets() int {
	return bm.employerBuckets
}

func (bm *BucketingManager) hash(key string) uint64 {
	h := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(h)

	h.Reset()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}
