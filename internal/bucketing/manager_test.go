package bucketing

import (
	"fmt"
	"testing"
)

func TestEmployerBucketStableAndInRange(t *testing.T) {
	bm := NewBucketingManager(16)
	seen := make(map[int]bool)
	for i := 0; i < 500; i++ {
		email := fmt.Sprintf("employer%d@branch.lk", i)
		b := bm.EmployerBucket(email)
		if b < 0 || b >= 16 {
			t.Fatalf("bucket %d out of range", b)
		}
		if again := bm.EmployerBucket(email); again != b {
			t.Fatalf("bucket for %s changed: %d then %d", email, b, again)
		}
		seen[b] = true
	}
	if len(seen) < 12 {
		t.Fatalf("poor spread: only %d of 16 buckets used", len(seen))
	}
}

func TestEmployerBucketAgreesAcrossManagers(t *testing.T) {
	a, b := NewBucketingManager(64), NewBucketingManager(64)
	if a.EmployerBucket("owner@hq.lk") != b.EmployerBucket("owner@hq.lk") {
		t.Fatal("bucketing must be deterministic across instances")
	}
}

func TestNonPositiveBucketCount(t *testing.T) {
	bm := NewBucketingManager(0)
	if bm.Buckets() != 1 || bm.EmployerBucket("x@y.lk") != 0 {
		t.Fatal("zero buckets should degrade to a single bucket")
	}
}
