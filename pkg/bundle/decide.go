package bundle

import (
	"time"

	"github.com/arkechain/attest-core/pkg/record"
)

// Decision is the outcome of applying the size/time/max-size gating
// rules to a freshly signed batch.
type Decision struct {
	// Ready holds the records that should ship this tick, in order.
	Ready []record.Signed
	// Deferred holds records whose cumulative manifest bytes pushed
	// them past MaxBundleSize; they wait for the next tick.
	Deferred []record.Signed
	// ShouldUpload is false when neither threshold is met: Ready is
	// empty and every signed record must be reverted to pending so it
	// is re-signed (fresh prev_tx) next tick.
	ShouldUpload bool
}

// Decide applies the bundle-mode thresholds to a signed batch.
// oldestRowAge is the age of the oldest row's original queue entry.
func Decide(signed []record.Signed, sizeThreshold, maxBundleSize int64, timeThreshold time.Duration, oldestRowAge time.Duration) Decision {
	if len(signed) == 0 {
		return Decision{}
	}

	ready, deferred := splitByMaxSize(signed, maxBundleSize)

	readySize := cumulativeSize(ready)
	if readySize >= sizeThreshold || oldestRowAge >= timeThreshold {
		return Decision{Ready: ready, Deferred: deferred, ShouldUpload: true}
	}
	return Decision{Deferred: signed, ShouldUpload: false}
}

// splitByMaxSize preserves queue order: it takes a leading run of
// records whose cumulative RawJSON size stays within maxBundleSize and
// defers the tail rather than interleaving.
func splitByMaxSize(signed []record.Signed, maxBundleSize int64) (ready, deferred []record.Signed) {
	var total int64
	for i, s := range signed {
		total += int64(len(s.RawJSON))
		if total > maxBundleSize {
			return signed[:i], signed[i:]
		}
	}
	return signed, nil
}

func cumulativeSize(signed []record.Signed) int64 {
	var total int64
	for _, s := range signed {
		total += int64(len(s.RawJSON))
	}
	return total
}
