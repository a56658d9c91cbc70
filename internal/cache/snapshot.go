package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// snapshotVersion guards the durable format. Bump it when the record
// shapes change incompatibly; old snapshots are then dropped on
// hydrate rather than misread.
const snapshotVersion = 1

// snapshot is the durable form of a store archive. Records are stored
// as per-scope slices because composite map keys have no JSON
// encoding; buckets are rebuilt on decode. Timestamps travel as their
// RFC 3339 text form and come back as real time values.
type snapshot[E Entity] struct {
	Version int           `json:"version"`
	SavedAt time.Time     `json:"saved_at"`
	Scopes  map[Scope][]E `json:"scopes"`
}

func encodeArchive[E Entity](archive map[Scope]map[CompositeKey]E) ([]byte, error) {
	snap := snapshot[E]{
		Version: snapshotVersion,
		SavedAt: time.Now().UTC(),
		Scopes:  make(map[Scope][]E, len(archive)),
	}
	for scope, bucket := range archive {
		snap.Scopes[scope] = bucketSlice(bucket)
	}
	return json.Marshal(snap)
}

func decodeArchive[E Entity](payload []byte) (map[Scope]map[CompositeKey]E, time.Time, error) {
	var snap snapshot[E]
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, time.Time{}, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	archive := make(map[Scope]map[CompositeKey]E, len(snap.Scopes))
	for scope, recs := range snap.Scopes {
		bucket := make(map[CompositeKey]E, len(recs))
		for _, rec := range recs {
			bucket[rec.Key()] = rec
		}
		archive[scope] = bucket
	}
	return archive, snap.SavedAt, nil
}
