package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// SeedFromFile loads a JSON array of pool documents and upserts them into the
// store. Used at startup to publish the operator-maintained pool catalog.
func SeedFromFile(ctx context.Context, store Store, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("pool: read seed file: %w", err)
	}
	var pools []Pool
	if err := json.Unmarshal(raw, &pools); err != nil {
		return 0, fmt.Errorf("pool: parse seed file %s: %w", path, err)
	}
	for i, p := range pools {
		if err := p.Validate(); err != nil {
			return 0, fmt.Errorf("pool: seed entry %d: %w", i, err)
		}
		if err := store.Put(ctx, p); err != nil {
			return 0, fmt.Errorf("pool: seed %s: %w", p.ID, err)
		}
	}
	return len(pools), nil
}
