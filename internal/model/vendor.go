package model

import "time"

// Vendor is a directory entry for a known service provider, shared across
// users. Entries start as stubs created during reconciliation and are filled
// in by the enrichment job. NeedsEnrichment is a durable column rather than
// process state, so pending work survives restarts and is visible to every
// worker.
type Vendor struct {
	CreatedAt       time.Time
	EnrichedAt      *time.Time
	ID              string
	Name            string
	Category        string
	Website         string
	CancellationURL string
	NeedsEnrichment bool
}
