package domain

import "context"

// Catalog resolves dataset accessions to their downloadable files.
// Implementations live in the adapter layer; the flow repository client is
// the production one.
type Catalog interface {
	Dataset(ctx context.Context, accession string) (*Dataset, error)
}
