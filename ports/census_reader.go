package ports

import (
	"context"

	"metesad/domain/community"
	"metesad/domain/core"
)

// CensusReader parses a site/species/abundance table into communities
type CensusReader interface {
	ReadCommunities(ctx context.Context, dataset core.DatasetName, path string) ([]*community.Community, error)
}
