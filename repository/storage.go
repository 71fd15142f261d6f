package repository

import "context"

// AssetStorage uploads raw asset bytes on behalf of an owning record and
// returns a durable reference URL. Called at most once per publication,
// before the transaction begins.
type AssetStorage interface {
	Upload(ctx context.Context, ownerID, fileName string, data []byte) (string, error)
}
