package storage

import "context"

// AsyncSaveStore wraps a TieredStore so Save returns as soon as the chunk is
// on local disk, deferring the S3 copy to the background uploader.
type AsyncSaveStore struct {
	*TieredStore
	uploader *AsyncUploader
}

// NewAsyncSaveStore pairs a tiered store with an async uploader.
func NewAsyncSaveStore(tiered *TieredStore, uploader *AsyncUploader) *AsyncSaveStore {
	return &AsyncSaveStore{TieredStore: tiered, uploader: uploader}
}

func (s *AsyncSaveStore) Save(ctx context.Context, key string, data []byte, ct string) error {
	if err := s.SaveLocal(ctx, key, data, ct); err != nil {
		return err
	}
	s.uploader.Enqueue(key, data, ct)
	return nil
}
