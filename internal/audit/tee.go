package audit

import "context"

// teeStore writes to a primary store and mirrors every entry into the S3
// archiver. Reads come from the primary only.
type teeStore struct {
	primary  Store
	archiver *S3Archiver
}

// Tee returns a Store that appends to primary and also enqueues each entry
// for archival.
func Tee(primary Store, archiver *S3Archiver) Store {
	return &teeStore{primary: primary, archiver: archiver}
}

func (t *teeStore) Append(ctx context.Context, entry *Entry) error {
	t.archiver.Enqueue(entry)
	return t.primary.Append(ctx, entry)
}

func (t *teeStore) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	return t.primary.Recent(ctx, limit)
}

func (t *teeStore) Close() error {
	err := t.primary.Close()
	if aerr := t.archiver.Close(); err == nil {
		err = aerr
	}
	return err
}
