package archive

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var downloadedBucketName = []byte("downloaded")

// Archive is the persistent record of completed downloads, keyed by
// track id with the final file path as the value. Consulted before a
// download starts and written after it finalizes.
type Archive struct {
	db *bbolt.DB
}

func Open(path string) (*Archive, error) {
	opts := &bbolt.Options{ //nolint:exhaustruct
		NoFreelistSync: true,
		ReadOnly:       false,
		Timeout:        1 * time.Second,
		NoGrowSync:     false,
		FreelistType:   bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(path, 0o600, opts)
	if nil != err {
		return nil, fmt.Errorf("failed to open archive database: %v", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(downloadedBucketName); nil != err {
			return fmt.Errorf("failed to create downloaded bucket: %v", err)
		}

		return nil
	})
	if nil != err {
		return nil, fmt.Errorf("failed to create archive buckets: %v", err)
	}

	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	if err := a.db.Close(); nil != err {
		return fmt.Errorf("failed to close archive database: %v", err)
	}

	return nil
}

// Lookup returns the recorded file path for a track, or "" when the
// track has not been downloaded before.
func (a *Archive) Lookup(trackID string) (string, error) {
	var path string
	err := a.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(downloadedBucketName).Get([]byte(trackID)); v != nil {
			path = string(v)
		}

		return nil
	})
	if nil != err {
		return "", fmt.Errorf("failed to look up track in archive: %v", err)
	}

	return path, nil
}

func (a *Archive) Record(trackID, path string) error {
	err := a.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(downloadedBucketName).Put([]byte(trackID), []byte(path)); nil != err {
			return fmt.Errorf("failed to record track in archive: %v", err)
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("failed to record track in archive: %v", err)
	}

	return nil
}

func (a *Archive) Forget(trackID string) error {
	err := a.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(downloadedBucketName).Delete([]byte(trackID)); nil != err {
			return fmt.Errorf("failed to delete track from archive: %v", err)
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("failed to delete track from archive: %v", err)
	}

	return nil
}
