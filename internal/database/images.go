package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go-clipnest/internal/helpers"
	"go-clipnest/internal/models"
	"go-clipnest/internal/resolver"

	log "github.com/sirupsen/logrus"
)

// CurrentSchemaVersion is bumped only on incompatible layout changes.
//
//	v1: image records, unique url index, id sequence
//	v2: non-unique timestamp index used for ordered listing
const CurrentSchemaVersion = 2

const (
	keySchemaVersion = "meta_schema_version"
	keyNextID        = "meta_next_id"

	imagePrefix     = "img_"
	urlPrefix       = "url_"
	timestampPrefix = "ts_"
)

// Image store errors
var (
	ErrDuplicateURL       = errors.New("image url already collected")
	ErrStorageUnavailable = errors.New("image storage unavailable")
)

// RecordIndexer receives every newly collected record, e.g. for full-text search.
type RecordIndexer interface {
	IndexRecord(rec models.ImageRecord) error
}

// StoreOption configures an ImageStore.
type StoreOption func(*ImageStore)

// WithClock overrides the clock used for record timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *ImageStore) { s.now = now }
}

// WithRecordIndexer registers an indexer notified after each successful insert.
// Indexing failures are logged and never fail the insert.
func WithRecordIndexer(ix RecordIndexer) StoreOption {
	return func(s *ImageStore) { s.indexer = ix }
}

// ImageStore is the persistent collection of images, unique by URL.
type ImageStore struct {
	db      *DB
	now     func() time.Time
	indexer RecordIndexer

	mu     sync.RWMutex
	closed bool
}

// OpenImageStore opens (creating or upgrading as needed) the image store at path.
// Inserts cut short by a crash are reconciled on open. Opening a consistent,
// up-to-date store performs no writes.
func OpenImageStore(path string, opts ...StoreOption) (*ImageStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s := &ImageStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	err = db.Exclusive(func() error {
		if err := ensureSchema(db); err != nil {
			return err
		}
		return reconcileRecords(db)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return s, nil
}

// Insert assigns an id and timestamp to desc and persists it. A URL that is
// already stored fails with ErrDuplicateURL and leaves the store untouched.
func (s *ImageStore) Insert(ctx context.Context, desc models.ImageDescriptor, sourcePage string) (models.ImageRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.ImageRecord{}, err
	}
	if desc.URL == "" {
		return models.ImageRecord{}, fmt.Errorf("%w: empty image url", resolver.ErrMalformedURL)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return models.ImageRecord{}, fmt.Errorf("%w: store is closed", ErrStorageUnavailable)
	}

	var rec models.ImageRecord
	err := s.db.Exclusive(func() error {
		uk := urlKey(desc.URL)
		if s.db.Has(uk) {
			return fmt.Errorf("%w: %s", ErrDuplicateURL, desc.URL)
		}

		id, err := readInt(s.db, keyNextID, 1)
		if err != nil {
			return fmt.Errorf("%w: reading id sequence: %v", ErrStorageUnavailable, err)
		}
		// Advance the sequence first so ids stay monotonic even if a later write fails.
		if err := writeInt(s.db, keyNextID, id+1); err != nil {
			return fmt.Errorf("%w: advancing id sequence: %v", ErrStorageUnavailable, err)
		}

		rec = models.ImageRecord{
			ID:         id,
			URL:        desc.URL,
			Title:      desc.Title,
			Timestamp:  s.now().UnixMilli(),
			SourcePage: sourcePage,
		}
		return s.writeRecord(rec, uk)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateURL) {
			log.WithField("url", desc.URL).Debug("Image already collected")
		} else {
			log.WithError(err).WithField("url", desc.URL).Error("Failed to store image record")
		}
		return models.ImageRecord{}, err
	}

	log.WithFields(log.Fields{"id": rec.ID, "url": rec.URL}).Info("Image collected")
	if s.indexer != nil {
		if err := s.indexer.IndexRecord(rec); err != nil {
			log.WithError(err).Warnf("Failed to index image record %d", rec.ID)
		}
	}
	return rec, nil
}

// writeRecord stores the record and its index entries. The url index entry is
// written last; on failure everything written so far is removed again.
func (s *ImageStore) writeRecord(rec models.ImageRecord, uk []byte) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encoding record: %v", ErrStorageUnavailable, err)
	}

	idValue := []byte(strconv.FormatInt(rec.ID, 10))
	writes := []struct {
		key   []byte
		value []byte
	}{
		{imageKey(rec.ID), data},
		{timestampKey(rec.Timestamp, rec.ID), idValue},
		{uk, idValue},
	}

	for i, w := range writes {
		if err := s.db.Put(w.key, w.value); err != nil {
			for _, done := range writes[:i] {
				if delErr := s.db.Delete(done.key); delErr != nil {
					log.WithError(delErr).Warnf("Rollback: failed to delete key %s", string(done.key))
				}
			}
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	return nil
}

// List returns every record ordered by timestamp, then id.
func (s *ImageStore) List(ctx context.Context) ([]models.ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("%w: store is closed", ErrStorageUnavailable)
	}

	var keys []string
	err := s.db.ScanPrefix([]byte(timestampPrefix), func(key []byte, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scanning timestamp index: %v", ErrStorageUnavailable, err)
	}
	// Zero-padded keys sort as (timestamp, id).
	sort.Strings(keys)

	records := make([]models.ImageRecord, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, err := idFromTimestampKey(key)
		if err != nil {
			log.WithError(err).Warnf("Skipping malformed index key %s", key)
			continue
		}
		rec, err := s.get(id)
		if errors.Is(err, ErrNotFound) {
			log.Warnf("Timestamp index points at missing record %d", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Get returns the record with the given id.
func (s *ImageStore) Get(id int64) (models.ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return models.ImageRecord{}, fmt.Errorf("%w: store is closed", ErrStorageUnavailable)
	}
	return s.get(id)
}

func (s *ImageStore) get(id int64) (models.ImageRecord, error) {
	data, err := s.db.Get(imageKey(id))
	if err != nil {
		return models.ImageRecord{}, err
	}
	var rec models.ImageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.ImageRecord{}, fmt.Errorf("decoding record %d: %w", id, err)
	}
	return rec, nil
}

// Contains reports whether url has been collected.
func (s *ImageStore) Contains(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed && s.db.Has(urlKey(url))
}

// Count returns the number of stored records.
func (s *ImageStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("%w: store is closed", ErrStorageUnavailable)
	}
	n := 0
	err := s.db.ScanPrefix([]byte(imagePrefix), func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// SchemaVersion returns the stored schema version.
func (s *ImageStore) SchemaVersion() (int, error) {
	v, err := readInt(s.db, keySchemaVersion, 0)
	return int(v), err
}

// Close releases the store. Further calls fail with ErrStorageUnavailable.
func (s *ImageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// --- Schema ---

// upgrades[v] migrates a store at version v-1 to version v.
var upgrades = map[int]func(*DB) error{
	1: createBaseSchema,
	2: reconcileRecords,
}

func ensureSchema(db *DB) error {
	stored, err := readInt(db, keySchemaVersion, 0)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	version := int(stored)

	switch {
	case version == CurrentSchemaVersion:
		return nil
	case version > CurrentSchemaVersion:
		return fmt.Errorf("stored schema version %d is newer than supported version %d", version, CurrentSchemaVersion)
	case version == 0 && hasPrefix(db, imagePrefix):
		// Records written before versioning use the v1 layout.
		version = 1
	}

	for v := version + 1; v <= CurrentSchemaVersion; v++ {
		log.Infof("Upgrading image store schema to version %d", v)
		if err := upgrades[v](db); err != nil {
			return fmt.Errorf("upgrading schema to version %d: %w", v, err)
		}
		if err := writeInt(db, keySchemaVersion, int64(v)); err != nil {
			return fmt.Errorf("recording schema version %d: %w", v, err)
		}
	}
	return nil
}

func createBaseSchema(db *DB) error {
	if db.Has([]byte(keyNextID)) {
		return nil
	}
	return writeInt(db, keyNextID, 1)
}

// reconcileRecords brings the indexes in line with the img_ records.
//
// The url_ entry is an insert's last write, so a record without one is an
// insert that never finished. It is committed here unless another record
// already owns its url, in which case it is removed. Missing ts_ entries are
// backfilled, ts_ entries without a record are dropped, and a lagging id
// sequence is advanced. A consistent store is left untouched.
func reconcileRecords(db *DB) error {
	var records []models.ImageRecord
	err := db.ScanPrefix([]byte(imagePrefix), func(key []byte, value []byte) error {
		var rec models.ImageRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			log.WithError(err).Warnf("Skipping undecodable record %s", string(key))
			return nil
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return err
	}
	// The lowest id wins a url claimed by several unfinished records.
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	var maxID int64
	for _, rec := range records {
		idValue := []byte(strconv.FormatInt(rec.ID, 10))
		tk := timestampKey(rec.Timestamp, rec.ID)
		uk := urlKey(rec.URL)

		owner, err := readInt(db, string(uk), 0)
		if err != nil {
			return err
		}
		if owner != 0 && owner != rec.ID {
			log.Warnf("Removing record %d: %s already belongs to record %d", rec.ID, rec.URL, owner)
			if err := deleteIfPresent(db, tk); err != nil {
				return err
			}
			if err := deleteIfPresent(db, imageKey(rec.ID)); err != nil {
				return err
			}
			continue
		}

		if !db.Has(tk) {
			if err := db.Put(tk, idValue); err != nil {
				return err
			}
		}
		if owner == 0 {
			log.Infof("Indexing url of record %d (%s)", rec.ID, rec.URL)
			if err := db.Put(uk, idValue); err != nil {
				return err
			}
		}
		if rec.ID > maxID {
			maxID = rec.ID
		}
	}

	if err := dropDanglingTimestamps(db); err != nil {
		return err
	}

	next, err := readInt(db, keyNextID, 1)
	if err != nil {
		return err
	}
	if next <= maxID {
		return writeInt(db, keyNextID, maxID+1)
	}
	return nil
}

// dropDanglingTimestamps removes ts_ entries whose record is gone.
func dropDanglingTimestamps(db *DB) error {
	var keys []string
	err := db.ScanPrefix([]byte(timestampPrefix), func(key []byte, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		id, err := idFromTimestampKey(key)
		if err == nil && db.Has(imageKey(id)) {
			continue
		}
		log.Warnf("Dropping timestamp index entry %s with no record", key)
		if err := deleteIfPresent(db, []byte(key)); err != nil {
			return err
		}
	}
	return nil
}

func deleteIfPresent(db *DB, key []byte) error {
	if err := db.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// --- Keys ---

func imageKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", imagePrefix, id))
}

func urlKey(url string) []byte {
	return []byte(urlPrefix + helpers.HashURL(url))
}

func timestampKey(ts, id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d_%020d", timestampPrefix, ts, id))
}

func idFromTimestampKey(key string) (int64, error) {
	i := strings.LastIndexByte(key, '_')
	if i < 0 {
		return 0, fmt.Errorf("no id in key %q", key)
	}
	return strconv.ParseInt(key[i+1:], 10, 64)
}

func hasPrefix(db *DB, prefix string) bool {
	found := false
	_ = db.ScanPrefix([]byte(prefix), func(_, _ []byte) error {
		found = true
		return nil
	})
	return found
}

func readInt(db *DB, key string, def int64) (int64, error) {
	raw, err := db.Get([]byte(key))
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(string(bytes.TrimSpace(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s value %q: %w", key, string(raw), err)
	}
	return n, nil
}

func writeInt(db *DB, key string, n int64) error {
	return db.Put([]byte(key), []byte(strconv.FormatInt(n, 10)))
}
