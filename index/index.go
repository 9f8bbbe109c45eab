package index

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"go-clipnest/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

const defaultIndexPath = "clipnest.bleve"

// Item is the searchable view of a collected image.
// Fields are searchable by their JSON tag names, e.g. '+host:x.test' or 'title:cat'.
type Item struct {
	ID          string    `json:"id"`   // img_<record id>
	Type        string    `json:"type"` // always "image"
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Filename    string    `json:"filename"`
	Host        string    `json:"host"`
	SourcePage  string    `json:"sourcePage"`
	SourceHost  string    `json:"sourceHost"`
	CollectedAt time.Time `json:"collectedAt"`
}

// ItemFromRecord builds the index document for a stored record.
func ItemFromRecord(rec models.ImageRecord) Item {
	item := Item{
		ID:          "img_" + strconv.FormatInt(rec.ID, 10),
		Type:        "image",
		Title:       rec.Title,
		URL:         rec.URL,
		SourcePage:  rec.SourcePage,
		CollectedAt: time.UnixMilli(rec.Timestamp).UTC(),
	}
	if u, err := url.Parse(rec.URL); err == nil {
		item.Host = u.Hostname()
		item.Filename = lastSegment(u.Path)
	}
	if u, err := url.Parse(rec.SourcePage); err == nil {
		item.SourceHost = u.Hostname()
	}
	return item
}

func lastSegment(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

// lockTimeout bounds the wait for an index another process has open.
const lockTimeout = "1s"

// OpenIndex opens an existing Bleve index. If another process holds it, the
// open fails after lockTimeout instead of waiting for the lock.
func OpenIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	return bleve.OpenUsing(indexPath, map[string]interface{}{"bolt_timeout": lockTimeout})
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	index, err := OpenIndex(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Infof("Creating new index at: %s", indexPath)
		index, err = bleve.New(indexPath, bleve.NewIndexMapping())
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("opening index at %s: %w", indexPath, err)
	} else {
		log.Debugf("Opened existing index at: %s", indexPath)
	}
	return index, nil
}

// IndexItem adds or updates an item in the Bleve index.
func IndexItem(index bleve.Index, item Item) error {
	return index.Index(item.ID, item)
}

// SearchIndex performs a query string search against the index.
func SearchIndex(index bleve.Index, query string) (*bleve.SearchResult, error) {
	searchRequest := bleve.NewSearchRequest(bleve.NewQueryStringQuery(query))
	searchRequest.Fields = []string{"*"}
	return index.Search(searchRequest)
}

// DeleteIndex removes the index directory.
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Warnf("Deleting index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}

// RecordIndexer feeds collected records into a Bleve index.
type RecordIndexer struct {
	index bleve.Index
}

// NewRecordIndexer wraps an open index.
func NewRecordIndexer(index bleve.Index) *RecordIndexer {
	return &RecordIndexer{index: index}
}

// IndexRecord indexes one collected record.
func (r *RecordIndexer) IndexRecord(rec models.ImageRecord) error {
	if err := IndexItem(r.index, ItemFromRecord(rec)); err != nil {
		return fmt.Errorf("indexing record %d: %w", rec.ID, err)
	}
	return nil
}

// Rebuild indexes every record, returning how many were written.
func (r *RecordIndexer) Rebuild(records []models.ImageRecord) (int, error) {
	batch := r.index.NewBatch()
	for _, rec := range records {
		item := ItemFromRecord(rec)
		if err := batch.Index(item.ID, item); err != nil {
			return 0, fmt.Errorf("batching record %d: %w", rec.ID, err)
		}
	}
	if err := r.index.Batch(batch); err != nil {
		return 0, err
	}
	return len(records), nil
}
