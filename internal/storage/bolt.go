// internal/storage/bolt.go
package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	workflowsBucket = []byte("workflows")
	monitorBucket   = []byte("monitor")
)

// BoltJournal - Journal во встроенном файле bbolt. Ключи - sequence бакета,
// поэтому курсор идет в порядке вставки. Выборки отдают сначала новые.
type BoltJournal struct {
	db *bolt.DB
}

var _ Journal = (*BoltJournal)(nil)

// OpenBolt открывает или создает журнал по пути path.
func OpenBolt(path string) (*BoltJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir journal path: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{workflowsBucket, monitorBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltJournal{db: db}, nil
}

// Path возвращает файл базы.
func (j *BoltJournal) Path() string {
	return j.db.Path()
}

func (j *BoltJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *BoltJournal) SaveWorkflow(_ context.Context, rec *WorkflowRecord) error {
	return j.put(workflowsBucket, func(id uint64) any {
		rec.ID = id
		return rec
	})
}

func (j *BoltJournal) SaveMonitor(_ context.Context, rec *MonitorRecord) error {
	return j.put(monitorBucket, func(id uint64) any {
		rec.ID = id
		return rec
	})
}

func (j *BoltJournal) put(bucket []byte, stamp func(id uint64) any) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(stamp(id))
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
}

func (j *BoltJournal) ListWorkflows(ctx context.Context, filter Filter) ([]*WorkflowRecord, error) {
	var out []*WorkflowRecord
	err := j.scan(ctx, workflowsBucket, filter.Limit, func(v []byte) (bool, error) {
		var rec WorkflowRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return false, err
		}
		if !filter.matches(rec.Pool, rec.FinishedAt) || (filter.OnlyUnresolved && len(rec.Unresolved) == 0) {
			return false, nil
		}
		out = append(out, &rec)
		return true, nil
	})
	return out, err
}

func (j *BoltJournal) ListMonitor(ctx context.Context, filter Filter) ([]*MonitorRecord, error) {
	var out []*MonitorRecord
	err := j.scan(ctx, monitorBucket, filter.Limit, func(v []byte) (bool, error) {
		var rec MonitorRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return false, err
		}
		if !filter.matches(rec.Pool, rec.At) {
			return false, nil
		}
		out = append(out, &rec)
		return true, nil
	})
	return out, err
}

// scan обходит бакет от новых к старым и останавливается после limit записей.
func (j *BoltJournal) scan(ctx context.Context, bucket []byte, limit int, keep func(v []byte) (bool, error)) error {
	var kept int
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := keep(v)
			if err != nil {
				return fmt.Errorf("record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if ok {
				kept++
			}
			if limit > 0 && kept >= limit {
				break
			}
		}
		return nil
	})
	return err
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
