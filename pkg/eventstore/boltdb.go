package eventstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/nexus/pkg/metrics"
	"github.com/cuemby/nexus/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// bucketEvents holds one nested sub-bucket per agent id, keyed inside by an
// 8-byte big-endian version number mapping to a JSON-encoded StateLogEvent.
// bucketSnapshots holds one key per agent id mapping to its current
// JSON-encoded Snapshot. This mirrors Warren's pkg/storage bucket-per-entity
// layout (tx.Bucket(name).Put(id, json)), just keyed per-agent instead of
// per cluster-entity-type, and with an extra level of nesting so every
// agent's log lives in its own BoltDB bucket rather than sharing one flat
// keyspace.
var (
	bucketEvents    = []byte("events")
	bucketSnapshots = []byte("snapshots")
)

// Store is the BoltDB-backed durable Event Store: the production backing
// for C8 when a process needs its event log to survive a restart, and the
// backing the cluster runtime backend's FSM applies committed Raft log
// entries to.
type Store struct {
	db *bolt.DB
}

// NewStore opens (creating if absent) a BoltDB-backed Event Store rooted at
// dataDir, grounded directly on Warren's pkg/storage NewBoltStore shape.
func NewStore(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "eventstore.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		metrics.RegisterComponent("eventstore", false, "open "+dbPath+": "+err.Error())
		return nil, fmt.Errorf("eventstore: open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEvents); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		return err
	})
	if err != nil {
		db.Close()
		metrics.RegisterComponent("eventstore", false, "create buckets: "+err.Error())
		return nil, fmt.Errorf("eventstore: create buckets: %w", err)
	}
	metrics.RegisterComponent("eventstore", true, "bolt store opened at "+dbPath)
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func versionKey(v int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// AppendEvents implements EventStore, CAS-checked and committed in a single
// BoltDB transaction so a crash mid-append never leaves a partial batch.
func (s *Store) AppendEvents(agentID string, events []types.StateLogEvent, expectedVersion int) (int, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.EventStoreAppendDuration)

	newVersion := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketEvents)
		agentBucket, err := root.CreateBucketIfNotExists([]byte(agentID))
		if err != nil {
			return err
		}

		current := agentBucket.Stats().KeyN
		if current != expectedVersion {
			metrics.ConcurrencyConflictsTotal.Inc()
			return fmt.Errorf("eventstore: append agent %s at version %d: %w (current tail %d)", agentID, expectedVersion, types.ErrConcurrencyConflict, current)
		}

		now := time.Now().UTC()
		for i := range events {
			events[i].AgentID = agentID
			events[i].Version = expectedVersion + i + 1
			if events[i].Timestamp.IsZero() {
				events[i].Timestamp = now
			}
			data, err := json.Marshal(events[i])
			if err != nil {
				return fmt.Errorf("eventstore: marshal event: %w", err)
			}
			if err := agentBucket.Put(versionKey(events[i].Version), data); err != nil {
				return err
			}
		}
		newVersion = expectedVersion + len(events)
		return nil
	})
	if err != nil {
		if !errors.Is(err, types.ErrConcurrencyConflict) {
			metrics.UpdateComponent("eventstore", false, "append: "+err.Error())
		}
		return 0, err
	}
	metrics.UpdateComponent("eventstore", true, "")
	return newVersion, nil
}

// GetEvents implements EventStore via a forward cursor scan bounded to
// [fromVersion, toVersion], clamped per §4.8.
func (s *Store) GetEvents(agentID string, fromVersion, toVersion int, maxCount int) ([]types.StateLogEvent, error) {
	var out []types.StateLogEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		agentBucket := tx.Bucket(bucketEvents).Bucket([]byte(agentID))
		if agentBucket == nil {
			return nil
		}
		if fromVersion < 1 {
			fromVersion = 1
		}
		c := agentBucket.Cursor()
		for k, v := c.Seek(versionKey(fromVersion)); k != nil; k, v = c.Next() {
			version := int(binary.BigEndian.Uint64(k))
			if toVersion > 0 && version > toVersion {
				break
			}
			var ev types.StateLogEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("eventstore: unmarshal event: %w", err)
			}
			out = append(out, ev)
			if maxCount > 0 && len(out) >= maxCount {
				break
			}
		}
		return nil
	})
	return out, err
}

// GetLatestVersion implements EventStore.
func (s *Store) GetLatestVersion(agentID string) (int, error) {
	version := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		agentBucket := tx.Bucket(bucketEvents).Bucket([]byte(agentID))
		if agentBucket == nil {
			return nil
		}
		version = agentBucket.Stats().KeyN
		return nil
	})
	return version, err
}

// SaveSnapshot implements EventStore; replaces the current snapshot without
// touching the event bucket, per §4.8.
func (s *Store) SaveSnapshot(agentID string, version int, stateBytes []byte) error {
	snap := types.Snapshot{
		AgentID:   agentID,
		Version:   version,
		State:     stateBytes,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("eventstore: marshal snapshot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(agentID), data)
	})
}

// GetLatestSnapshot implements EventStore.
func (s *Store) GetLatestSnapshot(agentID string) (*types.Snapshot, error) {
	var snap *types.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(agentID))
		if data == nil {
			return nil
		}
		var s types.Snapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("eventstore: unmarshal snapshot: %w", err)
		}
		snap = &s
		return nil
	})
	return snap, err
}
