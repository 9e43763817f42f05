// Package journal persists ledger events to a bbolt file so they outlive the in-memory event ring.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/TxnLab/stakeledger/internal/lib/ledger"
	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

var (
	bucketEvents = []byte("events")
	bucketMeta   = []byte("meta")
	keyLastSeq   = []byte("last_seq")
)

var ErrClosed = errors.New("journal is closed")

var _ ledger.EventSink = (*Journal)(nil)

// Journal is an append-only event log keyed by event sequence number.
type Journal struct {
	db  *bolt.DB
	log *slog.Logger
}

func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEvents, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	j := &Journal{db: db, log: logger}
	misc.Infof(logger, "journal opened at %s, last seq:%d", path, j.LastSeq())
	return j, nil
}

func seqKey(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	return key[:]
}

// Append stores the event. Sequence numbers at or below the last stored one are rejected so a replayed
// snapshot can't rewrite history.
func (j *Journal) Append(ctx context.Context, event ledger.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event %d: %w", event.Seq, err)
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if last := meta.Get(keyLastSeq); last != nil && binary.BigEndian.Uint64(last) >= event.Seq {
			return fmt.Errorf("event seq %d is not after stored seq %d", event.Seq, binary.BigEndian.Uint64(last))
		}
		if err := tx.Bucket(bucketEvents).Put(seqKey(event.Seq), data); err != nil {
			return err
		}
		return meta.Put(keyLastSeq, seqKey(event.Seq))
	})
}

// Since returns up to limit events with a sequence above seq, oldest first. A limit of 0 returns all of them.
func (j *Journal) Since(seq uint64, limit int) ([]ledger.Event, error) {
	var out []ledger.Event
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(seqKey(seq + 1)); k != nil; k, v = c.Next() {
			var event ledger.Event
			if err := json.Unmarshal(v, &event); err != nil {
				return fmt.Errorf("decoding event %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, event)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (j *Journal) LastSeq() uint64 {
	var seq uint64
	err := j.db.View(func(tx *bolt.Tx) error {
		if last := tx.Bucket(bucketMeta).Get(keyLastSeq); last != nil {
			seq = binary.BigEndian.Uint64(last)
		}
		return nil
	})
	if err != nil {
		misc.Warnf(j.log, "reading journal seq: %v", err)
	}
	return seq
}

func (j *Journal) Close() error {
	if j.db == nil {
		return ErrClosed
	}
	err := j.db.Close()
	j.db = nil
	return err
}
