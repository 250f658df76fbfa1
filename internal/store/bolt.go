package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"

	"raffle/internal/models"
)

var roundsBucket = []byte("rounds")

// BoltStore keeps rounds in a bbolt file, keyed by big-endian round number.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, xerrors.Errorf("open bolt db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(roundsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, xerrors.Errorf("create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// SaveRound writes result under its round number.
func (s *BoltStore) SaveRound(ctx context.Context, result *models.RoundResult) error {
	buf, err := json.Marshal(result)
	if err != nil {
		return xerrors.Errorf("encode round %d: %w", result.Round, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(roundsBucket).Put(roundKey(result.Round), buf)
	})
}

// ListRounds walks the bucket backwards from the newest round.
func (s *BoltStore) ListRounds(ctx context.Context, limit int) ([]*models.RoundResult, error) {
	var out []*models.RoundResult
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(roundsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			r := &models.RoundResult{}
			if err := json.Unmarshal(v, r); err != nil {
				return xerrors.Errorf("decode round %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the database file.
func (s *BoltStore) Close(ctx context.Context) error {
	return s.db.Close()
}

func roundKey(round uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, round)
	return key
}
