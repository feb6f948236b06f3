package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"
)

var responsesBucket = []byte("ai_responses")

// ResponseCache keeps graded AI results on local disk so a redelivered job
// for unchanged content does not call the provider again.
type ResponseCache struct {
	db     *bbolt.DB
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

func Open(path string, ttl time.Duration, logger zerolog.Logger) (*ResponseCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(responsesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	logger.Info().Str("path", path).Dur("ttl", ttl).Msg("Response cache opened")

	return &ResponseCache{
		db:     db,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}, nil
}

// Key hashes the parts into a stable hex key.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Value layout: 8 bytes unix-nano store time, then payload.
func (c *ResponseCache) Get(key string) ([]byte, bool, error) {
	var out []byte
	found, expired := false, false

	err := c.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(responsesBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		if len(raw) < 8 {
			return errors.New("corrupt cache entry")
		}

		stored := time.Unix(0, int64(binary.BigEndian.Uint64(raw[:8])))
		if c.ttl > 0 && c.now().Sub(stored) > c.ttl {
			expired = true
			return nil
		}

		// bbolt memory is only valid inside the transaction
		out = append([]byte{}, raw[8:]...)
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if expired {
		if err := c.Delete(key); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Failed to drop expired cache entry")
		}
		return nil, false, nil
	}

	return out, found, nil
}

func (c *ResponseCache) Put(key string, value []byte) error {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(c.now().UnixNano()))
	copy(buf[8:], value)

	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(responsesBucket).Put([]byte(key), buf)
	})
}

func (c *ResponseCache) Delete(key string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(responsesBucket).Delete([]byte(key))
	})
}

// Len is the number of stored entries, expired ones included.
func (c *ResponseCache) Len() int {
	n := 0
	_ = c.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(responsesBucket).Stats().KeyN
		return nil
	})
	return n
}

func (c *ResponseCache) Close() error {
	return c.db.Close()
}
