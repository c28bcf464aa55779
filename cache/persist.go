package cache

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
	bolt "go.etcd.io/bbolt"
)

var messagesBucket = []byte("messages")

// SaveTo snapshots every unexpired full-message entry into a bbolt
// database at path, keyed by "class/qtype/name". This is optional
// persistence across restarts; the cache itself is always in-memory.
func (c *Cache) SaveTo(path string) error {
	if c == nil {
		return nil
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("cache: open snapshot db: %w", err)
	}
	defer db.Close()

	now := time.Now()
	return db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(messagesBucket)
		if err != nil {
			return fmt.Errorf("cache: create bucket: %w", err)
		}
		for qtype, cq := range c.cq {
			cq.mu.RLock()
			for key, v := range cq.cache {
				if now.After(v.expires) {
					continue
				}
				wire, err := v.Msg.Pack()
				if err != nil {
					continue
				}
				bucket.Put(snapshotKey(key, uint16(qtype)), wire)
			}
			cq.mu.RUnlock()
		}
		return nil
	})
}

// LoadFrom restores full-message entries previously written by SaveTo.
// Malformed or missing entries are skipped rather than failing the load.
func (c *Cache) LoadFrom(path string) error {
	if c == nil {
		return nil
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("cache: open snapshot db: %w", err)
	}
	defer db.Close()

	return db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(messagesBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, wire []byte) error {
			msg := new(dns.Msg)
			if err := msg.Unpack(wire); err != nil {
				return nil
			}
			msg.Zero = false
			c.Insert(msg)
			return nil
		})
	})
}

func snapshotKey(key cacheKey, qtype uint16) []byte {
	return []byte(fmt.Sprintf("%d/%d/%s", key.class, qtype, key.name))
}
