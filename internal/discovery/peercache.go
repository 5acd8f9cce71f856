package discovery

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

var bucketPeerCache = []byte("peer_cache")

// Cache is a durable, boltdb-backed record of every peer ever seen on the
// LAN, independent of the transfer_peers relational table: it exists so a
// device that has never successfully paired with a peer can still be
// listed (with trust "other") across daemon restarts, without needing a
// full SQLite row.
type Cache struct {
	db *bolt.DB
}

// cachedPeer is the durable payload stored per device id.
type cachedPeer struct {
	DisplayName  string `json:"display_name"`
	LastSeenAtMS int64  `json:"last_seen_at_ms"`
	LastAddress  string `json:"last_address"`
	LastPort     int    `json:"last_port"`
}

// OpenCache opens (creating if absent) the bolt-backed peer cache.
func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open peer cache: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketPeerCache)
		return e
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init peer cache bucket: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying bolt database.
func (c *Cache) Close() error { return c.db.Close() }

// Record persists the latest sighting of a peer.
func (c *Cache) Record(deviceID string, p OnlinePeer) error {
	entry := cachedPeer{
		DisplayName:  p.DisplayName,
		LastSeenAtMS: p.LastSeenAtMS,
		LastAddress:  p.Address,
		LastPort:     p.ListenPort,
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cached peer: %w", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketPeerCache)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		return bk.Put([]byte(deviceID), value)
	})
}

// Get returns the last-known sighting of a device id, if any.
func (c *Cache) Get(deviceID string) (OnlinePeer, bool, error) {
	var entry cachedPeer
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketPeerCache)
		if bk == nil {
			return nil
		}
		v := bk.Get([]byte(deviceID))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &entry)
	})
	if err != nil || !found {
		return OnlinePeer{}, false, err
	}
	return OnlinePeer{
		DeviceID:     deviceID,
		DisplayName:  entry.DisplayName,
		Address:      entry.LastAddress,
		ListenPort:   entry.LastPort,
		LastSeenAtMS: entry.LastSeenAtMS,
	}, true, nil
}

// List returns every sighting currently held in the cache.
func (c *Cache) List() ([]OnlinePeer, error) {
	var out []OnlinePeer
	err := c.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketPeerCache)
		if bk == nil {
			return nil
		}
		return bk.ForEach(func(k, v []byte) error {
			var entry cachedPeer
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil
			}
			out = append(out, OnlinePeer{
				DeviceID:     string(k),
				DisplayName:  entry.DisplayName,
				Address:      entry.LastAddress,
				ListenPort:   entry.LastPort,
				LastSeenAtMS: entry.LastSeenAtMS,
			})
			return nil
		})
	})
	return out, err
}

// Prune removes cache entries whose last sighting is older than maxAge.
func (c *Cache) Prune(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	removed := 0
	err := c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketPeerCache)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		cur := bk.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var entry cachedPeer
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			if entry.LastSeenAtMS < cutoff {
				if err := cur.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	return removed, err
}
