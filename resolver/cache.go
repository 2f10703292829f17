package resolver

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

/**
 * Bucket holding specification fingerprints mapped to resolved
 * environments.
 */
var environmentsBucket = []byte("environments")

/**
 * A persistent cache of resolver results. Only the resolver output is
 * cached; the sandbox itself stays stateless.
 */
type Cache struct {
	db *bolt.DB
}

/**
 * Open the resolver cache under the user cache directory, creating it
 * on first use.
 * @return the cache and error if any
 */
func OpenCache() (*Cache, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return nil, err
	}

	dir = filepath.Join(dir, "fhsbox")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(filepath.Join(dir, "resolver.db"), 0o600, &bolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{db: db}, nil
}

/**
 * Close the underlying database.
 * @return error if any
 */
func (c *Cache) Close() error {
	return c.db.Close()
}

/**
 * Look up a cached environment by specification fingerprint. A hit is
 * revalidated against the store: a tree that was garbage-collected
 * since is a miss.
 * @param key the specification fingerprint
 * @return the environment and whether the lookup hit
 */
func (c *Cache) Lookup(key []byte) (*Environment, bool) {
	var env Environment

	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(environmentsBucket)
		if bucket == nil {
			return fmt.Errorf("no bucket")
		}
		value := bucket.Get(key)
		if value == nil {
			return fmt.Errorf("no entry")
		}
		return json.Unmarshal(value, &env)
	})
	if err != nil {
		return nil, false
	}

	if _, err := os.Stat(env.FhsPath); err != nil {
		return nil, false
	}
	return &env, true
}

/**
 * Store a resolved environment under a specification fingerprint.
 * @param key the specification fingerprint
 * @param env the resolved environment
 * @return error if any
 */
func (c *Cache) Store(key []byte, env *Environment) error {
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(environmentsBucket)
		if err != nil {
			return err
		}
		return bucket.Put(key, value)
	})
}

/**
 * Fingerprint an environment specification. Recipe mode hashes the
 * absolute path together with the recipe content, so edits invalidate
 * the entry; package mode hashes the sorted package list.
 * @param spec the environment specification
 * @return the fingerprint and error if any
 */
func specKey(spec *Spec) ([]byte, error) {
	h := sha256.New()

	if len(spec.Packages) > 0 {
		pkgs := append([]string(nil), spec.Packages...)
		sort.Strings(pkgs)
		fmt.Fprintf(h, "packages\x00%s", strings.Join(pkgs, "\x00"))
		return h.Sum(nil), nil
	}

	abs, err := filepath.Abs(spec.Recipe)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(spec.Recipe)
	if err != nil {
		return nil, fmt.Errorf("reading recipe %s: %w", spec.Recipe, err)
	}
	fmt.Fprintf(h, "recipe\x00%s\x00", abs)
	h.Write(content)
	return h.Sum(nil), nil
}
