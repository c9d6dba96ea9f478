// Package store implements the shared key-value abstraction: four logical
// namespaces (scans, tasks, rules, projects) addressed as independent redis
// databases on a single instance.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Namespace indices. Kept distinct DB numbers on one redis instance rather
// than key prefixes so that FlushDB (§4.6 cleanup_queues/cleanup_projects)
// can't accidentally spill across namespaces.
const (
	DBScans    = 0
	DBTasks    = 1
	DBRules    = 2
	DBProjects = 3
)

// Store owns one *redis.Client per namespace, all pointed at the same
// redis address/password.
type Store struct {
	Scans    *Namespace
	Tasks    *Namespace
	Rules    *Namespace
	Projects *Namespace

	clients []*redis.Client
}

// Open dials all four namespaces. addr is a host:port; password may be empty.
func Open(addr, password string) (*Store, error) {
	s := &Store{}
	dbs := []int{DBScans, DBTasks, DBRules, DBProjects}
	targets := make([]**Namespace, 0, 4)
	targets = append(targets, &s.Scans, &s.Tasks, &s.Rules, &s.Projects)

	for i, db := range dbs {
		c := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.Ping(ctx).Err()
		cancel()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("store: connect db %d: %w", db, err)
		}
		*targets[i] = &Namespace{client: c}
		s.clients = append(s.clients, c)
	}
	return s, nil
}

// Close tears down every namespace connection.
func (s *Store) Close() error {
	var err error
	for _, c := range s.clients {
		if cerr := c.Close(); cerr != nil {
			err = cerr
		}
	}
	return err
}

// Namespace is one redis database wrapped with the primitives the core
// requires: atomic multi-field hash update, atomic set-add, key
// enumeration, key-type introspection, byte-string get/set, flush.
type Namespace struct {
	client *redis.Client
}

// Client exposes the underlying redis client for callers (such as the
// task queue's list and sorted-set commands) that need lower-level
// access than Namespace provides.
func (n *Namespace) Client() *redis.Client { return n.client }

// HSetFields atomically writes multiple fields of a hash.
func (n *Namespace) HSetFields(ctx context.Context, key string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return n.client.HSet(ctx, key, fields).Err()
}

// HGetAll reads every field of a hash. Returns an empty, non-nil map if
// the key does not exist.
func (n *Namespace) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return n.client.HGetAll(ctx, key).Result()
}

// HGet reads one field, returning ("", false, nil) if the field is unset.
func (n *Namespace) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := n.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SAdd atomically adds members to a set.
func (n *Namespace) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return n.client.SAdd(ctx, key, args...).Err()
}

// SMembers returns every member of a set.
func (n *Namespace) SMembers(ctx context.Context, key string) ([]string, error) {
	return n.client.SMembers(ctx, key).Result()
}

// Keys enumerates keys matching pattern via non-blocking SCAN.
func (n *Namespace) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := n.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	return out, iter.Err()
}

// Type reports the redis type of key ("hash", "set", "string", "none", ...).
func (n *Namespace) Type(ctx context.Context, key string) (string, error) {
	return n.client.Type(ctx, key).Result()
}

// Set writes an opaque byte string.
func (n *Namespace) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return n.client.Set(ctx, key, value, ttl).Err()
}

// Get reads an opaque byte string. ok is false if the key is absent.
func (n *Namespace) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	v, err := n.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Del removes one or more keys.
func (n *Namespace) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return n.client.Del(ctx, keys...).Err()
}

// FlushDB unconditionally drops every key in this namespace.
func (n *Namespace) FlushDB(ctx context.Context) error {
	return n.client.FlushDB(ctx).Err()
}

// Ping checks connectivity.
func (n *Namespace) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}
