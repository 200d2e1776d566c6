package ratelimit

import (
	"net/netip"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// FallbackPartition collects every request whose client address could not
// be resolved, so unattributable traffic is limited in aggregate.
const FallbackPartition = "unknown"

// IPv6PrefixBits is the prefix length IPv6 clients are grouped by. A single
// host usually controls a whole /64.
const IPv6PrefixBits = 64

// PartitionKey maps a client address to its partition key: the address for
// IPv4 (including IPv4-mapped IPv6) and the enclosing /64 for IPv6.
func PartitionKey(ip netip.Addr) string {
	if !ip.IsValid() {
		return FallbackPartition
	}
	ip = ip.Unmap().WithZone("")
	if ip.Is4() {
		return ip.String()
	}
	return netip.PrefixFrom(ip, IPv6PrefixBits).Masked().String()
}

// Store keeps partitions by key. The Limiter serialises every call, so
// implementations need not be safe for concurrent use on their own.
type Store interface {
	// Get returns the partition for key and marks it recently used.
	Get(key string) (*Partition, bool)
	// Peek returns the partition for key without marking it used.
	Peek(key string) (*Partition, bool)
	// Oldest returns the least recently used partition without marking it used.
	Oldest() (string, *Partition, bool)
	Add(key string, p *Partition)
	Remove(key string)
	Keys() []string
	Len() int
	// Cap is the number of partitions the store holds before evicting.
	Cap() int
}

// LRUStore bounds the number of partitions. The Limiter frees room by
// removing the least recently used partition without queued callers before
// adding a new one.
type LRUStore struct {
	cache *lru.Cache
	size  int
}

// NewLRUStore returns a store holding at most size partitions. onEvict, if
// set, is called with the key of every partition leaving the store, whether
// pushed out by capacity or pruned.
func NewLRUStore(size int, onEvict func(key string)) (*LRUStore, error) {
	var cb func(key, value interface{})
	if onEvict != nil {
		cb = func(key, _ interface{}) {
			if k, ok := key.(string); ok {
				onEvict(k)
			}
		}
	}
	cache, err := lru.NewWithEvict(size, cb)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create partition store of size %d", size)
	}
	return &LRUStore{cache: cache, size: size}, nil
}

func (s *LRUStore) Get(key string) (*Partition, bool) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	p, ok := v.(*Partition)
	return p, ok
}

func (s *LRUStore) Peek(key string) (*Partition, bool) {
	v, ok := s.cache.Peek(key)
	if !ok {
		return nil, false
	}
	p, ok := v.(*Partition)
	return p, ok
}

func (s *LRUStore) Oldest() (string, *Partition, bool) {
	k, v, ok := s.cache.GetOldest()
	if !ok {
		return "", nil, false
	}
	key, _ := k.(string)
	p, ok := v.(*Partition)
	return key, p, ok
}

func (s *LRUStore) Add(key string, p *Partition) { s.cache.Add(key, p) }

func (s *LRUStore) Remove(key string) { s.cache.Remove(key) }

func (s *LRUStore) Keys() []string {
	raw := s.cache.Keys()
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if ks, ok := k.(string); ok {
			keys = append(keys, ks)
		}
	}
	return keys
}

func (s *LRUStore) Len() int { return s.cache.Len() }

func (s *LRUStore) Cap() int { return s.size }
