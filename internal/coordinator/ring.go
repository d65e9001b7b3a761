/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package coordinator

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
)

// ringReplicas is the number of virtual nodes per instance.
const ringReplicas = 150

// hashRing assigns unit IDs to instances with consistent hashing, so every
// instance sharing a store agrees on which one serves a unit.
type hashRing struct {
	mu       sync.RWMutex
	nodes    []uint32
	nodeMap  map[uint32]string
	replicas int
}

func newHashRing(replicas int) *hashRing {
	return &hashRing{
		nodeMap:  make(map[uint32]string),
		replicas: replicas,
	}
}

func (r *hashRing) addNode(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < r.replicas; i++ {
		hash := hashKey(fmt.Sprintf("%s:%d:vnode", instanceID, i))
		if _, exists := r.nodeMap[hash]; exists {
			continue
		}
		r.nodes = append(r.nodes, hash)
		r.nodeMap[hash] = instanceID
	}

	sort.Slice(r.nodes, func(i, j int) bool {
		return r.nodes[i] < r.nodes[j]
	})
}

func (r *hashRing) removeNode(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < r.replicas; i++ {
		hash := hashKey(fmt.Sprintf("%s:%d:vnode", instanceID, i))
		if r.nodeMap[hash] == instanceID {
			delete(r.nodeMap, hash)
		}
	}

	nodes := make([]uint32, 0, len(r.nodeMap))
	for hash := range r.nodeMap {
		nodes = append(nodes, hash)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i] < nodes[j]
	})
	r.nodes = nodes
}

// owner returns the instance responsible for key.
func (r *hashRing) owner(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.nodes) == 0 {
		return "", false
	}

	hash := hashKey(key)
	idx := sort.Search(len(r.nodes), func(i int) bool {
		return r.nodes[i] >= hash
	})
	if idx == len(r.nodes) {
		idx = 0
	}
	return r.nodeMap[r.nodes[idx]], true
}

// hashKey computes FNV-1a hash of a string.
func hashKey(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}
