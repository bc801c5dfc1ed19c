// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package strategy

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/ReportBridge/services/convert/converter"
	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

// ResponseCache caches successful external responses with LRU eviction.
//
// Description:
//
//	Only the raw converter response is cached. Every hit is still
//	post-validated against the request's context, so a cached response
//	never bypasses validation.
//
// Thread Safety: This type is safe for concurrent use.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]*list.Element
	lru     *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	key       string
	response  converter.Response
	expiresAt time.Time
}

// NewResponseCache creates a cache with TTL and max size.
//
// Inputs:
//
//	ttl - How long responses stay valid. Must be > 0.
//	maxSize - Entries kept before LRU eviction. Must be > 0.
func NewResponseCache(ttl time.Duration, maxSize int) *ResponseCache {
	return &ResponseCache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns a cached response for key if present and not expired.
func (c *ResponseCache) Get(key string) (converter.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.entries[key]
	if !exists {
		c.misses.Add(1)
		return converter.Response{}, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses.Add(1)
		return converter.Response{}, false
	}

	c.lru.MoveToFront(elem)
	c.hits.Add(1)
	return copyResponse(entry.response), true
}

// Set stores a response, evicting the least recently used entry at capacity.
func (c *ResponseCache) Set(key string, resp converter.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.entries[key]; exists {
		entry := elem.Value.(*cacheEntry)
		entry.response = copyResponse(resp)
		entry.expiresAt = c.now().Add(c.ttl)
		c.lru.MoveToFront(elem)
		return
	}

	for c.lru.Len() >= c.maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry{
		key:       key,
		response:  copyResponse(resp),
		expiresAt: c.now().Add(c.ttl),
	}
	c.entries[key] = c.lru.PushFront(entry)
}

// Clear removes all entries.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru = list.New()
}

// Size returns the number of entries.
func (c *ResponseCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (c *ResponseCache) HitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// evictOldest must be called with the lock held.
func (c *ResponseCache) evictOldest() {
	if elem := c.lru.Back(); elem != nil {
		c.removeElement(elem)
	}
}

func (c *ResponseCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.lru.Remove(elem)
}

func copyResponse(src converter.Response) converter.Response {
	dst := src
	if src.Confidence != nil {
		c := *src.Confidence
		dst.Confidence = &c
	}
	return dst
}

// RequestKey derives the cache and singleflight key of a request.
//
// Description:
//
//	Hashes kind, source text and the full context. The request ID is
//	excluded so identical conversions submitted under different IDs share
//	one external call.
func RequestKey(req datatypes.ConversionRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Kind.String()))
	h.Write([]byte("|"))
	h.Write([]byte(req.SourceText))
	h.Write([]byte("|"))
	// Map keys are sorted by encoding/json, so the encoding is stable.
	ctxJSON, _ := json.Marshal(req.Context)
	h.Write(ctxJSON)
	return hex.EncodeToString(h.Sum(nil))
}
