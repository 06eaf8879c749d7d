/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package lrucache provides a generic in-memory LRU cache with per-entry TTL and Prometheus metrics.
// Expired entries are dropped lazily, when they are accessed or pushed out by newer ones.
package lrucache
