// Package cache defines the disk-backed store that holds fetched image bytes
// under StoragePath/<namespace>/<hh>/<sha256>. The store exposes read/write
// primitives with safe semantics (temp file + rename), reports file info
// (size, modtime) so the engine can decide whether an entry is still fresh,
// and supports wiping a whole namespace for clearDiskCache.
package cache
