// Package cache implements the generation-scoped response buckets used by the
// offline proxy. A bucket holds request-identity → response snapshots for one
// (site, generation) pair; exactly one generation per site is active and every
// other generation is eventually dropped by DeleteAllExcept. Backends (disk,
// redis, s3) only move opaque envelopes around; encoding, quota enforcement
// and the clone-before-store contract live in Bucket so all drivers behave the
// same. Writes are whole-entry replacements, so concurrent writers of the same
// key race benignly (last writer wins).
package cache
