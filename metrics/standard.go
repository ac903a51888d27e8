package metrics

// Pre-defined metrics for the asset database core. All metrics live in
// DefaultRegistry so they are globally accessible without passing a
// registry around.

var (
	// ---- Hash cache metrics ----

	// HashCacheHits counts hash lookups served from the persisted cache.
	HashCacheHits = DefaultRegistry.Counter("hashcache.hits")
	// HashCacheMisses counts hash lookups that fell through to a full
	// SHA-256 pass over the file content.
	HashCacheMisses = DefaultRegistry.Counter("hashcache.misses")
	// HashCacheEntries tracks the current number of entries held in the
	// in-memory cache.
	HashCacheEntries = DefaultRegistry.Gauge("hashcache.entries")
	// HashCacheSaveTime records hashcache.Save duration in milliseconds.
	HashCacheSaveTime = DefaultRegistry.Histogram("hashcache.save_ms")

	// ---- Import pipeline metrics ----

	// PipelineQueueDepth tracks the number of in-flight tasks across the
	// scan/hash/import task queue.
	PipelineQueueDepth = DefaultRegistry.Gauge("pipeline.queue_depth")
	// FilesScanned counts files discovered by the scanner, including
	// ones later ignored or deduplicated.
	FilesScanned = DefaultRegistry.Counter("pipeline.files_scanned")
	// FilesImported counts files that completed the import-file stage
	// and were upserted into the tree.
	FilesImported = DefaultRegistry.Counter("pipeline.files_imported")
	// FilesFailed counts files that failed hashing or import.
	FilesFailed = DefaultRegistry.Counter("pipeline.files_failed")
	// FilesDeduplicated counts files skipped because their content hash
	// was already queued or already present in the database.
	FilesDeduplicated = DefaultRegistry.Counter("pipeline.files_deduplicated")
	// ImportLatency records the per-file import-file task duration in
	// milliseconds, from upload through hash verification.
	ImportLatency = DefaultRegistry.Histogram("pipeline.import_ms")

	// ---- Merkle tree / database metrics ----

	// TreeSaveTime records how long encoding and writing the tree takes,
	// in milliseconds.
	TreeSaveTime = DefaultRegistry.Histogram("tree.save_ms")
	// TreeLoadTime records how long reading and decoding the tree takes,
	// in milliseconds.
	TreeLoadTime = DefaultRegistry.Histogram("tree.load_ms")
	// TreeActiveFiles tracks the current number of non-deleted files in
	// the loaded tree.
	TreeActiveFiles = DefaultRegistry.Gauge("tree.active_files")

	// ---- Write lock metrics ----

	// WriteLockAcquireAttempts counts polling attempts made while
	// acquiring the write lock, including ones that found it contended.
	WriteLockAcquireAttempts = DefaultRegistry.Counter("writelock.acquire_attempts")
	// WriteLockContended counts acquisitions that observed the lock
	// already held by another session at least once before succeeding
	// or giving up.
	WriteLockContended = DefaultRegistry.Counter("writelock.contended")
)
