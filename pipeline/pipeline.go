package pipeline

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ashleydavis/photosphere-sub005/hashcache"
	"github.com/ashleydavis/photosphere-sub005/log"
	"github.com/ashleydavis/photosphere-sub005/merkletree"
	"github.com/ashleydavis/photosphere-sub005/metastore"
	"github.com/ashleydavis/photosphere-sub005/metrics"
	"github.com/ashleydavis/photosphere-sub005/storage"
	"github.com/ashleydavis/photosphere-sub005/taskqueue"
	"github.com/ashleydavis/photosphere-sub005/writelock"
)

const (
	hashFileTask   = "hash-file"
	importFileTask = "import-file"

	cacheSaveEvery  = 100
	flushDebounce   = time.Second
	shutdownPollGap = 100 * time.Millisecond
)

// ErrHashMismatch is a Corruption-class error (spec §7): the re-hashed
// upload did not match the hash computed before upload.
var ErrHashMismatch = errors.New("pipeline: uploaded asset hash mismatch")

// TreeLoader loads the current Merkle tree under the write-lock. Save
// persists it back. Both are supplied by the assetdb facade so the
// pipeline never needs to know the tree's storage path.
type TreeLoader func() (*merkletree.Tree, error)
type TreeSaver func(*merkletree.Tree) error

// Pipeline drives asset ingestion end to end (spec §4.5).
type Pipeline struct {
	assetStorage *storage.Storage
	metaStore    *metastore.Store
	queue        *taskqueue.Queue
	lock         *writelock.Lock
	sessionID    string
	logger       *log.Logger

	loadTree TreeLoader
	saveTree TreeSaver

	analyzer MediaAnalyzer
	geocoder GeocodeProvider

	cacheMu sync.RWMutex
	cache   *hashcache.Cache

	mu                  sync.Mutex
	summary             Summary
	hashesQueuedForImport mapset.Set[string]
	pendingUpdates      []assetData
	isProcessingQueue   bool
	newEntriesSinceSave int
	flushTimer          *time.Timer
}

// New constructs a Pipeline. sessionID identifies this process as a
// write-lock owner (spec §4.4).
func New(
	assetStorage *storage.Storage,
	metaStore *metastore.Store,
	cache *hashcache.Cache,
	loadTree TreeLoader,
	saveTree TreeSaver,
	analyzer MediaAnalyzer,
	geocoder GeocodeProvider,
	sessionID string,
	maxWorkers int,
) *Pipeline {
	p := &Pipeline{
		assetStorage:          assetStorage,
		metaStore:             metaStore,
		cache:                 cache,
		loadTree:              loadTree,
		saveTree:              saveTree,
		analyzer:              analyzer,
		geocoder:              geocoder,
		sessionID:             sessionID,
		logger:                log.Default().Module("pipeline"),
		queue:                 taskqueue.Create(maxWorkers),
		hashesQueuedForImport: mapset.NewSet[string](),
	}
	p.lock = writelock.New(assetStorage, writelock.LockPath, sessionID)
	p.queue.OnTaskComplete(p.onTaskComplete)
	return p
}

// Run scans paths for ingestible files and drives them through the
// pipeline, returning the final Summary once every task has settled
// (spec §4.5 steps 1-6; Run itself performs the Shutdown sequence).
func (p *Pipeline) Run(paths []string, scanner *Scanner) (Summary, error) {
	err := scanner.Scan(paths, func(entry ScanEntry) error {
		metrics.FilesScanned.Inc()
		p.queue.AddTask(taskqueue.Task{ID: entry.AssetID, Type: hashFileTask, Data: entry}, p.runHashFile)
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("pipeline: scan: %w", err)
	}

	p.mu.Lock()
	p.summary.FilesIgnored += scanner.State.Ignored
	p.summary.FilesFailed += scanner.State.Failed
	p.mu.Unlock()

	return p.Shutdown()
}

// runHashFile implements spec §4.5 step 2: consult the hash cache,
// otherwise hash the file, and report whether this hash already exists
// in the metadata store.
func (p *Pipeline) runHashFile(task taskqueue.Task) (interface{}, error) {
	entry := task.Data.(ScanEntry)

	hash, fromCache, err := p.hashFile(entry.FilePath)
	if err != nil {
		p.logger.Error("hash failed", "path", entry.FilePath, "err", err)
		return nil, fmt.Errorf("pipeline: hash %s: %w", entry.FilePath, err)
	}

	docs, err := p.metaStore.FindByIndex("hash", hex(hash))
	if err != nil {
		return nil, err
	}

	return hashFileOutcome{
		entry:            entry,
		hash:             hash,
		fromCache:        fromCache,
		filesAlreadyAdded: len(docs) > 0,
	}, nil
}

type hashFileOutcome struct {
	entry             ScanEntry
	hash              merkletree.Hash
	fromCache         bool
	filesAlreadyAdded bool
}

func (p *Pipeline) hashFile(path string) (merkletree.Hash, bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return merkletree.Hash{}, false, err
	}

	normPath, lastModified := path, uint64(fi.ModTime().UnixMilli())

	p.cacheMu.RLock()
	cached, found := p.cache.GetHash(normPath)
	p.cacheMu.RUnlock()
	if found && cached.LastModified == lastModified && int64(cached.Length) == fi.Size() {
		return merkletree.BytesToHash(cached.Hash[:]), true, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return merkletree.Hash{}, false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return merkletree.Hash{}, false, err
	}
	hash := merkletree.BytesToHash(h.Sum(nil))

	p.cacheMu.Lock()
	_ = p.cache.AddHash(normPath, hash.Bytes(), uint64(fi.Size()), lastModified)
	p.newEntriesSinceSave++
	shouldSave := p.newEntriesSinceSave >= cacheSaveEvery
	if shouldSave {
		p.newEntriesSinceSave = 0
	}
	p.cacheMu.Unlock()

	if shouldSave {
		_ = p.cache.Save() // spec §4.5 step 3: "errors swallowed — cache remains dirty"
	}

	return hash, false, nil
}

// onTaskComplete dispatches completions for both task types (spec §4.5
// steps 3 and 5); the task queue calls it on the worker goroutine that ran
// the task, so completions of different tasks can run concurrently.
func (p *Pipeline) onTaskComplete(c taskqueue.Completion) {
	switch c.Task.Type {
	case hashFileTask:
		p.onHashFileComplete(c)
	case importFileTask:
		p.onImportFileComplete(c)
	}
}

func (p *Pipeline) onHashFileComplete(c taskqueue.Completion) {
	if c.Result.Status == taskqueue.Failed {
		p.mu.Lock()
		p.summary.FilesFailed++
		p.mu.Unlock()
		metrics.FilesFailed.Inc()
		return
	}

	outcome := c.Result.Outputs.(hashFileOutcome)

	if outcome.filesAlreadyAdded {
		p.mu.Lock()
		p.summary.FilesAlreadyAdded++
		p.mu.Unlock()
		metrics.FilesDeduplicated.Inc()
		return
	}

	hashHex := hex(outcome.hash)

	p.mu.Lock()
	if p.hashesQueuedForImport.Contains(hashHex) {
		p.mu.Unlock()
		metrics.FilesDeduplicated.Inc()
		return
	}
	p.hashesQueuedForImport.Add(hashHex)
	p.mu.Unlock()

	p.queue.AddTask(taskqueue.Task{
		ID:   outcome.entry.AssetID,
		Type: importFileTask,
		Data: importFileInput{entry: outcome.entry, expectedHash: outcome.hash},
	}, p.runImportFile)
}

type importFileInput struct {
	entry        ScanEntry
	expectedHash merkletree.Hash
}

// runImportFile implements spec §4.5 step 4: upload, re-hash-and-verify,
// optionally analyze/geocode, and build an AssetRecord.
func (p *Pipeline) runImportFile(task taskqueue.Task) (interface{}, error) {
	timer := metrics.NewTimer(metrics.ImportLatency)
	defer timer.Stop()

	in := task.Data.(importFileInput)
	entry := in.entry

	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read %s: %w", entry.FilePath, err)
	}

	assetPath := "asset/" + entry.AssetID
	uploaded := []string{assetPath}
	if err := p.assetStorage.Write(assetPath, entry.ContentType, data); err != nil {
		return nil, fmt.Errorf("pipeline: upload asset: %w", err)
	}

	var analysis MediaAnalysis
	if p.analyzer != nil {
		analysis, _ = p.analyzer.Analyze(entry, data)
	}

	files := []treeFile{{name: assetPath, length: uint64(len(data)), lastModified: uint64(entry.ModTime.UnixMilli())}}

	thumbPath := ""
	if len(analysis.Thumbnail) > 0 {
		thumbPath = "thumb/" + entry.AssetID
		uploaded = append(uploaded, thumbPath)
		if err := p.assetStorage.Write(thumbPath, "image/jpeg", analysis.Thumbnail); err != nil {
			p.cleanupUploads(uploaded)
			return nil, fmt.Errorf("pipeline: upload thumbnail: %w", err)
		}
		files = append(files, treeFile{name: thumbPath, length: uint64(len(analysis.Thumbnail))})
	}

	displayPath := ""
	if len(analysis.Display) > 0 {
		displayPath = "display/" + entry.AssetID
		uploaded = append(uploaded, displayPath)
		if err := p.assetStorage.Write(displayPath, "image/jpeg", analysis.Display); err != nil {
			p.cleanupUploads(uploaded)
			return nil, fmt.Errorf("pipeline: upload display: %w", err)
		}
		files = append(files, treeFile{name: displayPath, length: uint64(len(analysis.Display))})
	}

	// Re-hash the main asset from storage and verify it matches the hash
	// computed before upload (spec §4.5 step 4, Corruption-class on
	// mismatch).
	reread, err := p.assetStorage.Read(assetPath)
	if err != nil {
		p.cleanupUploads(uploaded)
		return nil, fmt.Errorf("pipeline: reread asset: %w", err)
	}
	rehash := merkletree.SumContent(reread)
	if rehash != in.expectedHash {
		p.cleanupUploads(uploaded)
		p.logger.Error("hash mismatch after upload", "path", entry.FilePath)
		return nil, fmt.Errorf("%w: %s", ErrHashMismatch, entry.FilePath)
	}
	for i := range files {
		if files[i].name == assetPath {
			files[i].hash = rehash
		}
	}

	var location string
	if p.geocoder != nil && analysis.Coordinates != nil {
		location, _ = p.geocoder.ReverseGeocode(*analysis.Coordinates)
	}

	record := AssetRecord{
		ID:            entry.AssetID,
		Hash:          hex(rehash),
		Width:         analysis.Width,
		Height:        analysis.Height,
		ContentType:   entry.ContentType,
		Labels:        entry.Labels,
		Coordinates:   analysis.Coordinates,
		Location:      location,
		PhotoDate:     analysis.PhotoDate,
		UploadDate:    time.Now().UTC(),
		MicroPreview:  analysis.MicroPreview,
		DominantColor: analysis.DominantColor,
	}

	return assetData{totalSize: int64(len(data)), files: files, record: record}, nil
}

func (p *Pipeline) cleanupUploads(paths []string) {
	for _, path := range paths {
		_ = p.assetStorage.DeleteFile(path)
	}
}

func (p *Pipeline) onImportFileComplete(c taskqueue.Completion) {
	if c.Result.Status == taskqueue.Failed {
		p.mu.Lock()
		p.summary.FilesFailed++
		p.mu.Unlock()
		metrics.FilesFailed.Inc()
		return
	}

	data := c.Result.Outputs.(assetData)

	p.mu.Lock()
	p.pendingUpdates = append(p.pendingUpdates, data)
	p.mu.Unlock()

	p.scheduleFlush()
}

// scheduleFlush debounces flushPending by flushDebounce, per spec
// §4.5 step 6 ("Debounced with a 1s trailing throttle").
func (p *Pipeline) scheduleFlush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flushTimer != nil {
		p.flushTimer.Stop()
	}
	p.flushTimer = time.AfterFunc(flushDebounce, p.flushPending)
}

// flushPending is the throttled database-update flusher (spec §4.5
// step 6). Guarded by isProcessingQueue so only one flush runs at a
// time.
func (p *Pipeline) flushPending() {
	p.mu.Lock()
	if p.isProcessingQueue {
		p.mu.Unlock()
		return
	}
	if len(p.pendingUpdates) == 0 {
		p.mu.Unlock()
		return
	}
	p.isProcessingQueue = true
	batch := p.pendingUpdates
	p.pendingUpdates = nil
	p.mu.Unlock()

	processed := p.processPendingDatabaseUpdates(batch)

	p.mu.Lock()
	p.isProcessingQueue = false
	if !processed {
		// Re-queue at the head: spec §4.5 step 6.a.
		p.pendingUpdates = append(batch, p.pendingUpdates...)
	}
	p.mu.Unlock()
}

// processPendingDatabaseUpdates applies batch to the Merkle tree and
// metadata store under the write-lock (spec §4.5 step 6).
func (p *Pipeline) processPendingDatabaseUpdates(batch []assetData) bool {
	if err := p.lock.Acquire(context.Background(), 1); err != nil {
		return false
	}
	defer p.lock.Release()

	tree, err := p.loadTreeWithRetry()
	if err != nil {
		return false
	}

	var totalSize int64
	for _, item := range batch {
		for _, f := range item.files {
			_ = tree.UpsertFile(merkletree.File{
				Name:         f.name,
				Hash:         f.hash,
				Length:       f.length,
				LastModified: f.lastModified,
			})
		}
		if err := p.metaStore.InsertOne(item.record); err != nil {
			return false
		}
		totalSize += item.totalSize
	}

	meta, _ := toBSONMap(tree.DatabaseMetadata)
	meta["filesImported"] = toInt(meta["filesImported"]) + len(batch)
	tree.DatabaseMetadata = meta

	if err := p.saveTreeWithRetry(tree); err != nil {
		return false
	}

	p.mu.Lock()
	p.summary.FilesAdded += len(batch)
	p.summary.FilesProcessed += len(batch)
	p.summary.TotalSize += uint64(totalSize)
	for _, item := range batch {
		p.hashesQueuedForImport.Remove(item.record.Hash)
	}
	p.mu.Unlock()
	metrics.FilesImported.Add(int64(len(batch)))

	return true
}

func (p *Pipeline) loadTreeWithRetry() (*merkletree.Tree, error) {
	return retryBackoff(func() (*merkletree.Tree, error) { return p.loadTree() })
}

func (p *Pipeline) saveTreeWithRetry(tree *merkletree.Tree) error {
	_, err := retryBackoff(func() (struct{}, error) { return struct{}{}, p.saveTree(tree) })
	return err
}

// Shutdown drains every in-flight task and pending database update,
// saves the hash cache, and returns the final Summary (spec §4.5 step
// 7).
func (p *Pipeline) Shutdown() (Summary, error) {
	p.queue.AwaitAllTasks()

	p.mu.Lock()
	if p.flushTimer != nil {
		p.flushTimer.Stop()
	}
	p.mu.Unlock()
	p.flushPending()

	for {
		p.mu.Lock()
		processing := p.isProcessingQueue
		p.mu.Unlock()
		if !processing {
			break
		}
		time.Sleep(shutdownPollGap)
	}

	p.mu.Lock()
	remaining := p.pendingUpdates
	p.pendingUpdates = nil
	p.mu.Unlock()
	if len(remaining) > 0 {
		p.processPendingDatabaseUpdates(remaining)
	}

	p.cacheMu.Lock()
	cacheErr := p.cache.Save()
	p.cacheMu.Unlock()
	if cacheErr != nil {
		p.logger.Error("hash cache save failed", "err", cacheErr)
	}

	p.queue.Shutdown()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.summary.finalize()
	p.logger.Info("import finished",
		"added", p.summary.FilesAdded,
		"alreadyAdded", p.summary.FilesAlreadyAdded,
		"ignored", p.summary.FilesIgnored,
		"failed", p.summary.FilesFailed,
	)
	return p.summary, nil
}

func hex(h merkletree.Hash) string {
	const hextable = "0123456789abcdef"
	b := h.Bytes()
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

func toBSONMap(v interface{}) (map[string]interface{}, error) {
	if v == nil {
		return map[string]interface{}{}, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}, nil
	}
	return m, nil
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	default:
		return 0
	}
}
