// Package pipeline drives the multi-stage asset import described in
// spec §4.5: a scan producer, a hash-file worker stage, an import-file
// worker stage, and a throttled single-writer database-update stage
// that applies batched Merkle-tree and metadata mutations under the
// write-lock.
//
// It is grounded on the teacher's node/lifecycle.go Service/
// LifecycleManager shape (adapted here into the pipeline's own
// stage lifecycle) and core/rawdb/batch.go's auto-flush-at-threshold
// BatchWriter idiom (adapted into the throttled database-update flush).
package pipeline

import (
	"time"

	"github.com/ashleydavis/photosphere-sub005/merkletree"
)

// ScanEntry is one accepted file yielded by the scan producer (spec
// §4.5 step 1).
type ScanEntry struct {
	AssetID     string
	FilePath    string // always a real, readable file on local disk
	LogicalPath string // may traverse nested zip names; carried for logging only
	ContentType string
	Length      int64
	ModTime     time.Time
	Labels      []string
}

// ScannerState accumulates counts of files the scan producer chose not
// to forward downstream.
type ScannerState struct {
	Ignored int
	Failed  int
}

// Coordinates is an optional GPS location carried on an AssetRecord.
type Coordinates struct {
	Latitude, Longitude float64
}

// MediaAnalysis is the result of running an entry through the external
// image/video analysis collaborator (spec §4.5 step 4). Every field is
// optional; a collaborator that cannot say anything about a file type
// returns a zero-value MediaAnalysis.
type MediaAnalysis struct {
	Thumbnail     []byte
	Display       []byte
	MicroPreview  string // base64
	Width, Height int
	Duration      time.Duration
	PhotoDate     time.Time
	Coordinates   *Coordinates
	DominantColor [3]uint8
}

// MediaAnalyzer is the external image/video collaborator referenced by
// spec §4.5 step 4. This module ships no concrete implementation —
// wiring a real one (EXIF/thumbnail library) is left to the host
// application, the same way Storage/MetadataStore have concrete
// reference implementations here but Storage's own *blob backend*
// (S3, GCS, ...) does not.
type MediaAnalyzer interface {
	Analyze(entry ScanEntry, data []byte) (MediaAnalysis, error)
}

// GeocodeProvider reverse-geocodes coordinates into a human-readable
// description (spec §4.5 step 4, "optionally reverse-geocodes").
type GeocodeProvider interface {
	ReverseGeocode(c Coordinates) (string, error)
}

// AssetRecord is the metadata document inserted into the metadata store
// for each imported asset (spec §4.5 step 4).
type AssetRecord struct {
	ID            string            `bson:"id"`
	Hash          string            `bson:"hash"`
	Width         int               `bson:"width,omitempty"`
	Height        int               `bson:"height,omitempty"`
	ContentType   string            `bson:"contentType"`
	Labels        []string          `bson:"labels,omitempty"`
	Coordinates   *Coordinates      `bson:"coordinates,omitempty"`
	Location      string            `bson:"location,omitempty"`
	PhotoDate     time.Time         `bson:"photoDate,omitempty"`
	UploadDate    time.Time         `bson:"uploadDate"`
	Description   string            `bson:"description,omitempty"`
	MicroPreview  string            `bson:"microPreview,omitempty"`
	DominantColor [3]uint8          `bson:"dominantColor,omitempty"`
	Properties    map[string]string `bson:"properties,omitempty"`
}

// assetData is what an import-file task hands back to the main driver:
// the storage paths/hashes/lengths written for this asset, plus the
// metadata record to insert (spec §4.5 step 4's return value).
type assetData struct {
	totalSize int64
	files     []treeFile
	record    AssetRecord
}

// treeFile is one file the db-update stage must insert into the Merkle
// tree (spec §4.5 step 4.b: "add the asset, thumb (if any), display (if
// any) into the tree").
type treeFile struct {
	name         string
	hash         merkletree.Hash
	length       uint64
	lastModified uint64
}

// Summary is the ImportPipeline's sole user-visible failure surface
// (spec §7), returned by Run/Shutdown.
type Summary struct {
	FilesAdded        int
	FilesAlreadyAdded int
	FilesIgnored      int
	FilesFailed       int
	FilesProcessed    int
	TotalSize         uint64
	AverageSize       uint64
}

func (s *Summary) finalize() {
	if s.FilesProcessed == 0 {
		return
	}
	s.AverageSize = s.TotalSize / uint64(s.FilesProcessed)
}
