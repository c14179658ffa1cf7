package mpqtype

// ProgressEvent represents a progress update during verification,
// extraction, directory import or rebuild.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Path is the archive name currently being processed, if applicable.
	Path string

	// BytesDone is the number of bytes completed so far.
	BytesDone uint64

	// BytesTotal is the total bytes for the operation.
	// Zero indicates the total is unknown.
	BytesTotal uint64

	// FilesDone is the number of files completed.
	FilesDone int

	// FilesTotal is the total number of files.
	// Zero indicates the total is unknown (e.g., during enumeration).
	FilesTotal int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

// Progress stages.
const (
	// StageEnumerating indicates names are being collected.
	StageEnumerating ProgressStage = iota

	// StageVerifying indicates files are being read and checked.
	StageVerifying

	// StageExtracting indicates files are being written to disk.
	StageExtracting

	// StageAdding indicates files are being compressed into an archive.
	StageAdding

	// StageRebuilding indicates live files are being copied into a fresh archive.
	StageRebuilding

	// StageWritingTables indicates the index tables and header are being written.
	StageWritingTables
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageEnumerating:
		return "enumerating"
	case StageVerifying:
		return "verifying"
	case StageExtracting:
		return "extracting"
	case StageAdding:
		return "adding"
	case StageRebuilding:
		return "rebuilding"
	case StageWritingTables:
		return "writing tables"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)
