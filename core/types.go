package mpq

import (
	"github.com/meigma/mpq/core/internal/batch"
	"github.com/meigma/mpq/core/internal/compress"
	"github.com/meigma/mpq/core/internal/format"
	"github.com/meigma/mpq/core/internal/mpqtype"
	"github.com/meigma/mpq/core/internal/sector"
	"github.com/meigma/mpq/core/internal/signature"
	"github.com/meigma/mpq/core/internal/special"
	"github.com/meigma/mpq/core/internal/tables"
)

// Re-export types from the internal packages for the public API.
type (
	// Header is the decoded archive header.
	Header = format.Header

	// UserData is the optional block preceding the archive header.
	UserData = format.UserData

	// Version is the zero-based format version stored in the header.
	Version = format.Version

	// HashEntry is one slot of the classic hash table.
	HashEntry = tables.HashEntry

	// BlockEntry describes where a payload lives and how it is stored.
	BlockEntry = tables.BlockEntry

	// Mask selects the compression steps applied to each sector.
	Mask = compress.Mask

	// Report describes checksum findings of a read that did not fail.
	Report = sector.Report

	// Attributes is a decoded (attributes) file.
	Attributes = special.Attributes

	// FileAttributes holds the recorded values of one block.
	FileAttributes = special.FileAttributes

	// PublicKey verifies archive signatures.
	PublicKey = signature.PublicKey

	// PrivateKey produces archive signatures.
	PrivateKey = signature.PrivateKey

	// BatchStats summarizes a VerifyAll or ExtractAll run.
	BatchStats = batch.ProcessStats

	// ProgressEvent represents a progress update during operations.
	ProgressEvent = mpqtype.ProgressEvent

	// ProgressStage identifies the current phase of an operation.
	ProgressStage = mpqtype.ProgressStage

	// ProgressFunc receives progress updates during operations.
	ProgressFunc = mpqtype.ProgressFunc
)

// Format versions.
const (
	V1 = format.V1
	V2 = format.V2
	V3 = format.V3
	V4 = format.V4
)

// Block flags.
const (
	FlagImplode      = tables.FlagImplode
	FlagCompress     = tables.FlagCompress
	FlagEncrypted    = tables.FlagEncrypted
	FlagFixKey       = tables.FlagFixKey
	FlagPatchFile    = tables.FlagPatchFile
	FlagSingleUnit   = tables.FlagSingleUnit
	FlagDeleteMarker = tables.FlagDeleteMarker
	FlagSectorCRC    = tables.FlagSectorCRC
	FlagExists       = tables.FlagExists
)

// Compression mask bits.
const (
	CompressHuffman     = compress.Huffman
	CompressZlib        = compress.Zlib
	CompressPKWare      = compress.PKWare
	CompressBZip2       = compress.BZip2
	CompressSparse      = compress.Sparse
	CompressADPCMMono   = compress.ADPCMMono
	CompressADPCMStereo = compress.ADPCMStereo
	CompressLZMA        = compress.LZMA
)

// LocaleNeutral is the default locale.
const LocaleNeutral = tables.LocaleNeutral

// Re-export progress stage constants.
const (
	StageEnumerating   = mpqtype.StageEnumerating
	StageVerifying     = mpqtype.StageVerifying
	StageExtracting    = mpqtype.StageExtracting
	StageAdding        = mpqtype.StageAdding
	StageRebuilding    = mpqtype.StageRebuilding
	StageWritingTables = mpqtype.StageWritingTables
)

// Reserved archive names.
const (
	ListfileName   = special.ListfileName
	AttributesName = special.AttributesName
	SignatureName  = special.SignatureName
)

// BlizzardWeakKey returns the public key that verifies weak signatures of
// official archives.
func BlizzardWeakKey() *PublicKey { return signature.BlizzardWeakKey() }

// BlizzardStrongKey returns the public key that verifies strong signatures
// of official archives.
func BlizzardStrongKey() *PublicKey { return signature.BlizzardStrongKey() }

// GenerateKey is re-exported from internal/signature.
var GenerateKey = signature.GenerateKey
