package mpq

import mpqcore "github.com/meigma/mpq/core"

// --- Re-exports from core ---

type (
	// Archive is a read handle on one archive.
	Archive = mpqcore.Archive

	// Mutable is an archive opened for modification.
	Mutable = mpqcore.Mutable

	// File is an open archive file returned by Archive.Open.
	File = mpqcore.File

	// FileInfo describes a resolved archive entry.
	FileInfo = mpqcore.FileInfo

	// Entry is one live row of the index tables.
	Entry = mpqcore.Entry

	// ByteSource provides random access to archive bytes.
	ByteSource = mpqcore.ByteSource

	// Header is the parsed archive header.
	Header = mpqcore.Header

	// UserData is the optional block in front of the header.
	UserData = mpqcore.UserData

	// Version is the archive format version.
	Version = mpqcore.Version

	// HashEntry is one hash table slot.
	HashEntry = mpqcore.HashEntry

	// BlockEntry is one block table row.
	BlockEntry = mpqcore.BlockEntry

	// Mask is a sector compression mask.
	Mask = mpqcore.Mask

	// Report lists the sector checksum failures of a read.
	Report = mpqcore.Report

	// Attributes is the decoded (attributes) file.
	Attributes = mpqcore.Attributes

	// FileAttributes holds the recorded values of one block.
	FileAttributes = mpqcore.FileAttributes

	// PublicKey is an RSA public key for signature checks.
	PublicKey = mpqcore.PublicKey

	// PrivateKey is an RSA private key for signing.
	PrivateKey = mpqcore.PrivateKey

	// SignatureStatus names the kind of signature an archive carries.
	SignatureStatus = mpqcore.SignatureStatus

	// BatchStats summarizes a VerifyAll or ExtractAll run.
	BatchStats = mpqcore.BatchStats

	// SkipCompressionFunc reports whether AddDir stores a file uncompressed.
	SkipCompressionFunc = mpqcore.SkipCompressionFunc

	// ProgressEvent represents a progress update.
	ProgressEvent = mpqcore.ProgressEvent

	// ProgressStage identifies the current phase of an operation.
	ProgressStage = mpqcore.ProgressStage

	// ProgressFunc receives progress updates.
	ProgressFunc = mpqcore.ProgressFunc

	// Option configures an Archive or a Mutable.
	Option = mpqcore.Option

	// CreateOption configures Create.
	CreateOption = mpqcore.CreateOption

	// RebuildOption configures Rebuild.
	RebuildOption = mpqcore.RebuildOption

	// AddOption configures Mutable.AddFile.
	AddOption = mpqcore.AddOption

	// DirOption configures Mutable.AddDir.
	DirOption = mpqcore.DirOption

	// BatchOption configures VerifyAll and ExtractAll.
	BatchOption = mpqcore.BatchOption
)

// Format versions.
const (
	V1 = mpqcore.V1
	V2 = mpqcore.V2
	V3 = mpqcore.V3
	V4 = mpqcore.V4
)

// Block flags.
const (
	FlagImplode      = mpqcore.FlagImplode
	FlagCompress     = mpqcore.FlagCompress
	FlagEncrypted    = mpqcore.FlagEncrypted
	FlagFixKey       = mpqcore.FlagFixKey
	FlagPatchFile    = mpqcore.FlagPatchFile
	FlagSingleUnit   = mpqcore.FlagSingleUnit
	FlagDeleteMarker = mpqcore.FlagDeleteMarker
	FlagSectorCRC    = mpqcore.FlagSectorCRC
	FlagExists       = mpqcore.FlagExists
)

// Compression mask bits.
const (
	CompressHuffman     = mpqcore.CompressHuffman
	CompressZlib        = mpqcore.CompressZlib
	CompressPKWare      = mpqcore.CompressPKWare
	CompressBZip2       = mpqcore.CompressBZip2
	CompressSparse      = mpqcore.CompressSparse
	CompressADPCMMono   = mpqcore.CompressADPCMMono
	CompressADPCMStereo = mpqcore.CompressADPCMStereo
	CompressLZMA        = mpqcore.CompressLZMA
)

// LocaleNeutral is the default locale.
const LocaleNeutral = mpqcore.LocaleNeutral

// (attributes) flags.
const (
	AttrCRC32    = mpqcore.AttrCRC32
	AttrFileTime = mpqcore.AttrFileTime
	AttrMD5      = mpqcore.AttrMD5
	AttrPatchBit = mpqcore.AttrPatchBit
)

// Signature kinds.
const (
	SignatureNone   = mpqcore.SignatureNone
	SignatureWeak   = mpqcore.SignatureWeak
	SignatureStrong = mpqcore.SignatureStrong
)

// Progress stages.
const (
	StageEnumerating   = mpqcore.StageEnumerating
	StageVerifying     = mpqcore.StageVerifying
	StageExtracting    = mpqcore.StageExtracting
	StageAdding        = mpqcore.StageAdding
	StageRebuilding    = mpqcore.StageRebuilding
	StageWritingTables = mpqcore.StageWritingTables
)

// Reserved file names.
const (
	ListfileName   = mpqcore.ListfileName
	AttributesName = mpqcore.AttributesName
	SignatureName  = mpqcore.SignatureName
)

// Defaults used by Create.
const (
	DefaultHashTableSize   = mpqcore.DefaultHashTableSize
	DefaultSectorSizeShift = mpqcore.DefaultSectorSizeShift
)
