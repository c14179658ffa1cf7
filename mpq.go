package mpq

import mpqcore "github.com/meigma/mpq/core"

// Constructors re-exported from core.
var (
	// Open opens the archive at path for reading.
	Open = mpqcore.Open

	// OpenMmap opens the archive at path through a read-only memory mapping.
	OpenMmap = mpqcore.OpenMmap

	// OpenSource opens an archive served by any ByteSource.
	OpenSource = mpqcore.OpenSource

	// Create creates a new archive at path, truncating an existing file.
	Create = mpqcore.Create

	// OpenMutable opens an existing archive for modification.
	OpenMutable = mpqcore.OpenMutable

	// Rebuild copies the live files of one archive into a fresh one.
	Rebuild = mpqcore.Rebuild

	// NormalizeName converts a path to archive form with "\" separators.
	NormalizeName = mpqcore.NormalizeName

	// GenerateKey generates an RSA key for signing archives.
	GenerateKey = mpqcore.GenerateKey

	// BlizzardWeakKey returns the public key of Blizzard weak signatures.
	BlizzardWeakKey = mpqcore.BlizzardWeakKey

	// BlizzardStrongKey returns the public key of Blizzard strong signatures.
	BlizzardStrongKey = mpqcore.BlizzardStrongKey

	// DefaultSkipCompression skips small and already-compressed files in
	// AddDir.
	DefaultSkipCompression = mpqcore.DefaultSkipCompression
)

// Archive options.
var (
	WithLogger             = mpqcore.WithLogger
	WithCache              = mpqcore.WithCache
	WithMetrics            = mpqcore.WithMetrics
	WithStrictCRC          = mpqcore.WithStrictCRC
	WithVerifyTableDigests = mpqcore.WithVerifyTableDigests
	WithSignatureKeys      = mpqcore.WithSignatureKeys
	WithProgress           = mpqcore.WithProgress
)

// Create and Rebuild options.
var (
	WithVersion         = mpqcore.WithVersion
	WithHashTableSize   = mpqcore.WithHashTableSize
	WithSectorSizeShift = mpqcore.WithSectorSizeShift
	WithListfile        = mpqcore.WithListfile
	WithAttributes      = mpqcore.WithAttributes
	WithUserData        = mpqcore.WithUserData
	WithArchiveOptions  = mpqcore.WithArchiveOptions
)

// AddFile options.
var (
	WithCompression = mpqcore.WithCompression
	WithImplode     = mpqcore.WithImplode
	WithEncryption  = mpqcore.WithEncryption
	WithSingleUnit  = mpqcore.WithSingleUnit
	WithSectorCRC   = mpqcore.WithSectorCRC
	WithLocale      = mpqcore.WithLocale
	WithReplace     = mpqcore.WithReplace
	WithModTime     = mpqcore.WithModTime
)

// AddDir options.
var (
	WithPrefix          = mpqcore.WithPrefix
	WithAddOptions      = mpqcore.WithAddOptions
	WithSkipCompression = mpqcore.WithSkipCompression
)

// VerifyAll and ExtractAll options.
var (
	WithWorkers        = mpqcore.WithWorkers
	WithKeepGoing      = mpqcore.WithKeepGoing
	WithReadAheadBytes = mpqcore.WithReadAheadBytes
	WithOverwrite      = mpqcore.WithOverwrite
	WithPreserveTimes  = mpqcore.WithPreserveTimes
	WithNames          = mpqcore.WithNames
)
