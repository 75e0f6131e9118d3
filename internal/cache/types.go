package cache

// CacheKind is used to separate key spaces and tuning.
type CacheKind uint8

const (
	CacheKindUnknown CacheKind = iota
	CacheKindData              // table data blocks
	CacheKindIndex             // block index / partition index blocks
	CacheKindFilter            // bloom filter blocks
	CacheKindBlob              // generic blob store blocks
)

// String returns the kind's name.
func (k CacheKind) String() string {
	switch k {
	case CacheKindData:
		return "data"
	case CacheKindIndex:
		return "index"
	case CacheKindFilter:
		return "filter"
	case CacheKindBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// CacheKey must be stable across processes.
type CacheKey struct {
	Kind CacheKind
	// BlobID identifies the source file when it has a numeric id (e.g. SST file number).
	BlobID uint64
	// Offset is a logical block identifier (e.g., byte offset / block index).
	Offset uint64
	// Path is optional; if provided, it identifies the source (e.g. filename).
	// Used by generic blob caching when BlobID is not known or sufficient.
	Path string
}
