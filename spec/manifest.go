package spec

// ManifestContent says whether a manifest tracks data or delete files.
type ManifestContent int

const (
	ManifestContentData    ManifestContent = 0
	ManifestContentDeletes ManifestContent = 1
)

func (c ManifestContent) String() string {
	if c == ManifestContentDeletes {
		return "deletes"
	}
	return "data"
}

// FileContent is the kind of file a data_file describes.
type FileContent int

const (
	FileContentData            FileContent = 0
	FileContentPositionDeletes FileContent = 1
	FileContentEqualityDeletes FileContent = 2
)

// FileFormat is the on-disk format of a data file.
type FileFormat string

const (
	FileFormatParquet FileFormat = "PARQUET"
	FileFormatAvro    FileFormat = "AVRO"
	FileFormatORC     FileFormat = "ORC"
)

// EntryStatus is the status column of a manifest entry.
type EntryStatus int

const (
	EntryStatusExisting EntryStatus = 0
	EntryStatusAdded    EntryStatus = 1
	EntryStatusDeleted  EntryStatus = 2
)

func (s EntryStatus) String() string {
	switch s {
	case EntryStatusExisting:
		return "existing"
	case EntryStatusAdded:
		return "added"
	case EntryStatusDeleted:
		return "deleted"
	}
	return "unknown"
}

// ManifestEntry is one row of a manifest file.
type ManifestEntry struct {
	Status             EntryStatus
	SnapshotID         *int64
	SequenceNumber     *int64
	FileSequenceNumber *int64
	DataFile           DataFile
}

// DataFile describes one data or delete file. Statistics maps are keyed by
// schema field id.
type DataFile struct {
	Content         FileContent
	FilePath        string
	FileFormat      FileFormat
	Partition       map[string]any // partition field name -> transform result
	RecordCount     int64
	FileSizeInBytes int64
	ColumnSizes     map[int]int64
	ValueCounts     map[int]int64
	NullValueCounts map[int]int64
	NaNValueCounts  map[int]int64
	LowerBounds     map[int][]byte
	UpperBounds     map[int][]byte
	KeyMetadata     []byte
	SplitOffsets    []int64
	EqualityIDs     []int
	SortOrderID     *int
}

// ManifestFile is one row of a manifest list.
type ManifestFile struct {
	ManifestPath       string
	ManifestLength     int64
	PartitionSpecID    int
	Content            ManifestContent
	SequenceNumber     int64
	MinSequenceNumber  int64
	AddedSnapshotID    int64
	AddedFilesCount    int32
	ExistingFilesCount int32
	DeletedFilesCount  int32
	AddedRowsCount     int64
	ExistingRowsCount  int64
	DeletedRowsCount   int64
	Partitions         []FieldSummary
	KeyMetadata        []byte
}

// FieldSummary bounds one partition field across every file of a manifest.
// Bounds are encoded with the field's transform output type.
type FieldSummary struct {
	ContainsNull bool
	ContainsNaN  *bool
	LowerBound   []byte
	UpperBound   []byte
}

// TotalFiles is added + existing + deleted.
func (m *ManifestFile) TotalFiles() int64 {
	return int64(m.AddedFilesCount) + int64(m.ExistingFilesCount) + int64(m.DeletedFilesCount)
}
