package manifest

import (
	"io"
	"strconv"
	"sync"

	"github.com/go-faster/errors"
	"github.com/linkedin/goavro/v2"

	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/internal/avroschema"
	"github.com/go-iceberg/icemeta/spec"
)

var canonicalList = sync.OnceValues(func() (*avroschema.Schema, error) {
	return avroschema.Parse(ListSchema)
})

// ocfReader decodes records with the file's own schema and translates
// them into dst.
type ocfReader struct {
	ocf *goavro.OCFReader
	src *avroschema.Schema
	dst *avroschema.Schema
}

func openOCF(r io.Reader) (*goavro.OCFReader, *avroschema.Schema, error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open OCF reader")
	}
	src, err := avroschema.Parse(ocf.Codec().Schema())
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse embedded schema")
	}
	return ocf, src, nil
}

func (r *ocfReader) next() (any, error) {
	if !r.ocf.Scan() {
		if err := r.ocf.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	rec, err := r.ocf.Read()
	if err != nil {
		return nil, err
	}
	return avroschema.Translate(r.src, r.dst, rec)
}

// ListReader streams the entries of a manifest list.
type ListReader struct {
	r    ocfReader
	meta map[string][]byte
}

// NewListReader reads the container header from r.
func NewListReader(r io.Reader) (*ListReader, error) {
	const op = "read manifest list"
	dst, err := canonicalList()
	if err != nil {
		return nil, err
	}
	ocf, src, err := openOCF(r)
	if err != nil {
		return nil, errkind.Stream(op, err)
	}
	return &ListReader{
		r:    ocfReader{ocf: ocf, src: src, dst: dst},
		meta: ocf.MetaData(),
	}, nil
}

// Metadata returns the file's key/value metadata.
func (r *ListReader) Metadata() map[string][]byte { return r.meta }

// Read returns the next entry, or io.EOF after the last one.
func (r *ListReader) Read() (spec.ManifestFile, error) {
	rec, err := r.r.next()
	if err == io.EOF {
		return spec.ManifestFile{}, io.EOF
	}
	if err != nil {
		return spec.ManifestFile{}, errkind.Stream("read manifest list", err)
	}
	mf, err := listFromNative(rec)
	if err != nil {
		return spec.ManifestFile{}, errkind.Stream("read manifest list", err)
	}
	return mf, nil
}

// ReadAll drains the reader.
func (r *ListReader) ReadAll() ([]spec.ManifestFile, error) {
	var out []spec.ManifestFile
	for {
		mf, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, mf)
	}
}

// EntryReader streams the entries of a manifest file.
type EntryReader struct {
	r    ocfReader
	pt   *PartitionType
	meta map[string][]byte
}

// NewEntryReader reads the container header from r. Partition tuples are
// translated into pt; with a nil pt the file's own partition record is
// used and tuples are keyed by its Avro field names.
func NewEntryReader(r io.Reader, pt *PartitionType) (*EntryReader, error) {
	const op = "read manifest"
	ocf, src, err := openOCF(r)
	if err != nil {
		return nil, errkind.Stream(op, err)
	}

	if pt == nil {
		rec, err := embeddedPartition(src)
		if err != nil {
			return nil, errkind.Stream(op, err)
		}
		pt = partitionTypeFromAvro(rec)
	}
	dst, err := avroschema.Parse(EntrySchema(pt))
	if err != nil {
		return nil, errkind.Stream(op, err)
	}

	return &EntryReader{
		r:    ocfReader{ocf: ocf, src: src, dst: dst},
		pt:   pt,
		meta: ocf.MetaData(),
	}, nil
}

func embeddedPartition(src *avroschema.Schema) (*avroschema.Schema, error) {
	df := src.FieldByID(2)
	if df == nil {
		df = src.FieldByName("data_file")
	}
	if df == nil || df.Type.NonNull().Kind != avroschema.Record {
		return nil, errors.New("manifest schema has no data_file record")
	}
	part := df.Type.NonNull().FieldByID(102)
	if part == nil {
		part = df.Type.NonNull().FieldByName("partition")
	}
	if part == nil || part.Type.NonNull().Kind != avroschema.Record {
		return nil, errors.New("manifest schema has no partition record")
	}
	return part.Type.NonNull(), nil
}

// Metadata returns the file's key/value metadata.
func (r *EntryReader) Metadata() map[string][]byte { return r.meta }

// PartitionSpecID parses the partition-spec-id metadata; ok is false when
// the writer did not record it.
func (r *EntryReader) PartitionSpecID() (int, bool) {
	id, err := strconv.Atoi(string(r.meta["partition-spec-id"]))
	return id, err == nil
}

// PartitionType is the partition record entries are translated into.
func (r *EntryReader) PartitionType() *PartitionType { return r.pt }

// Read returns the next entry, or io.EOF after the last one.
func (r *EntryReader) Read() (spec.ManifestEntry, error) {
	rec, err := r.r.next()
	if err == io.EOF {
		return spec.ManifestEntry{}, io.EOF
	}
	if err != nil {
		return spec.ManifestEntry{}, errkind.Stream("read manifest", err)
	}
	e, err := entryFromNative(rec, r.pt)
	if err != nil {
		return spec.ManifestEntry{}, errkind.Stream("read manifest", err)
	}
	return e, nil
}

// ReadAll drains the reader.
func (r *EntryReader) ReadAll() ([]spec.ManifestEntry, error) {
	var out []spec.ManifestEntry
	for {
		e, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}
