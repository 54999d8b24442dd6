package manifest

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/linkedin/goavro/v2"

	"github.com/go-iceberg/icemeta/spec"
)

const formatVersion = "2"

// countingWriter counts the bytes that reach the underlying writer.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ocfWriter buffers records and appends them to the container one block
// at a time.
type ocfWriter struct {
	ocf       *goavro.OCFWriter
	cw        *countingWriter
	pending   []any
	blockSize int
	count     int
}

func newOCFWriter(w io.Writer, schema string, meta map[string][]byte, o options) (*ocfWriter, error) {
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, errors.Wrap(err, "create avro codec")
	}

	cw := &countingWriter{w: w}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               cw,
		Codec:           codec,
		CompressionName: o.compression,
		MetaData:        meta,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create OCF writer")
	}

	return &ocfWriter{
		ocf:       ocf,
		cw:        cw,
		pending:   make([]any, 0, o.blockSize),
		blockSize: o.blockSize,
	}, nil
}

func (w *ocfWriter) append(rec any) error {
	w.pending = append(w.pending, rec)
	w.count++
	if len(w.pending) >= w.blockSize {
		return w.flush()
	}
	return nil
}

func (w *ocfWriter) flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	if err := w.ocf.Append(w.pending); err != nil {
		return errors.Wrap(err, "append OCF block")
	}
	w.pending = w.pending[:0]
	return nil
}

// ListTags are the key/value metadata of a manifest list file.
type ListTags struct {
	SnapshotID       int64
	ParentSnapshotID *int64
	SequenceNumber   int64
}

func (t ListTags) metadata() map[string][]byte {
	parent := "null"
	if t.ParentSnapshotID != nil {
		parent = strconv.FormatInt(*t.ParentSnapshotID, 10)
	}
	return map[string][]byte{
		"snapshot-id":        []byte(strconv.FormatInt(t.SnapshotID, 10)),
		"parent-snapshot-id": []byte(parent),
		"sequence-number":    []byte(strconv.FormatInt(t.SequenceNumber, 10)),
		"format-version":     []byte(formatVersion),
	}
}

// ListWriter writes a manifest list in the canonical schema.
type ListWriter struct {
	w *ocfWriter
}

// NewListWriter writes the container header to w immediately.
func NewListWriter(w io.Writer, tags ListTags, opts ...Option) (*ListWriter, error) {
	ow, err := newOCFWriter(w, ListSchema, tags.metadata(), buildOptions(opts))
	if err != nil {
		return nil, err
	}
	return &ListWriter{w: ow}, nil
}

// Write appends one manifest list entry.
func (w *ListWriter) Write(mf spec.ManifestFile) error {
	return w.w.append(listToNative(mf))
}

// Close flushes buffered entries. It does not close the underlying writer.
func (w *ListWriter) Close() error {
	return w.w.flush()
}

// Count is the number of entries written.
func (w *ListWriter) Count() int { return w.w.count }

// Length is the number of bytes flushed so far.
func (w *ListWriter) Length() int64 { return w.w.cw.n }

// EntryTags describe the manifest being written. They end up in the
// file's key/value metadata.
type EntryTags struct {
	Schema  *spec.Schema
	Spec    spec.PartitionSpec
	Content spec.ManifestContent
}

func (t EntryTags) metadata() (map[string][]byte, error) {
	schemaJSON, err := json.Marshal(t.Schema)
	if err != nil {
		return nil, errors.Wrap(err, "marshal schema")
	}
	fields := t.Spec.Fields
	if fields == nil {
		fields = []spec.PartitionField{}
	}
	specJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Wrap(err, "marshal partition spec")
	}
	return map[string][]byte{
		"schema":            schemaJSON,
		"schema-id":         []byte(strconv.Itoa(t.Schema.SchemaID)),
		"partition-spec":    specJSON,
		"partition-spec-id": []byte(strconv.Itoa(t.Spec.SpecID)),
		"format-version":    []byte(formatVersion),
		"content":           []byte(t.Content.String()),
	}, nil
}

// EntryWriter writes a manifest file in the canonical entry schema with
// the partition record of tags.Spec.
type EntryWriter struct {
	w  *ocfWriter
	pt *PartitionType
}

// NewEntryWriter writes the container header to w immediately.
func NewEntryWriter(w io.Writer, tags EntryTags, opts ...Option) (*EntryWriter, error) {
	pt, err := NewPartitionType(tags.Spec, tags.Schema)
	if err != nil {
		return nil, err
	}
	meta, err := tags.metadata()
	if err != nil {
		return nil, err
	}
	ow, err := newOCFWriter(w, EntrySchema(pt), meta, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	return &EntryWriter{w: ow, pt: pt}, nil
}

// PartitionType is the partition record the writer encodes.
func (w *EntryWriter) PartitionType() *PartitionType { return w.pt }

// Write appends one manifest entry.
func (w *EntryWriter) Write(e spec.ManifestEntry) error {
	rec, err := entryToNative(e, w.pt)
	if err != nil {
		return err
	}
	return w.w.append(rec)
}

// Close flushes buffered entries. It does not close the underlying writer.
func (w *EntryWriter) Close() error {
	return w.w.flush()
}

// Count is the number of entries written.
func (w *EntryWriter) Count() int { return w.w.count }

// Length is the number of bytes flushed so far.
func (w *EntryWriter) Length() int64 { return w.w.cw.n }
