package manifest

import (
	"bytes"
	"context"
	"io"

	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/spec"
	"github.com/go-iceberg/icemeta/storage"
)

// UpdateListParams are the inputs of Merger.UpdateManifestList.
type UpdateListParams struct {
	ExistingKey string
	NewKey      string
	Prepend     []spec.ManifestFile
	Tags        ListTags
}

// ListResult describes a written manifest list.
type ListResult struct {
	Location string
	Length   int64
	// Kept counts entries carried over from the existing list, Dropped
	// the vacuous ones left out. Prepended entries count in neither.
	Kept    int
	Dropped int
}

// Merger rewrites manifest lists.
type Merger struct {
	storage storage.Storage
	opts    options
}

// NewMerger returns a Merger reading and writing through st.
func NewMerger(st storage.Storage, opts ...Option) *Merger {
	return &Merger{storage: st, opts: buildOptions(opts)}
}

// UpdateManifestList streams the list at ExistingKey into a new list at
// NewKey, writing Prepend first and leaving out entries the drop filter
// rejects (IsVacuous by default). Source records are translated into the
// canonical schema on the way. Decoding runs ahead of encoding by at most
// the stream buffer; the upload is aborted on any failure.
func (m *Merger) UpdateManifestList(ctx context.Context, p UpdateListParams) (ListResult, error) {
	const op = "update manifest list"

	src, err := m.storage.Open(ctx, p.ExistingKey)
	if err != nil {
		return ListResult{}, err
	}
	defer src.Close()

	reader, err := NewListReader(src)
	if err != nil {
		return ListResult{}, err
	}

	up, err := m.storage.Create(ctx, p.NewKey)
	if err != nil {
		return ListResult{}, err
	}
	fail := func(err error) (ListResult, error) {
		if abortErr := up.Abort(); abortErr != nil {
			m.opts.logger.Warn().Err(abortErr).Str("manifest_list", p.NewKey).Msg("Failed to abort upload")
		}
		return ListResult{}, errkind.Stream(op, err)
	}

	w, err := NewListWriter(up, p.Tags, WithCompression(m.opts.compression), WithBlockSize(m.opts.blockSize))
	if err != nil {
		return fail(err)
	}
	for _, mf := range p.Prepend {
		if err := w.Write(mf); err != nil {
			return fail(err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	records := make(chan spec.ManifestFile, m.opts.streamBuffer)
	decodeErr := make(chan error, 1)
	go func() {
		defer close(records)
		for {
			mf, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				decodeErr <- err
				return
			}
			select {
			case records <- mf:
			case <-ctx.Done():
				decodeErr <- ctx.Err()
				return
			}
		}
	}()

	res := ListResult{Location: p.NewKey}
	for mf := range records {
		if m.opts.drop(mf) {
			res.Dropped++
			continue
		}
		if err := w.Write(mf); err != nil {
			cancel()
			for range records {
			}
			return fail(err)
		}
		res.Kept++
	}
	select {
	case err := <-decodeErr:
		return fail(err)
	default:
	}

	if err := w.Close(); err != nil {
		return fail(err)
	}
	if err := up.Close(); err != nil {
		return fail(err)
	}
	res.Length = w.Length()

	m.opts.logger.Debug().
		Str("source", p.ExistingKey).
		Str("manifest_list", p.NewKey).
		Int("prepended", len(p.Prepend)).
		Int("kept", res.Kept).
		Int("dropped", res.Dropped).
		Msg("Rewrote manifest list")
	return res, nil
}

// WriteManifestList writes entries as a new manifest list at key.
func (m *Merger) WriteManifestList(ctx context.Context, key string, entries []spec.ManifestFile, tags ListTags) (ListResult, error) {
	const op = "write manifest list"

	up, err := m.storage.Create(ctx, key)
	if err != nil {
		return ListResult{}, err
	}
	fail := func(err error) (ListResult, error) {
		_ = up.Abort()
		return ListResult{}, errkind.Stream(op, err)
	}

	w, err := NewListWriter(up, tags, WithCompression(m.opts.compression), WithBlockSize(m.opts.blockSize))
	if err != nil {
		return fail(err)
	}
	for _, mf := range entries {
		if err := w.Write(mf); err != nil {
			return fail(err)
		}
	}
	if err := w.Close(); err != nil {
		return fail(err)
	}
	if err := up.Close(); err != nil {
		return fail(err)
	}
	return ListResult{Location: key, Length: w.Length()}, nil
}

// ReadManifestList downloads a whole manifest list and decodes it.
func ReadManifestList(ctx context.Context, st storage.Storage, key string) ([]spec.ManifestFile, error) {
	data, err := storage.ReadAll(ctx, st, key)
	if err != nil {
		return nil, err
	}
	r, err := NewListReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return r.ReadAll()
}

// OpenManifest opens a manifest file for streaming. The caller closes the
// returned closer once done with the reader.
func OpenManifest(ctx context.Context, st storage.Storage, key string, pt *PartitionType) (*EntryReader, io.Closer, error) {
	src, err := st.Open(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	r, err := NewEntryReader(src, pt)
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	return r, src, nil
}
