package spec

import (
	"fmt"
	"strconv"
	"strings"
)

// Transform is the textual form of a partition transform, e.g. "day" or
// "bucket[16]".
type Transform string

const (
	TransformIdentity Transform = "identity"
	TransformYear     Transform = "year"
	TransformMonth    Transform = "month"
	TransformDay      Transform = "day"
	TransformHour     Transform = "hour"
	TransformVoid     Transform = "void"
)

// TransformKind is the transform without its parameter.
type TransformKind string

const (
	KindIdentity TransformKind = "identity"
	KindYear     TransformKind = "year"
	KindMonth    TransformKind = "month"
	KindDay      TransformKind = "day"
	KindHour     TransformKind = "hour"
	KindBucket   TransformKind = "bucket"
	KindTruncate TransformKind = "truncate"
	KindVoid     TransformKind = "void"
)

// BucketTransform returns "bucket[n]".
func BucketTransform(n int) Transform { return Transform(fmt.Sprintf("bucket[%d]", n)) }

// TruncateTransform returns "truncate[w]".
func TruncateTransform(w int) Transform { return Transform(fmt.Sprintf("truncate[%d]", w)) }

// Parse splits the transform into its kind and parameter. The parameter is
// zero for transforms without one.
func (t Transform) Parse() (TransformKind, int, error) {
	s := strings.TrimSpace(string(t))
	switch TransformKind(s) {
	case KindIdentity, KindYear, KindMonth, KindDay, KindHour, KindVoid:
		return TransformKind(s), 0, nil
	}

	open := strings.IndexByte(s, '[')
	if open < 0 || !strings.HasSuffix(s, "]") {
		return "", 0, fmt.Errorf("unknown transform %q", s)
	}
	kind := TransformKind(s[:open])
	if kind != KindBucket && kind != KindTruncate {
		return "", 0, fmt.Errorf("unknown transform %q", s)
	}
	n, err := strconv.Atoi(s[open+1 : len(s)-1])
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("invalid %s parameter in %q", kind, s)
	}
	return kind, n, nil
}

// PartitionField maps a source column through a transform.
type PartitionField struct {
	SourceID  int       `json:"source-id"`
	FieldID   int       `json:"field-id"`
	Name      string    `json:"name"`
	Transform Transform `json:"transform"`
}

// PartitionSpec is an ordered list of partition fields. A spec is immutable
// once committed manifests reference it.
type PartitionSpec struct {
	SpecID int              `json:"spec-id"`
	Fields []PartitionField `json:"fields"`
}

// IsUnpartitioned reports whether the spec has no fields.
func (p PartitionSpec) IsUnpartitioned() bool {
	return len(p.Fields) == 0
}

// PartitionSpecBuilder assembles a spec, assigning partition field ids from
// 1000 upward.
type PartitionSpecBuilder struct {
	spec   PartitionSpec
	nextID int
}

// NewPartitionSpecBuilder starts a spec with the given id.
func NewPartitionSpecBuilder(specID int) *PartitionSpecBuilder {
	return &PartitionSpecBuilder{spec: PartitionSpec{SpecID: specID}, nextID: 1000}
}

// Add appends a partition field.
func (b *PartitionSpecBuilder) Add(sourceID int, name string, t Transform) *PartitionSpecBuilder {
	b.spec.Fields = append(b.spec.Fields, PartitionField{
		SourceID:  sourceID,
		FieldID:   b.nextID,
		Name:      name,
		Transform: t,
	})
	b.nextID++
	return b
}

// Build returns the assembled spec.
func (b *PartitionSpecBuilder) Build() PartitionSpec {
	out := b.spec
	out.Fields = append([]PartitionField(nil), b.spec.Fields...)
	return out
}
