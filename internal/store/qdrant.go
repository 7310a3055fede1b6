package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys reserved by QdrantStore. They never appear in returned metadata.
const (
	payloadRecordID = "_record_id"
	payloadDocument = "_document"
	payloadSeq      = "_seq"
)

const scrollPageSize = 256

// pointNamespace derives stable point UUIDs from record ids.
var pointNamespace = uuid.MustParse("5b0f7c8e-2f4a-4d3c-9a61-8c2d1e7b4f10")

// QdrantOptions configures a QdrantStore.
type QdrantOptions struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	VectorSize int
}

// QdrantStore implements Store on a Qdrant server over gRPC.
type QdrantStore struct {
	client     *qdrant.Client
	vectorSize uint64
	seq        atomic.Int64
}

// NewQdrantStore connects to Qdrant. VectorSize must match the embedder.
func NewQdrantStore(opts QdrantOptions) (*QdrantStore, error) {
	if opts.VectorSize <= 0 {
		return nil, fmt.Errorf("qdrant store requires a positive vector size, got %d", opts.VectorSize)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	log.Debug("Connected to Qdrant", "host", opts.Host, "port", opts.Port)

	s := &QdrantStore{client: client, vectorSize: uint64(opts.VectorSize)}
	s.seq.Store(time.Now().UnixNano())
	return s, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// GetOrCreate returns the named collection, creating it with cosine
// distance when absent.
func (s *QdrantStore) GetOrCreate(ctx context.Context, name string) (*Collection, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
			Metadata: qdrant.NewValueMap(map[string]any{"hnsw:space": MetricCosine}),
		})
		if err != nil {
			// Another writer may have created it first.
			if again, checkErr := s.client.CollectionExists(ctx, name); checkErr != nil || !again {
				return nil, fmt.Errorf("failed to create collection: %w", err)
			}
		}
	}
	return newQdrantCollection(name), nil
}

// Get returns the named collection or ErrCollectionNotFound.
func (s *QdrantStore) Get(ctx context.Context, name string) (*Collection, error) {
	if err := s.ensureExists(ctx, name); err != nil {
		return nil, err
	}
	return newQdrantCollection(name), nil
}

// List returns collections whose name starts with prefix, ordered by name.
func (s *QdrantStore) List(ctx context.Context, prefix string) ([]Collection, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	sort.Strings(names)

	var out []Collection
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			out = append(out, *newQdrantCollection(n))
		}
	}
	return out, nil
}

// Drop deletes a collection. Unknown collections are ignored.
func (s *QdrantStore) Drop(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// DropIfEmpty never drops. Qdrant cannot count and delete a collection in
// one operation, so an empty collection is kept rather than risk a
// concurrent insert.
func (s *QdrantStore) DropIfEmpty(ctx context.Context, name string) (bool, error) {
	return false, nil
}

// Insert writes records as points and waits for the write to apply. Ids
// already in the collection are rejected before anything is written;
// two inserts racing on the same id can still both pass the check.
func (s *QdrantStore) Insert(ctx context.Context, name string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if id, ok := duplicateID(records); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRecord, id)
	}
	if err := s.ensureExists(ctx, name); err != nil {
		return err
	}

	ids := make([]*qdrant.PointId, len(records))
	for i, r := range records {
		ids[i] = pointID(r.ID)
	}
	existing, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: name,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayloadInclude(payloadRecordID),
	})
	if err != nil {
		return fmt.Errorf("failed to check existing points: %w", err)
	}
	if len(existing) > 0 {
		id, _, _, _ := splitPayload(existing[0].GetPayload())
		return fmt.Errorf("%w: %s", ErrDuplicateRecord, id)
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		payload := make(map[string]any, len(r.Metadata)+3)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload[payloadRecordID] = r.ID
		payload[payloadDocument] = r.Text
		payload[payloadSeq] = s.seq.Add(1)

		values, err := qdrant.TryValueMap(payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload for %s: %w", r.ID, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(r.ID),
			Vectors: qdrant.NewVectorsDense(r.Vector),
			Payload: values,
		})
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Query returns the k closest points; distance is 1 - cosine score.
func (s *QdrantStore) Query(ctx context.Context, name string, vector []float32, k int, filter *Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := s.ensureExists(ctx, name); err != nil {
		return nil, err
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQueryDense(vector),
		Filter:         qdrantFilter(filter),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		id, text, meta, _ := splitPayload(p.GetPayload())
		hits = append(hits, Hit{
			ID:       id,
			Text:     text,
			Metadata: meta,
			Distance: 1 - float64(p.GetScore()),
		})
	}
	return hits, nil
}

// Fetch scrolls through matching points and returns them in insertion order.
func (s *QdrantStore) Fetch(ctx context.Context, name string, filter *Filter) ([]Record, error) {
	if err := s.ensureExists(ctx, name); err != nil {
		return nil, err
	}

	type seqRecord struct {
		seq int64
		rec Record
	}
	var all []seqRecord
	var offset *qdrant.PointId
	for {
		points, next, err := s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: name,
			Filter:         qdrantFilter(filter),
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll collection: %w", err)
		}
		for _, p := range points {
			id, text, meta, seq := splitPayload(p.GetPayload())
			all = append(all, seqRecord{seq: seq, rec: Record{
				ID:       id,
				Vector:   p.GetVectors().GetVector().GetDense().GetData(),
				Text:     text,
				Metadata: meta,
			}})
		}
		if next == nil || len(points) == 0 {
			break
		}
		offset = next
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	out := make([]Record, len(all))
	for i, r := range all {
		out[i] = r.rec
	}
	return out, nil
}

// Count returns the exact number of matching points.
func (s *QdrantStore) Count(ctx context.Context, name string, filter *Filter) (int, error) {
	if err := s.ensureExists(ctx, name); err != nil {
		return 0, err
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Filter:         qdrantFilter(filter),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(n), nil
}

// DeleteByFilter resolves the matching ids, then removes exactly those
// points in a single request.
func (s *QdrantStore) DeleteByFilter(ctx context.Context, name string, filter *Filter) ([]string, error) {
	records, err := s.Fetch(ctx, name, filter)
	if errors.Is(err, ErrCollectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	ids := make([]string, len(records))
	pointIDs := make([]*qdrant.PointId, len(records))
	for i, r := range records {
		ids[i] = r.ID
		pointIDs[i] = pointID(r.ID)
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorIDs(pointIDs),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete points: %w", err)
	}
	return ids, nil
}

func (s *QdrantStore) ensureExists(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return nil
}

func newQdrantCollection(name string) *Collection {
	return &Collection{
		Name:     name,
		Metric:   MetricCosine,
		Metadata: map[string]string{"hnsw:space": MetricCosine},
	}
}

func pointID(recordID string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewSHA1(pointNamespace, []byte(recordID)).String())
}

// qdrantFilter translates a Filter. Each condition matches either the text
// form or, when every value is numeric, the integer form of the field.
func qdrantFilter(f *Filter) *qdrant.Filter {
	if f.IsEmpty() {
		return nil
	}
	out := &qdrant.Filter{}
	for _, c := range f.Must {
		out.Must = append(out.Must, qdrantCondition(c))
	}
	for _, c := range f.MustNot {
		out.MustNot = append(out.MustNot, qdrantCondition(c))
	}
	return out
}

func qdrantCondition(c Condition) *qdrant.Condition {
	should := []*qdrant.Condition{qdrant.NewMatchKeywords(c.Field, c.Values...)}

	ints := make([]int64, 0, len(c.Values))
	for _, v := range c.Values {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			ints = append(ints, n)
		}
	}
	if len(ints) > 0 {
		should = append(should, qdrant.NewMatchInts(c.Field, ints...))
	}
	return qdrant.NewFilterAsCondition(&qdrant.Filter{Should: should})
}

func splitPayload(payload map[string]*qdrant.Value) (id, text string, meta Metadata, seq int64) {
	meta = make(Metadata, len(payload))
	for k, v := range payload {
		switch k {
		case payloadRecordID:
			id = v.GetStringValue()
		case payloadDocument:
			text = v.GetStringValue()
		case payloadSeq:
			seq = v.GetIntegerValue()
		default:
			meta[k] = fromQdrantValue(v)
		}
	}
	return id, text, meta, seq
}

func fromQdrantValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_ListValue:
		items := make([]any, 0, len(k.ListValue.GetValues()))
		for _, item := range k.ListValue.GetValues() {
			items = append(items, fromQdrantValue(item))
		}
		return items
	case *qdrant.Value_StructValue:
		m := make(map[string]any, len(k.StructValue.GetFields()))
		for name, field := range k.StructValue.GetFields() {
			m[name] = fromQdrantValue(field)
		}
		return m
	default:
		return nil
	}
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*QdrantStore)(nil)
)
