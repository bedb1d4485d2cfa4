package vectordb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"aimw.dev/aimw/internal/aimwerr"
)

// QdrantIndex implements Index against a real Qdrant server via the
// official gRPC client.
type QdrantIndex struct {
	client *qdrant.Client
}

// QdrantConfig dials a Qdrant instance.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// NewQdrantIndex connects to a Qdrant server.
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, aimwerr.Wrap(aimwerr.StoreError, err, "connect to qdrant")
	}
	return &QdrantIndex{client: client}, nil
}

func toQdrantDistance(d DistanceMetric) qdrant.Distance {
	switch d {
	case DistanceDot:
		return qdrant.Distance_Dot
	case DistanceEuclidean:
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

func (q *QdrantIndex) CreateCollection(ctx context.Context, cfg CollectionConfig) error {
	err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: cfg.Name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(cfg.VectorSize),
			Distance: toQdrantDistance(cfg.Distance),
		}),
	})
	if err != nil {
		return aimwerr.Wrap(aimwerr.StoreError, err, "create collection "+cfg.Name)
	}
	return nil
}

func (q *QdrantIndex) CollectionExists(ctx context.Context, name string) (bool, error) {
	ok, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return false, aimwerr.Wrap(aimwerr.StoreError, err, "check collection "+name)
	}
	return ok, nil
}

func (q *QdrantIndex) DeleteCollection(ctx context.Context, name string) error {
	if err := q.client.DeleteCollection(ctx, name); err != nil {
		return aimwerr.Wrap(aimwerr.StoreError, err, "delete collection "+name)
	}
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	pbPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		id := p.ID
		if id == "" {
			id = uuid.NewString()
		}
		pbPoints = append(pbPoints, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         pbPoints,
	})
	if err != nil {
		return aimwerr.Wrap(aimwerr.StoreError, err, "upsert points")
	}
	return nil
}

func (q *QdrantIndex) Delete(ctx context.Context, collection string, ids []string) error {
	pbIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pbIDs[i] = qdrant.NewIDUUID(id)
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelectorIDS(pbIDs),
	})
	if err != nil {
		return aimwerr.Wrap(aimwerr.StoreError, err, "delete points")
	}
	return nil
}

func (q *QdrantIndex) Get(ctx context.Context, collection string, ids []string) ([]Point, error) {
	pbIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pbIDs[i] = qdrant.NewIDUUID(id)
	}

	withVectors := true
	resp, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            pbIDs,
		WithVectors:    qdrant.NewWithVectorsEnable(withVectors),
		WithPayload:    qdrant.NewWithPayloadEnable(true),
	})
	if err != nil {
		return nil, aimwerr.Wrap(aimwerr.StoreError, err, "get points")
	}

	out := make([]Point, 0, len(resp))
	for _, rp := range resp {
		out = append(out, Point{
			ID:      fmt.Sprintf("%v", rp.GetId()),
			Vector:  rp.GetVectors().GetVector().GetData(),
			Payload: payloadToMap(rp.GetPayload()),
		})
	}
	return out, nil
}

func (q *QdrantIndex) Search(ctx context.Context, collection string, query []float32, opts SearchOptions) ([]ScoredPoint, error) {
	limit := uint64(opts.Limit)
	if limit == 0 {
		limit = 10
	}

	resp, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayloadEnable(opts.WithPayload),
		WithVectors:    qdrant.NewWithVectorsEnable(opts.WithVectors),
		ScoreThreshold: scoreThresholdPtr(opts.ScoreThreshold),
	})
	if err != nil {
		return nil, aimwerr.Wrap(aimwerr.StoreError, err, "search")
	}

	out := make([]ScoredPoint, 0, len(resp))
	for _, sp := range resp {
		point := ScoredPoint{
			ID:    fmt.Sprintf("%v", sp.GetId()),
			Score: float64(sp.GetScore()),
		}
		if opts.WithPayload {
			point.Payload = payloadToMap(sp.GetPayload())
		}
		if opts.WithVectors {
			point.Vector = sp.GetVectors().GetVector().GetData()
		}
		out = append(out, point)
	}
	return out, nil
}

func (q *QdrantIndex) Count(ctx context.Context, collection string) (int64, error) {
	exact := true
	resp, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, aimwerr.Wrap(aimwerr.StoreError, err, "count points")
	}
	return int64(resp), nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func scoreThresholdPtr(v float64) *float32 {
	if v == 0 {
		return nil
	}
	f := float32(v)
	return &f
}

// payloadToMap converts Qdrant's protobuf Value map into plain Go values,
// the inverse of qdrant.NewValueMap used when upserting.
func payloadToMap(payload map[string]*qdrant.Value) map[string]interface{} {
	if payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = valueToInterface(v)
	}
	return out
}

func valueToInterface(v *qdrant.Value) interface{} {
	if v == nil {
		return nil
	}
	switch {
	case v.GetStringValue() != "":
		return v.GetStringValue()
	case v.GetBoolValue():
		return v.GetBoolValue()
	case v.GetIntegerValue() != 0:
		return v.GetIntegerValue()
	case v.GetDoubleValue() != 0:
		return v.GetDoubleValue()
	case v.GetListValue() != nil:
		items := v.GetListValue().GetValues()
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = valueToInterface(item)
		}
		return out
	case v.GetStructValue() != nil:
		return payloadToMap(v.GetStructValue().GetFields())
	default:
		return nil
	}
}
