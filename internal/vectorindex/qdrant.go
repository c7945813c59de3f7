package vectorindex

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// defaultOpTimeout bounds a single Qdrant call; a hung broker must not stall
// a request past its own deadline.
const defaultOpTimeout = 10 * time.Second

// QdrantIndex implements Index against a Qdrant collection over gRPC.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	timeout     time.Duration
}

func NewQdrantIndex(addr, collection string) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", addr, err)
	}
	return &QdrantIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		timeout:     defaultOpTimeout,
	}, nil
}

// NewQdrantIndexWithClients wires pre-built clients, used by tests.
func NewQdrantIndexWithClients(points pb.PointsClient, collections pb.CollectionsClient, collection string) *QdrantIndex {
	return &QdrantIndex{points: points, collections: collections, collection: collection, timeout: defaultOpTimeout}
}

func (q *QdrantIndex) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, q.timeout)
}

func (q *QdrantIndex) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, dims int) error {
	ctx, cancel := q.opCtx(ctx)
	defer cancel()

	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return &UnavailableError{Op: "list collections", Err: err}
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return &UnavailableError{Op: "create collection", Err: err}
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, tenantID uuid.UUID, vector []float32, topK int, minScore float64) ([]ScoredPoint, error) {
	ctx, cancel := q.opCtx(ctx)
	defer cancel()

	threshold := float32(minScore)
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		ScoreThreshold: &threshold,
		Filter: &pb.Filter{
			Must: []*pb.Condition{fieldMatch("tenant_id", tenantID.String())},
		},
		WithPayload: &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors: &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, &UnavailableError{Op: "search", Err: err}
	}

	results := make([]ScoredPoint, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		p, err := pointFromPayload(r.GetId(), r.GetPayload(), r.GetVectors().GetVector().GetData())
		if err != nil {
			continue
		}
		results = append(results, ScoredPoint{Point: p, Score: float64(r.GetScore())})
	}
	return results, nil
}

func (q *QdrantIndex) Scroll(ctx context.Context, tenantID uuid.UUID, cursor string, pageSize int) ([]Point, string, error) {
	ctx, cancel := q.opCtx(ctx)
	defer cancel()

	limit := uint32(pageSize)
	req := &pb.ScrollPoints{
		CollectionName: q.collection,
		Limit:          &limit,
		Filter: &pb.Filter{
			Must: []*pb.Condition{fieldMatch("tenant_id", tenantID.String())},
		},
		WithPayload: &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors: &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	}
	if cursor != "" {
		req.Offset = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: cursor}}
	}

	resp, err := q.points.Scroll(ctx, req)
	if err != nil {
		return nil, "", &UnavailableError{Op: "scroll", Err: err}
	}

	points := make([]Point, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		p, err := pointFromPayload(r.GetId(), r.GetPayload(), r.GetVectors().GetVector().GetData())
		if err != nil {
			continue
		}
		points = append(points, p)
	}

	next := ""
	if off := resp.GetNextPageOffset(); off != nil {
		next = off.GetUuid()
	}
	return points, next, nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, p Point) error {
	ctx, cancel := q.opCtx(ctx)
	defer cancel()

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{
			{
				Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID.String()}},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Embedding}},
				},
				Payload: payloadFromPoint(p),
			},
		},
	})
	if err != nil {
		return &UnavailableError{Op: "upsert", Err: err}
	}
	return nil
}

func (q *QdrantIndex) Delete(ctx context.Context, tenantID, pointID uuid.UUID) error {
	ctx, cancel := q.opCtx(ctx)
	defer cancel()

	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						hasID(pointID),
						fieldMatch("tenant_id", tenantID.String()),
					},
				},
			},
		},
	})
	if err != nil {
		return &UnavailableError{Op: "delete", Err: err}
	}
	return nil
}

func (q *QdrantIndex) Count(ctx context.Context, tenantID uuid.UUID) (int, error) {
	ctx, cancel := q.opCtx(ctx)
	defer cancel()

	exact := true
	resp, err := q.points.Count(ctx, &pb.CountPoints{
		CollectionName: q.collection,
		Exact:          &exact,
		Filter: &pb.Filter{
			Must: []*pb.Condition{fieldMatch("tenant_id", tenantID.String())},
		},
	})
	if err != nil {
		return 0, &UnavailableError{Op: "count", Err: err}
	}
	return int(resp.GetResult().GetCount()), nil
}

func payloadFromPoint(p Point) map[string]*pb.Value {
	return map[string]*pb.Value{
		"tenant_id":  {Kind: &pb.Value_StringValue{StringValue: p.TenantID.String()}},
		"kind":       {Kind: &pb.Value_StringValue{StringValue: p.Kind}},
		"category":   {Kind: &pb.Value_StringValue{StringValue: p.Category}},
		"tags":       {Kind: &pb.Value_StringValue{StringValue: strings.Join(p.Tags, ",")}},
		"item_id":    {Kind: &pb.Value_StringValue{StringValue: p.ItemID}},
		"content":    {Kind: &pb.Value_StringValue{StringValue: p.Content}},
		"updated_at": {Kind: &pb.Value_IntegerValue{IntegerValue: p.UpdatedAt.UnixNano()}},
	}
}

func pointFromPayload(id *pb.PointId, payload map[string]*pb.Value, vector []float32) (Point, error) {
	pointID, err := uuid.Parse(id.GetUuid())
	if err != nil {
		return Point{}, fmt.Errorf("parse point id: %w", err)
	}
	tenantID, err := uuid.Parse(payload["tenant_id"].GetStringValue())
	if err != nil {
		return Point{}, fmt.Errorf("parse tenant id: %w", err)
	}

	p := Point{
		ID:        pointID,
		TenantID:  tenantID,
		Kind:      payload["kind"].GetStringValue(),
		Category:  payload["category"].GetStringValue(),
		ItemID:    payload["item_id"].GetStringValue(),
		Content:   payload["content"].GetStringValue(),
		Embedding: vector,
		UpdatedAt: time.Unix(0, payload["updated_at"].GetIntegerValue()),
	}
	if tags := payload["tags"].GetStringValue(); tags != "" {
		p.Tags = strings.Split(tags, ",")
	}
	return p, nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func hasID(id uuid.UUID) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_HasId{
			HasId: &pb.HasIdCondition{
				HasId: []*pb.PointId{
					{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}},
				},
			},
		},
	}
}
