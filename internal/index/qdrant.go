package index

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	"github.com/maya/rewear/internal/apperr"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// qdrantIDNamespace derives stable point UUIDs from entity IDs, so re-indexing
// the same entity always lands on the same point.
var qdrantIDNamespace = uuid.MustParse("1b671a64-40d5-491e-99b0-da01ff1f3341")

// QdrantConfig holds connection settings for a Qdrant-backed index.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API key).
type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	APIKey     string // enables TLS automatically
	UseTLS     bool   // explicitly enable TLS without an API key
	Dimension  int
}

// apiKeyInterceptor creates a unary interceptor that adds the API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Qdrant is an Index backed by a Qdrant collection with an HNSW graph and
// cosine distance. Writes go straight to the server; Qdrant does its own
// write buffering, so Flush is a no-op here.
type Qdrant struct {
	conn          *grpc.ClientConn
	pointsClient  pb.PointsClient
	collectClient pb.CollectionsClient
	collection    string
	dimension     int
}

// NewQdrant connects to Qdrant and returns an index over one collection.
func NewQdrant(cfg *QdrantConfig) (*Qdrant, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = 512
	}

	var opts []grpc.DialOption
	useTLS := cfg.UseTLS || cfg.APIKey != ""
	if useTLS {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &Qdrant{
		conn:          conn,
		pointsClient:  pb.NewPointsClient(conn),
		collectClient: pb.NewCollectionsClient(conn),
		collection:    cfg.Collection,
		dimension:     dimension,
	}, nil
}

// EnsureCollection creates the collection if it doesn't exist and verifies the
// vector size when it does.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	info, err := q.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: q.collection,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok {
			if size != uint64(q.dimension) {
				return fmt.Errorf("collection %s has vector size %d, expected %d", q.collection, size, q.dimension)
			}
		}
		return nil
	}

	_, err = q.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(q.dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	if info == nil {
		return 0, false
	}
	config := info.GetConfig()
	if config == nil {
		return 0, false
	}
	params := config.GetParams()
	if params == nil {
		return 0, false
	}
	vectors := params.GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if single := vectors.GetParams(); single != nil {
		if size := single.GetSize(); size > 0 {
			return size, true
		}
	}
	if paramsMap := vectors.GetParamsMap(); paramsMap != nil {
		for _, vectorParams := range paramsMap.GetMap() {
			if vectorParams == nil {
				continue
			}
			if size := vectorParams.GetSize(); size > 0 {
				return size, true
			}
		}
	}
	return 0, false
}

// pointID maps an entity ID onto a stable point UUID.
func pointID(entityID string) string {
	if uid, err := uuid.Parse(entityID); err == nil {
		return uid.String()
	}
	return uuid.NewSHA1(qdrantIDNamespace, []byte(entityID)).String()
}

// Upsert inserts or replaces the vector for an entity.
func (q *Qdrant) Upsert(ctx context.Context, id string, vector []float32) error {
	if len(vector) != q.dimension {
		return apperr.Dimensionf(q.dimension, len(vector))
	}

	points := []*pb.PointStruct{
		{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(id)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vector},
				},
			},
			Payload: map[string]*pb.Value{
				"entity_id": {Kind: &pb.Value_StringValue{StringValue: id}},
			},
		},
	}

	_, err := q.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	if err != nil {
		return apperr.IndexUnavailable(fmt.Errorf("upsert point: %w", err))
	}
	return nil
}

// Query returns the topK nearest entities by cosine similarity.
func (q *Qdrant) Query(ctx context.Context, vector []float32, topK int) ([]Candidate, error) {
	if topK <= 0 {
		return nil, nil
	}

	resp, err := q.pointsClient.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, apperr.IndexUnavailable(fmt.Errorf("search: %w", err))
	}

	results := make([]Candidate, 0, len(resp.Result))
	for _, scored := range resp.Result {
		id := scored.Id.GetUuid()
		if payload := scored.GetPayload(); payload != nil {
			if v, ok := payload["entity_id"]; ok && v.GetStringValue() != "" {
				id = v.GetStringValue()
			}
		}
		results = append(results, Candidate{ID: id, Score: float64(scored.Score)})
	}
	return results, nil
}

// Delete removes the point for an entity. Deleting an unknown entity is not
// an error.
func (q *Qdrant) Delete(ctx context.Context, id string) error {
	_, err := q.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{
						{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(id)}},
					},
				},
			},
		},
	})
	if err != nil {
		return apperr.IndexUnavailable(fmt.Errorf("delete point: %w", err))
	}
	return nil
}

// Flush is a no-op: Qdrant commits writes server-side.
func (q *Qdrant) Flush(_ context.Context) error {
	return nil
}

// Close closes the gRPC connection.
func (q *Qdrant) Close() error {
	return q.conn.Close()
}
