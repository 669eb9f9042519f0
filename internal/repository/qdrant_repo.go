package repository

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const defaultVectorDimension = 1024

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS          bool   // Explicitly enable TLS without API Key
	VectorDimension int
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository stores article chunk vectors in Qdrant
type QdrantRepository struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
}

// NewQdrantRepository creates a new QdrantRepository
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key)
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	vectorDimension := cfg.VectorDimension
	if vectorDimension <= 0 {
		vectorDimension = defaultVectorDimension
	}

	var opts []grpc.DialOption

	// An API key implies Qdrant Cloud, which requires TLS.
	useTLS := cfg.UseTLS || cfg.APIKey != ""

	if useTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
		creds := credentials.NewTLS(tlsConfig)
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

	return &QdrantRepository{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: vectorDimension,
	}, nil
}

// Close closes the gRPC connection
func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

// EnsureCollection creates the chunk collection and its article_id payload
// index when missing, and verifies the vector size of an existing collection.
func (r *QdrantRepository) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size > 0 && size != uint64(r.vectorDimension) {
			return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
		}
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	fieldType := pb.FieldType_FieldTypeKeyword
	wait := true
	for _, field := range []string{"article_id", "publisher_id"} {
		_, err = r.pointsClient.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: r.collectionName,
			FieldName:      field,
			FieldType:      &fieldType,
			Wait:           &wait,
		})
		if err != nil {
			return fmt.Errorf("failed to create %s index: %w", field, err)
		}
	}
	return nil
}

// ChunkPoint is one embedded article chunk.
type ChunkPoint struct {
	ArticleID   string
	ChunkIndex  int
	Vector      []float32
	Text        string
	URL         string
	Title       string
	PublisherID string
	PublishedAt *time.Time
}

// ChunkPointID derives a stable point id so re-indexing an article overwrites
// its previous chunks instead of duplicating them.
func ChunkPointID(articleID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s:%d", articleID, chunkIndex))).String()
}

// UpsertChunks inserts or replaces the given chunk points in one request.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - chunks: embedded chunks; every vector must match the collection dimension.
// Returns:
//   - error: non-nil if validation or the upsert fails.
func (r *QdrantRepository) UpsertChunks(ctx context.Context, chunks []ChunkPoint) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Vector) != r.vectorDimension {
			return fmt.Errorf("chunk %d of article %s has dimension %d, expected %d", c.ChunkIndex, c.ArticleID, len(c.Vector), r.vectorDimension)
		}
		payload := map[string]*pb.Value{
			"article_id":   stringValue(c.ArticleID),
			"chunk_index":  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.ChunkIndex)}},
			"text":         stringValue(c.Text),
			"url":          stringValue(c.URL),
			"title":        stringValue(c.Title),
			"publisher_id": stringValue(c.PublisherID),
		}
		if c.PublishedAt != nil {
			payload["published_at"] = stringValue(c.PublishedAt.UTC().Format(time.RFC3339))
		}
		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: ChunkPointID(c.ArticleID, c.ChunkIndex)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: c.Vector}},
			},
			Payload: payload,
		})
	}

	wait := true
	_, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// DeleteArticle removes every chunk point of an article.
func (r *QdrantRepository) DeleteArticle(ctx context.Context, articleID string) error {
	_, err := r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collectionName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{{
						ConditionOneOf: &pb.Condition_Field{
							Field: &pb.FieldCondition{
								Key:   "article_id",
								Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: articleID}},
							},
						},
					}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete article points: %w", err)
	}
	return nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}
