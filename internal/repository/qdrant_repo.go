package repository

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/tejasbhor/Civiclens/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const (
	defaultVectorDimension = 384

	payloadReportID  = "report_id"
	payloadStatus    = "status"
	payloadCategory  = "category"
	payloadCreatedAt = "created_at"
	payloadLocation  = "location"
)

// reportPointNamespace seeds deterministic point IDs so re-indexing a report overwrites its point.
var reportPointNamespace = uuid.MustParse("6f1c2a8e-3b7d-4c55-9a0e-5d2f8b1e4c7a")

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

// QdrantReportIndex mirrors report locations, status and embeddings into Qdrant
// so nearby candidates can be found with payload geo filters.
type QdrantReportIndex struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
}

// NewQdrantReportIndex creates a new QdrantReportIndex
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key)
func NewQdrantReportIndex(cfg *QdrantConnectionConfig) (*QdrantReportIndex, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	vectorDimension := cfg.VectorDimension
	if vectorDimension <= 0 {
		vectorDimension = defaultVectorDimension
	}

	var opts []grpc.DialOption

	// TLS is enabled if: APIKey is set OR UseTLS is explicitly true
	useTLS := cfg.UseTLS || cfg.APIKey != ""

	if useTLS {
		// System root certificates, TLS 1.3 minimum for Qdrant Cloud
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
		creds := credentials.NewTLS(tlsConfig)
		opts = append(opts, grpc.WithTransportCredentials(creds))

		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		// Local mode: no TLS, no authentication
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantReportIndex{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: vectorDimension,
	}, nil
}

// Close closes the gRPC connection
func (r *QdrantReportIndex) Close() error {
	return r.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist
func (r *QdrantReportIndex) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok {
			if size != uint64(r.vectorDimension) {
				return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
			}
		}
		return nil // Collection exists
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

// ReportPoint is one report as stored in the index.
type ReportPoint struct {
	ReportID  uint
	Status    string
	Category  string
	Latitude  float64
	Longitude float64
	CreatedAt time.Time
	Vector    []float32
}

// ReportPointID returns the deterministic point UUID for a report.
func ReportPointID(reportID uint) string {
	return uuid.NewSHA1(reportPointNamespace, []byte(strconv.FormatUint(uint64(reportID), 10))).String()
}

// Upsert inserts or updates report points. Points are keyed by ReportPointID.
func (r *QdrantReportIndex) Upsert(ctx context.Context, reports []ReportPoint) error {
	if len(reports) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, 0, len(reports))
	for _, rp := range reports {
		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: ReportPointID(rp.ReportID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: rp.Vector},
				},
			},
			Payload: reportPayload(rp),
		})
	}

	_, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func reportPayload(rp ReportPoint) map[string]*pb.Value {
	return map[string]*pb.Value{
		payloadReportID:  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(rp.ReportID)}},
		payloadStatus:    {Kind: &pb.Value_StringValue{StringValue: rp.Status}},
		payloadCategory:  {Kind: &pb.Value_StringValue{StringValue: rp.Category}},
		payloadCreatedAt: {Kind: &pb.Value_IntegerValue{IntegerValue: rp.CreatedAt.Unix()}},
		payloadLocation: {Kind: &pb.Value_StructValue{StructValue: &pb.Struct{
			Fields: map[string]*pb.Value{
				"lat": {Kind: &pb.Value_DoubleValue{DoubleValue: rp.Latitude}},
				"lon": {Kind: &pb.Value_DoubleValue{DoubleValue: rp.Longitude}},
			},
		}}},
	}
}

// FindNearby returns the IDs of indexed reports matching the query's radius, time bound,
// status and exclusion constraints. Index payloads can lag the database,
// so callers re-check the returned reports against the source of truth.
func (r *QdrantReportIndex) FindNearby(ctx context.Context, q NearbyQuery) ([]uint, error) {
	limit := uint32(q.Limit)
	if limit == 0 {
		limit = 100
	}

	resp, err := r.pointsClient.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: r.collectionName,
		Filter:         buildNearbyFilter(q),
		Limit:          &limit,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll points: %w", err)
	}

	ids := make([]uint, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		v, ok := point.GetPayload()[payloadReportID]
		if !ok {
			continue
		}
		if id := v.GetIntegerValue(); id > 0 {
			ids = append(ids, uint(id))
		}
	}
	return ids, nil
}

func buildNearbyFilter(q NearbyQuery) *pb.Filter {
	since := float64(q.Since.Unix())

	must := []*pb.Condition{
		fieldCondition(&pb.FieldCondition{
			Key: payloadLocation,
			GeoRadius: &pb.GeoRadius{
				Center: &pb.GeoPoint{Lat: q.Center.Lat, Lon: q.Center.Lon},
				Radius: float32(q.RadiusMeters),
			},
		}),
		fieldCondition(&pb.FieldCondition{
			Key:   payloadCreatedAt,
			Range: &pb.Range{Gte: &since},
		}),
	}
	if q.Category != "" {
		must = append(must, keywordCondition(payloadCategory, q.Category))
	}

	var mustNot []*pb.Condition
	for _, status := range domain.IneligibleStatuses {
		mustNot = append(mustNot, keywordCondition(payloadStatus, string(status)))
	}
	if q.ExcludeID != nil {
		mustNot = append(mustNot, fieldCondition(&pb.FieldCondition{
			Key: payloadReportID,
			Match: &pb.Match{
				MatchValue: &pb.Match_Integer{Integer: int64(*q.ExcludeID)},
			},
		}))
	}

	return &pb.Filter{
		Must:    must,
		MustNot: mustNot,
	}
}

func keywordCondition(key, value string) *pb.Condition {
	return fieldCondition(&pb.FieldCondition{
		Key: key,
		Match: &pb.Match{
			MatchValue: &pb.Match_Keyword{Keyword: value},
		},
	})
}

func fieldCondition(field *pb.FieldCondition) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{Field: field},
	}
}
