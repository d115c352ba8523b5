//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/carecontext/internal/api/handlers"
	"github.com/cloo-solutions/carecontext/internal/embedding"
	"github.com/cloo-solutions/carecontext/internal/repository"
	"github.com/cloo-solutions/carecontext/internal/server"
	"github.com/cloo-solutions/carecontext/internal/service"
	"github.com/cloo-solutions/carecontext/internal/storage"
	"github.com/cloo-solutions/carecontext/internal/testutil"
)

const (
	testBucket = "clinical-docs"
	testRegion = "us-east-1"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T          *testing.T
	Ctx        context.Context
	PostgresC  *testutil.PostgresContainer
	RustFSC    *testutil.RustFSContainer
	Pool       *pgxpool.Pool
	Server     *httptest.Server
	Objects    *s3.Client
	Summaries  *service.SummaryService
	HTTPClient *http.Client
}

// SetupE2EEnv starts Postgres and RustFS and serves the full router over
// them. Embeddings come from the deterministic test embedder.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	fetcher, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          testRegion,
		AccessKeyID:     testutil.RustFSAccessKey,
		SecretAccessKey: testutil.RustFSSecretKey,
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}

	objects := newObjectClient(ctx, t, s3C.Endpoint())
	if _, err := objects.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(testBucket)}); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	gw := embedding.NewGateway(testutil.NewHashEmbedder(256), embedding.Options{CacheSize: 256, CacheTTL: time.Minute})
	index := repository.NewVectorIndex(pool, repository.TableConfig{})
	chunker, err := service.NewChunker(service.DefaultChunkConfig())
	if err != nil {
		t.Fatalf("failed to create chunker: %v", err)
	}

	ingestion := service.NewIngestionService(chunker, gw, index, service.WithSourceFetcher(fetcher))
	retrievalCfg := service.DefaultRetrievalConfig()
	retrievalCfg.ScoreFloor = 0.1
	retrieval := service.NewRetrievalService(gw, index, retrievalCfg)
	summaries := service.NewSummaryService(repository.NewPatientRecordRepository(pool), ingestion)

	srv := httptest.NewServer(server.NewRouter(server.RouterConfig{
		KnowledgeHandler: handlers.NewKnowledgeHandler(ingestion),
		PatientHandler:   handlers.NewPatientHandler(ingestion, summaries),
		ContextHandler:   handlers.NewContextHandler(retrieval),
	}))

	return &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		RustFSC:    s3C,
		Pool:       pool,
		Server:     srv,
		Objects:    objects,
		Summaries:  summaries,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func newObjectClient(ctx context.Context, t *testing.T, endpoint string) *s3.Client {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(testRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			testutil.RustFSAccessKey, testutil.RustFSSecretKey, "")),
	)
	if err != nil {
		t.Fatalf("failed to load AWS config: %v", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.Server != nil {
		e.Server.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// Reset empties every table between subtests.
func (e *E2ETestEnv) Reset() {
	if err := testutil.TruncateAll(e.Ctx, e.Pool); err != nil {
		e.T.Fatalf("failed to truncate tables: %v", err)
	}
}

// PutObject stores content under key in the test bucket and returns its s3:// URI.
func (e *E2ETestEnv) PutObject(key string, content []byte) string {
	_, err := e.Objects.PutObject(e.Ctx, &s3.PutObjectInput{
		Bucket: aws.String(testBucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		e.T.Fatalf("failed to put object %s: %v", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", testBucket, key)
}

// SeedPatient inserts a patient with one medication and one symptom log.
func (e *E2ETestEnv) SeedPatient(id, name string) {
	_, err := e.Pool.Exec(e.Ctx, `
		INSERT INTO diseases (id, name) VALUES ('ra', 'Rheumatoid arthritis') ON CONFLICT (id) DO NOTHING;
		INSERT INTO symptoms (id, disease_id, name) VALUES ('stiffness', 'ra', 'Morning stiffness') ON CONFLICT (id) DO NOTHING;
	`)
	if err != nil {
		e.T.Fatalf("failed to seed disease: %v", err)
	}
	_, err = e.Pool.Exec(e.Ctx, `INSERT INTO patients (id, name, disease_id) VALUES ($1, $2, 'ra')`, id, name)
	if err != nil {
		e.T.Fatalf("failed to seed patient: %v", err)
	}
	_, err = e.Pool.Exec(e.Ctx, `
		INSERT INTO medications (id, patient_id, name, dosage, frequency, symptom_id)
			VALUES ($1::text || '-mtx', $1, 'Methotrexate', '15mg', 'weekly', 'stiffness')`, id)
	if err != nil {
		e.T.Fatalf("failed to seed medication: %v", err)
	}
	_, err = e.Pool.Exec(e.Ctx, `
		INSERT INTO symptom_logs (patient_id, symptom_id, logged_at, severity, notes, curated_by)
			VALUES ($1, 'stiffness', '2026-03-03T08:00:00Z', 6, 'worse in the cold', 'Dr. Lee')`, id)
	if err != nil {
		e.T.Fatalf("failed to seed symptom log: %v", err)
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Status int
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// Post performs a POST request and decodes the envelope. Non-2xx responses
// are returned, not treated as errors.
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(e.Ctx, http.MethodPost, e.Server.URL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	apiResp := &APIResponse{Status: resp.StatusCode}
	if err := json.Unmarshal(respBody, apiResp); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return apiResp, nil
}

// MustPost fails the test unless the request returns wantStatus, then
// decodes data into out when out is non-nil.
func (e *E2ETestEnv) MustPost(path string, body interface{}, wantStatus int, out interface{}) {
	e.T.Helper()
	resp, err := e.Post(path, body)
	if err != nil {
		e.T.Fatalf("POST %s: %v", path, err)
	}
	if resp.Status != wantStatus {
		e.T.Fatalf("POST %s: got HTTP %d (%s), want %d", path, resp.Status, resp.Error, wantStatus)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			e.T.Fatalf("POST %s: failed to decode data: %v", path, err)
		}
	}
}
