//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vektor-ai/vektor/internal/api/handlers"
	"github.com/vektor-ai/vektor/internal/extract"
	"github.com/vektor-ai/vektor/internal/index"
	"github.com/vektor-ai/vektor/internal/progress"
	"github.com/vektor-ai/vektor/internal/server"
	"github.com/vektor-ai/vektor/internal/service"
)

const embeddingDimension = 64

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T          *testing.T
	Server     *httptest.Server
	HTTPClient *http.Client
}

// hashEmbedder produces deterministic bag-of-words embeddings so that texts
// sharing tokens rank close together without a live embedding API.
type hashEmbedder struct{}

func (hashEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, embeddingDimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(strings.Trim(token, ".,!?")))
		bucket := binary.BigEndian.Uint32(sum[:4]) % embeddingDimension
		vec[bucket]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

// echoGenerator answers with the first line of context so tests can assert
// generation ran against retrieved passages.
type echoGenerator struct{}

func (echoGenerator) GenerateAnswer(ctx context.Context, prompt string) (string, error) {
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Answer the question") &&
			!strings.HasPrefix(line, "Context:") && !strings.HasPrefix(line, "Question:") &&
			!strings.HasPrefix(line, "Answer:") {
			return line, nil
		}
	}
	return "I don't know.", nil
}

// SetupE2EEnv boots the full HTTP stack with the in-memory index.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	t.Helper()

	idx := index.NewMemory(embeddingDimension)
	broker := progress.NewBroker()

	cfg := service.DefaultIngestConfig()
	cfg.Retention = time.Minute
	coordinator := service.NewIngestionCoordinatorWithConfig(
		idx, hashEmbedder{}, extract.NewRegistry(), broker, nil, cfg)

	retrieval := service.NewRetrievalEngine(idx, hashEmbedder{}, echoGenerator{})

	router := server.NewRouter(server.RouterConfig{
		IngestHandler: handlers.NewIngestHandler(coordinator, broker),
		FilesHandler:  handlers.NewFilesHandler(idx, nil),
		QueryHandler:  handlers.NewQueryHandler(retrieval),
	})

	srv := httptest.NewServer(router)
	return &E2ETestEnv{
		T:          t,
		Server:     srv,
		HTTPClient: srv.Client(),
	}
}

// Cleanup shuts down the test server.
func (env *E2ETestEnv) Cleanup() {
	env.Server.Close()
}

// APIResponse is the generic success envelope.
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// rawIngest posts a multipart batch and returns status plus raw body, for
// asserting on rejected requests.
func (env *E2ETestEnv) rawIngest(namespace string, files map[string]string) (int, string) {
	env.T.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if namespace != "" {
		require.NoError(env.T, mw.WriteField("namespace", namespace))
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(env.T, err)
		_, err = fw.Write([]byte(content))
		require.NoError(env.T, err)
	}
	require.NoError(env.T, mw.Close())

	resp, err := env.HTTPClient.Post(env.Server.URL+"/ingest", mw.FormDataContentType(), &buf)
	require.NoError(env.T, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(env.T, err)
	return resp.StatusCode, string(body)
}

// IngestFiles uploads a batch via multipart and returns the upload ID.
func (env *E2ETestEnv) IngestFiles(namespace string, files map[string]string) string {
	env.T.Helper()

	status, body := env.rawIngest(namespace, files)
	require.Equal(env.T, http.StatusAccepted, status)

	var envelope APIResponse
	require.NoError(env.T, json.Unmarshal([]byte(body), &envelope))

	var data struct {
		UploadID string `json:"upload_id"`
	}
	require.NoError(env.T, json.Unmarshal(envelope.Data, &data))
	require.NotEmpty(env.T, data.UploadID)
	return data.UploadID
}

// ProgressEvent mirrors the SSE payload.
type ProgressEvent struct {
	Phase       string   `json:"phase"`
	Percent     int      `json:"percent"`
	State       string   `json:"state"`
	Error       string   `json:"error"`
	FailedFiles []string `json:"failed_files"`
}

// StreamProgress consumes the SSE stream until it ends, returning every event.
func (env *E2ETestEnv) StreamProgress(uploadID string) []ProgressEvent {
	env.T.Helper()

	resp, err := env.HTTPClient.Get(fmt.Sprintf("%s/ingest/%s/progress", env.Server.URL, uploadID))
	require.NoError(env.T, err)
	defer resp.Body.Close()
	require.Equal(env.T, http.StatusOK, resp.StatusCode)
	require.Equal(env.T, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(env.T, err)

	var events []ProgressEvent
	for _, frame := range strings.Split(string(body), "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		payload := strings.TrimPrefix(frame, "data: ")
		var ev ProgressEvent
		require.NoError(env.T, json.Unmarshal([]byte(payload), &ev))
		events = append(events, ev)
	}
	return events
}

// WaitForCompletion streams progress and asserts the job ended in state want.
func (env *E2ETestEnv) WaitForCompletion(uploadID, want string) ProgressEvent {
	env.T.Helper()
	events := env.StreamProgress(uploadID)
	require.NotEmpty(env.T, events)
	last := events[len(events)-1]
	require.Equal(env.T, want, last.State)
	return last
}

// Query posts a retrieval request and decodes the response.
func (env *E2ETestEnv) Query(body map[string]interface{}) (int, QueryResult) {
	env.T.Helper()

	payload, err := json.Marshal(body)
	require.NoError(env.T, err)

	resp, err := env.HTTPClient.Post(env.Server.URL+"/query", "application/json", bytes.NewReader(payload))
	require.NoError(env.T, err)
	defer resp.Body.Close()

	var result QueryResult
	require.NoError(env.T, json.NewDecoder(resp.Body).Decode(&result))
	return resp.StatusCode, result
}

// QueryResult mirrors the /query response shape.
type QueryResult struct {
	Answers  []string `json:"answers"`
	Passages []struct {
		ID      string                 `json:"id"`
		Content string                 `json:"content"`
		Meta    map[string]interface{} `json:"meta"`
		Score   float32                `json:"score"`
	} `json:"passages"`
	Error string `json:"error"`
}

// ListFiles fetches the indexed source files for a namespace.
func (env *E2ETestEnv) ListFiles(namespace string) []SourceFile {
	env.T.Helper()

	url := env.Server.URL + "/files"
	if namespace != "" {
		url += "?namespace=" + namespace
	}
	resp, err := env.HTTPClient.Get(url)
	require.NoError(env.T, err)
	defer resp.Body.Close()
	require.Equal(env.T, http.StatusOK, resp.StatusCode)

	var envelope APIResponse
	require.NoError(env.T, json.NewDecoder(resp.Body).Decode(&envelope))

	var files []SourceFile
	require.NoError(env.T, json.Unmarshal(envelope.Data, &files))
	return files
}

// SourceFile mirrors the /files listing entry.
type SourceFile struct {
	Filename     string `json:"filename"`
	Namespace    string `json:"namespace"`
	PassageCount int    `json:"passage_count"`
	ByteSize     int64  `json:"byte_size"`
	FileID       string `json:"file_id"`
}

// DeleteFile removes one source file and returns the deleted passage count.
func (env *E2ETestEnv) DeleteFile(namespace, filename string) int {
	env.T.Helper()

	url := fmt.Sprintf("%s/files/%s", env.Server.URL, filename)
	if namespace != "" {
		url += "?namespace=" + namespace
	}
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(env.T, err)

	resp, err := env.HTTPClient.Do(req)
	require.NoError(env.T, err)
	defer resp.Body.Close()
	require.Equal(env.T, http.StatusOK, resp.StatusCode)

	var envelope APIResponse
	require.NoError(env.T, json.NewDecoder(resp.Body).Decode(&envelope))

	var data struct {
		DeletedCount int `json:"deleted_count"`
	}
	require.NoError(env.T, json.Unmarshal(envelope.Data, &data))
	return data.DeletedCount
}
