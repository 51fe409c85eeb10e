//go:build e2e

package e2e

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestE2E_IngestAndQuery covers the full document lifecycle.
func TestE2E_IngestAndQuery(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	uploadID := env.IngestFiles("", map[string]string{
		"languages.txt": "Go was released by Google in 2009. Goroutines make concurrency simple.",
		"databases.md":  "Postgres is a relational database. pgvector adds vector search to Postgres.",
	})

	t.Run("progress stream reaches completed", func(t *testing.T) {
		last := env.WaitForCompletion(uploadID, "completed")
		assert.Equal(t, "processing", last.Phase)
		assert.Equal(t, 100, last.Percent)
		assert.Empty(t, last.Error)
	})

	t.Run("late subscriber still gets terminal event", func(t *testing.T) {
		events := env.StreamProgress(uploadID)
		require.Len(t, events, 1)
		assert.Equal(t, "completed", events[0].State)
	})

	t.Run("files listing shows both sources", func(t *testing.T) {
		files := env.ListFiles("")
		require.Len(t, files, 2)
		names := []string{files[0].Filename, files[1].Filename}
		assert.Contains(t, names, "languages.txt")
		assert.Contains(t, names, "databases.md")
		for _, f := range files {
			assert.Equal(t, "default", f.Namespace)
			assert.Greater(t, f.PassageCount, 0)
			assert.Greater(t, f.ByteSize, int64(0))
			assert.NotEmpty(t, f.FileID)
		}
	})

	t.Run("query ranks the matching passage first", func(t *testing.T) {
		status, result := env.Query(map[string]interface{}{
			"text":  "When was Go released by Google?",
			"top_k": 2,
		})
		require.Equal(t, http.StatusOK, status)
		require.NotEmpty(t, result.Passages)
		assert.Contains(t, result.Passages[0].Content, "Go was released")
		require.NotEmpty(t, result.Answers)
		assert.NotEqual(t, "I don't know.", result.Answers[0])
	})

	t.Run("query scoped to one source file", func(t *testing.T) {
		status, result := env.Query(map[string]interface{}{
			"text":        "vector search database",
			"top_k":       5,
			"source_file": "databases.md",
		})
		require.Equal(t, http.StatusOK, status)
		require.NotEmpty(t, result.Passages)
		for _, p := range result.Passages {
			assert.Contains(t, p.Content, "Postgres")
		}
	})

	t.Run("delete removes a source and its passages", func(t *testing.T) {
		deleted := env.DeleteFile("", "languages.txt")
		assert.Greater(t, deleted, 0)

		files := env.ListFiles("")
		require.Len(t, files, 1)
		assert.Equal(t, "databases.md", files[0].Filename)

		// Deleting again is idempotent.
		assert.Equal(t, 0, env.DeleteFile("", "languages.txt"))
	})
}

// TestE2E_ValidationAndFailure covers batch rejection and error surfacing.
func TestE2E_ValidationAndFailure(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	t.Run("unsupported extension rejects the whole batch", func(t *testing.T) {
		status, body := env.rawIngest("", map[string]string{
			"fine.txt":  "supported",
			"virus.exe": "MZ",
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, body, "virus.exe")

		assert.Empty(t, env.ListFiles(""))
	})

	t.Run("corrupt pdf fails the job with rollback", func(t *testing.T) {
		uploadID := env.IngestFiles("", map[string]string{
			"ok.txt":     "this one is fine",
			"broken.pdf": "not a real pdf",
		})

		last := env.WaitForCompletion(uploadID, "failed")
		assert.NotEmpty(t, last.Error)

		// Rollback: the good file's passages are gone too.
		assert.Empty(t, env.ListFiles(""))
	})

	t.Run("progress of unknown upload is 404", func(t *testing.T) {
		resp, err := env.HTTPClient.Get(env.Server.URL + "/ingest/no-such-upload/progress")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("blank query is a validation error", func(t *testing.T) {
		status, result := env.Query(map[string]interface{}{"text": "  "})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.NotEmpty(t, result.Error)
		assert.Empty(t, result.Passages)
	})
}

// TestE2E_Namespaces verifies namespace isolation across ingest, query and delete.
func TestE2E_Namespaces(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	idA := env.IngestFiles("team-a", map[string]string{
		"notes.txt": "Alpha project ships in March.",
	})
	idB := env.IngestFiles("team-b", map[string]string{
		"notes.txt": "Beta project ships in June.",
	})
	env.WaitForCompletion(idA, "completed")
	env.WaitForCompletion(idB, "completed")

	t.Run("listings are namespace scoped", func(t *testing.T) {
		assert.Len(t, env.ListFiles("team-a"), 1)
		assert.Len(t, env.ListFiles("team-b"), 1)
		assert.Len(t, env.ListFiles(""), 2)
	})

	t.Run("query respects namespace", func(t *testing.T) {
		status, result := env.Query(map[string]interface{}{
			"text":      "when does the project ship",
			"namespace": "team-b",
		})
		require.Equal(t, http.StatusOK, status)
		require.NotEmpty(t, result.Passages)
		for _, p := range result.Passages {
			assert.Contains(t, p.Content, "Beta")
		}
	})

	t.Run("delete only touches its namespace", func(t *testing.T) {
		assert.Greater(t, env.DeleteFile("team-a", "notes.txt"), 0)
		assert.Empty(t, env.ListFiles("team-a"))
		assert.Len(t, env.ListFiles("team-b"), 1)
	})
}

// TestE2E_EmptyIndexQuery checks the canned fallback answer.
func TestE2E_EmptyIndexQuery(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	status, result := env.Query(map[string]interface{}{"text": "anything at all"})
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, result.Passages)
	require.Len(t, result.Answers, 1)
	assert.Equal(t, "I don't know.", result.Answers[0])
}
