package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepwise-hub/stepwise/internal/application/checkpoint"
	"github.com/stepwise-hub/stepwise/internal/application/command"
	"github.com/stepwise-hub/stepwise/internal/application/progressstore"
	"github.com/stepwise-hub/stepwise/internal/application/query"
	"github.com/stepwise-hub/stepwise/internal/domain/content"
	"github.com/stepwise-hub/stepwise/internal/domain/progress"
	"github.com/stepwise-hub/stepwise/internal/domain/shared"
	"github.com/stepwise-hub/stepwise/internal/infrastructure/external/progressapi"
	"github.com/stepwise-hub/stepwise/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, progress.ErrCacheMiss
	}
	return v, nil
}

func (c *memCache) Set(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string][]byte)
	}
	c.data[key] = value
	return nil
}

type memRepo struct {
	mu   sync.Mutex
	recs map[string]progress.Snapshot
}

func (r *memRepo) Find(_ context.Context, id string) (*progress.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.recs[id]
	if !ok {
		return nil, shared.WrapError("progress", "Find", shared.ErrNotFound, "no record", nil)
	}
	return &snap, nil
}

func (r *memRepo) Replace(_ context.Context, id string, snap progress.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recs == nil {
		r.recs = make(map[string]progress.Snapshot)
	}
	r.recs[id] = snap
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE
// ══════════════════════════════════════════════════════════════════════════════

// pricing has three steps: [0,1] [2,3] [4]; section 3 is a checkpoint.
func newReader(t *testing.T, namespaces ...shared.Namespace) *ReaderHandlers {
	t.Helper()
	lesson, err := content.NewItem(content.NewItemParams{
		ID:    "pricing",
		Kind:  content.ItemKindLesson,
		Title: "Pricing",
		Sections: []content.Section{
			content.IntroSection{Text: "Welcome, {name}."},
			content.TextSection{Text: "Aim for **$2,000**."},
			content.HeadingSection{Title: "Anchors"},
			content.CheckpointSection{
				Question:       "Best anchor?",
				Options:        []content.Option{{Label: "$9"}, {Label: "$2,000", IsCorrect: true}},
				SuccessMessage: "Right.",
			},
			content.HeadingSection{Title: "Wrap up"},
		},
	})
	require.NoError(t, err)

	chapter, err := content.NewItem(content.NewItemParams{
		ID:       "chapter-one",
		Kind:     content.ItemKindChapter,
		Title:    "Chapter one",
		Sections: []content.Section{content.TextSection{Text: "Once upon a time."}},
	})
	require.NoError(t, err)

	if len(namespaces) == 0 {
		namespaces = shared.AllNamespaces()
	}
	items := content.NewCatalog("v1", lesson, chapter)
	stores := progressstore.NewRegistry(&memCache{}, nil, logger.Nop(), progressstore.Options{}, namespaces...)
	log := logger.Nop()

	return &ReaderHandlers{
		Items:           items,
		Stores:          stores,
		GetReaderView:   query.NewGetReaderViewHandler(items, stores, true, log),
		AdvanceStep:     command.NewAdvanceStepHandler(items, stores, log),
		JumpToStep:      command.NewJumpToStepHandler(items, stores, log),
		CompleteSection: command.NewCompleteSectionHandler(items, stores, log),
		SubmitCheckpt:   command.NewSubmitCheckpointHandler(items, stores, checkpoint.NewEvaluator(items, log), time.Second, log),
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimitPerSecond = 0
	cfg.Version = "test"
	return cfg
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

// ══════════════════════════════════════════════════════════════════════════════
// READER API
// ══════════════════════════════════════════════════════════════════════════════

func TestReader_GetView(t *testing.T) {
	srv := NewServer(testConfig(), Dependencies{Reader: newReader(t), Logger: logger.Nop()})

	rec, env := do(t, srv.Handler(), http.MethodGet, "/api/v1/lessons/pricing?name=Ada", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var view query.ReaderViewDTO
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "pricing", view.ContentID)
	require.Len(t, view.Steps, 3)
	assert.Equal(t, "current", string(view.Steps[0].State))
	assert.Equal(t, "locked", string(view.Steps[1].State))
	assert.Empty(t, view.Steps[1].Sections, "locked steps expose no content")
	require.Len(t, view.Steps[0].Sections, 2)
	assert.Equal(t, "Welcome, Ada.", view.Steps[0].Sections[0].Fields[0].Fragments[0].Value)
	assert.True(t, view.Progress.Started)
}

func TestReader_Errors(t *testing.T) {
	srv := NewServer(testConfig(), Dependencies{Reader: newReader(t, shared.NamespaceLessons), Logger: logger.Nop()})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"missing item", http.MethodGet, "/api/v1/lessons/nope", "", http.StatusNotFound, "not_found"},
		{"unknown reader", http.MethodGet, "/api/v1/comics/pricing", "", http.StatusNotFound, "unknown_reader"},
		{"disabled reader", http.MethodGet, "/api/v1/library/chapter-one", "", http.StatusNotFound, "unknown_reader"},
		{"kind mismatch", http.MethodPost, "/api/v1/lessons/chapter-one/advance", "", http.StatusNotFound, "not_found"},
		{"bad index", http.MethodPost, "/api/v1/lessons/pricing/sections/x/complete", "", http.StatusBadRequest, "invalid_index"},
		{"section out of range", http.MethodPost, "/api/v1/lessons/pricing/sections/9/complete", "", http.StatusBadRequest, "invalid_request"},
		{"jump without body", http.MethodPost, "/api/v1/lessons/pricing/jump", "", http.StatusBadRequest, "invalid_body"},
		{"jump without step", http.MethodPost, "/api/v1/lessons/pricing/jump", `{}`, http.StatusBadRequest, "invalid_body"},
		{"not a checkpoint", http.MethodPost, "/api/v1/lessons/pricing/checkpoints/1", `{"option":0}`, http.StatusNotFound, "not_found"},
		{"option out of range", http.MethodPost, "/api/v1/lessons/pricing/checkpoints/3", `{"option":7}`, http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, srv.Handler(), tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestReader_Flow(t *testing.T) {
	srv := NewServer(testConfig(), Dependencies{Reader: newReader(t), Logger: logger.Nop()})
	h := srv.Handler()

	// Wrong answer first, then the right one: no lockout.
	rec, env := do(t, h, http.MethodPost, "/api/v1/lessons/pricing/checkpoints/3", `{"option":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var cp CheckpointResponse
	require.NoError(t, json.Unmarshal(env.Data, &cp))
	assert.False(t, cp.Correct)
	assert.Zero(t, cp.AdvanceAfterMS)

	_, env = do(t, h, http.MethodPost, "/api/v1/lessons/pricing/checkpoints/3", `{"option":1}`)
	require.NoError(t, json.Unmarshal(env.Data, &cp))
	assert.True(t, cp.Correct)
	assert.Equal(t, "Right.", cp.SuccessMessage)
	assert.Equal(t, int64(1000), cp.AdvanceAfterMS)
	assert.Equal(t, []int{3}, cp.Progress.CompletedSections)

	_, env = do(t, h, http.MethodPost, "/api/v1/lessons/pricing/advance", "")
	var adv AdvanceResponse
	require.NoError(t, json.Unmarshal(env.Data, &adv))
	assert.True(t, adv.Advanced)
	assert.Equal(t, []string{"unlocked", "current", "locked"}, adv.States)

	_, env = do(t, h, http.MethodPost, "/api/v1/lessons/pricing/jump", `{"step":2}`)
	var jump JumpResponse
	require.NoError(t, json.Unmarshal(env.Data, &jump))
	assert.False(t, jump.Jumped, "step 2 is still locked")

	_, env = do(t, h, http.MethodPost, "/api/v1/lessons/pricing/jump", `{"step":0}`)
	require.NoError(t, json.Unmarshal(env.Data, &jump))
	assert.True(t, jump.Jumped)
	assert.Equal(t, []string{"current", "unlocked", "locked"}, jump.States)

	_, env = do(t, h, http.MethodPost, "/api/v1/lessons/pricing/sections/0/complete", "")
	var done CompleteSectionResponse
	require.NoError(t, json.Unmarshal(env.Data, &done))
	assert.False(t, done.AlreadyCompleted)
	assert.Equal(t, 40, done.Progress.PercentComplete)

	_, env = do(t, h, http.MethodPost, "/api/v1/lessons/pricing/sections/0/complete", "")
	require.NoError(t, json.Unmarshal(env.Data, &done))
	assert.True(t, done.AlreadyCompleted)

	_, env = do(t, h, http.MethodGet, "/api/v1/lessons", "")
	var list []ItemSummaryDTO
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, ItemSummaryDTO{
		ID: "pricing", Title: "Pricing", Kind: "lesson",
		StepCount: 3, SectionCount: 5, PercentComplete: 40,
	}, list[0])
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS ENDPOINTS & MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

func TestServer_StatusEndpoints(t *testing.T) {
	srv := NewServer(testConfig(), Dependencies{Logger: logger.Nop()})
	h := srv.Handler()

	for _, path := range []string{"/health", "/healthz", "/ready", "/live", "/"} {
		rec, env := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.True(t, env.Success, path)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stepwise_http_requests_total")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/lessons/pricing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "reader routes are not mounted")
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerSecond = 0.001
	cfg.RateLimitBurst = 2
	srv := NewServer(cfg, Dependencies{Logger: logger.Nop()})
	defer srv.rateLimiter.Stop()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec, _ := do(t, srv.Handler(), http.MethodGet, "/live", "")
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestServer_CORSPreflight(t *testing.T) {
	srv := NewServer(testConfig(), Dependencies{Logger: logger.Nop()})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/lessons/pricing", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_RequestIDPropagates(t *testing.T) {
	srv := NewServer(testConfig(), Dependencies{Logger: logger.Nop()})

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"request_id":"abc-123"`)
}

// ══════════════════════════════════════════════════════════════════════════════
// REMOTE PROGRESS STORE
// ══════════════════════════════════════════════════════════════════════════════

func TestStore_GetAndPut(t *testing.T) {
	repo := &memRepo{}
	srv := NewServer(testConfig(), Dependencies{Progress: repo, Logger: logger.Nop()})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress/pricing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	body := `{"contentId":"pricing","progress":{"currentStep":1,"completedSections":[0],"lastUpdated":"2024-03-01T10:00:00Z","started":true}}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/progress", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress/pricing", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var snap progress.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.CurrentStep)
	assert.Equal(t, []int{0}, snap.CompletedSections)
}

func TestStore_RejectsInvalidBodies(t *testing.T) {
	srv := NewServer(testConfig(), Dependencies{Progress: &memRepo{}, Logger: logger.Nop()})

	for _, body := range []string{
		`not json`,
		`{"progress":{"completedSections":[]}}`,
		`{"contentId":"pricing","progress":{"currentStep":1}}`,
		`{"contentId":"pricing","progress":{"currentStep":-1,"completedSections":[]}}`,
		`{"contentId":"pricing","progress":{"currentStep":2147483648,"completedSections":[]}}`,
		`{"contentId":"pricing","progress":{"currentStep":1,"completedSections":[0,4294967296]}}`,
		`{"contentId":"pricing","progress":{"currentStep":1,"completedSections":[0],"unlockedSteps":[0,2147483648]}}`,
	} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/progress", bytes.NewBufferString(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)

		var e progressapi.ErrorDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
		assert.NotEmpty(t, e.Code)
	}
}

func TestStore_AcceptsLargestInt4(t *testing.T) {
	repo := &memRepo{}
	srv := NewServer(testConfig(), Dependencies{Progress: repo, Logger: logger.Nop()})

	body := `{"contentId":"pricing","progress":{"currentStep":2147483647,"completedSections":[2147483647]}}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/progress", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestStore_RequiresAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.APIKeys = []string{"secret"}
	srv := NewServer(cfg, Dependencies{Progress: &memRepo{}, Logger: logger.Nop()})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress/pricing", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// The client and the server agree on the wire contract.
func TestStore_ClientRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.APIKeys = []string{"secret"}
	srv := NewServer(cfg, Dependencies{Progress: &memRepo{}, Logger: logger.Nop()})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client, err := progressapi.NewClient(progressapi.ClientConfig{BaseURL: ts.URL, APIKey: "secret"})
	require.NoError(t, err)
	ctx := context.Background()

	got, err := client.Get(ctx, "pricing")
	require.NoError(t, err)
	assert.Nil(t, got)

	updated := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	put := progress.Snapshot{CurrentStep: 2, CompletedSections: []int{0, 1}, LastUpdated: updated, Started: true, UnlockedSteps: []int{0, 1, 2}}
	require.NoError(t, client.Put(ctx, "pricing", put))

	got, err = client.Get(ctx, "pricing")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Valid())
	assert.Equal(t, put.CurrentStep, got.CurrentStep)
	assert.Equal(t, put.CompletedSections, got.CompletedSections)
	assert.Equal(t, put.UnlockedSteps, got.UnlockedSteps)
	assert.True(t, updated.Equal(got.LastUpdated))
}
