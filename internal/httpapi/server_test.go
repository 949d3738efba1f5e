package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/notuslabs/agentflow/internal/analytics"
	"github.com/notuslabs/agentflow/internal/blob"
	"github.com/notuslabs/agentflow/internal/bridge"
	"github.com/notuslabs/agentflow/internal/config"
	"github.com/notuslabs/agentflow/internal/engine"
	"github.com/notuslabs/agentflow/internal/imagegen"
	"github.com/notuslabs/agentflow/internal/llm"
	"github.com/notuslabs/agentflow/internal/memory"
	"github.com/notuslabs/agentflow/internal/observability"
	"github.com/notuslabs/agentflow/internal/taskstore"
)

var metricsSeq atomic.Int64

type serverFixture struct {
	store  *memory.InMemoryStore
	llm    *llm.MockClient
	tasks  *taskstore.Registry
	server *httptest.Server
}

func newServerFixture(t *testing.T, responses ...string) *serverFixture {
	t.Helper()

	store := memory.NewInMemoryStore()
	llmClient := llm.NewMockClient(responses...)
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", metricsSeq.Add(1)))

	blobStore, err := blob.NewLocalStore(t.TempDir(), "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	bridgeClient := bridge.NewMockClient()
	eng := engine.New(llmClient, imagegen.NewMockClient(), blobStore, bridgeClient, store, metrics, engine.Options{})
	tasks := taskstore.NewRegistry()

	srv := New(config.Config{}, store, analytics.New(store), eng, tasks, metrics, bridgeClient, nil, "memory")
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &serverFixture{store: store, llm: llmClient, tasks: tasks, server: ts}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response, out any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestMemoryCRUDOverHTTP(t *testing.T) {
	f := newServerFixture(t)

	res := postJSON(t, f.server.URL+"/v1/memories", map[string]any{
		"user_id": "u1",
		"type":    "fact",
		"key":     "name",
		"value":   "Ada",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", res.StatusCode)
	}
	var created memory.Entry
	decodeBody(t, res, &created)
	if created.ID == "" || created.Importance != 5 {
		t.Fatalf("created = %+v", created)
	}

	getRes, err := http.Get(f.server.URL + "/v1/memories/" + created.ID)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", getRes.StatusCode)
	}
	var fetched memory.Entry
	decodeBody(t, getRes, &fetched)
	if fetched.Value != "Ada" {
		t.Fatalf("fetched = %+v", fetched)
	}

	patch, _ := json.Marshal(map[string]any{"value": "Grace", "importance": 9})
	patchReq, _ := http.NewRequest(http.MethodPatch, f.server.URL+"/v1/memories/"+created.ID, bytes.NewReader(patch))
	patchReq.Header.Set("Content-Type", "application/json")
	patchRes, err := http.DefaultClient.Do(patchReq)
	if err != nil {
		t.Fatalf("PATCH error = %v", err)
	}
	var patched memory.Entry
	decodeBody(t, patchRes, &patched)
	if patched.Value != "Grace" || patched.Importance != 9 {
		t.Fatalf("patched = %+v", patched)
	}

	pinRes := postJSON(t, f.server.URL+"/v1/memories/"+created.ID+"/pin", nil)
	var pinned memory.Entry
	decodeBody(t, pinRes, &pinned)
	if !pinned.IsPinned {
		t.Fatalf("pin toggle did not pin the entry")
	}

	delReq, _ := http.NewRequest(http.MethodDelete, f.server.URL+"/v1/memories/"+created.ID, nil)
	delRes, err := http.DefaultClient.Do(delReq)
	if err != nil {
		t.Fatalf("DELETE error = %v", err)
	}
	delRes.Body.Close()
	if delRes.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", delRes.StatusCode)
	}

	missing, _ := http.Get(f.server.URL + "/v1/memories/" + created.ID)
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", missing.StatusCode)
	}
}

func TestCreateMemoryRejectsBadType(t *testing.T) {
	f := newServerFixture(t)

	res := postJSON(t, f.server.URL+"/v1/memories", map[string]any{
		"user_id": "u1",
		"type":    "opinion",
		"key":     "k",
		"value":   "v",
	})
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestSearchAndContextOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	seed := postJSON(t, f.server.URL+"/v1/memories", map[string]any{
		"user_id": "u1", "type": "fact", "key": "language", "value": "loves Go",
	})
	seed.Body.Close()

	searchRes, err := http.Get(f.server.URL + "/v1/memories/search?user_id=u1&q=go")
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	var searchBody struct {
		Memories []memory.Entry `json:"memories"`
	}
	decodeBody(t, searchRes, &searchBody)
	if len(searchBody.Memories) != 1 {
		t.Fatalf("search results = %v", searchBody.Memories)
	}

	ctxRes := postJSON(t, f.server.URL+"/v1/memories/context", map[string]any{
		"user_id":          "u1",
		"task_description": "write go code",
	})
	var ctxBody struct {
		Memories []memory.Entry `json:"memories"`
	}
	decodeBody(t, ctxRes, &ctxBody)
	if len(ctxBody.Memories) != 1 {
		t.Fatalf("context results = %v", ctxBody.Memories)
	}
	if ctxBody.Memories[0].AccessCount != 1 {
		t.Fatalf("context lookup should count as an access: %+v", ctxBody.Memories[0])
	}
}

func TestExportImportOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	seed := postJSON(t, f.server.URL+"/v1/memories", map[string]any{
		"user_id": "u1", "type": "fact", "key": "name", "value": "Ada",
	})
	seed.Body.Close()

	exportRes, err := http.Get(f.server.URL + "/v1/memories/export?user_id=u1&format=json")
	if err != nil {
		t.Fatalf("export error = %v", err)
	}
	defer exportRes.Body.Close()
	if ct := exportRes.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("export content type = %q", ct)
	}
	if cd := exportRes.Header.Get("Content-Disposition"); !strings.Contains(cd, "memories_u1.json") {
		t.Fatalf("export disposition = %q", cd)
	}
	var payload bytes.Buffer
	if _, err := payload.ReadFrom(exportRes.Body); err != nil {
		t.Fatalf("read export: %v", err)
	}

	importRes, err := http.Post(f.server.URL+"/v1/memories/import?user_id=u2", "application/json", &payload)
	if err != nil {
		t.Fatalf("import error = %v", err)
	}
	var importBody memory.ImportResult
	decodeBody(t, importRes, &importBody)
	if importBody.Imported != 1 || importBody.Skipped != 0 {
		t.Fatalf("import = %+v", importBody)
	}
}

func TestCreateTaskOverHTTP(t *testing.T) {
	f := newServerFixture(t, "short plan", "final answer")

	res := postJSON(t, f.server.URL+"/v1/tasks", map[string]any{
		"user_id":     "u1",
		"task_type":   "general",
		"instruction": "answer me",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", res.StatusCode)
	}
	var rec taskstore.Record
	decodeBody(t, res, &rec)
	if rec.Status != taskstore.StatusCompleted {
		t.Fatalf("status = %q, want completed (error %q)", rec.Status, rec.Error)
	}
	if rec.Result != "final answer" {
		t.Fatalf("result = %q", rec.Result)
	}
	if len(rec.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(rec.Steps))
	}

	listRes, err := http.Get(f.server.URL + "/v1/tasks?user_id=u1")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	var listBody struct {
		Tasks []taskstore.Record `json:"tasks"`
	}
	decodeBody(t, listRes, &listBody)
	if len(listBody.Tasks) != 1 {
		t.Fatalf("tasks = %v", listBody.Tasks)
	}
}

func TestCreateTaskRejectsUnknownType(t *testing.T) {
	f := newServerFixture(t)

	res := postJSON(t, f.server.URL+"/v1/tasks", map[string]any{
		"user_id":     "u1",
		"task_type":   "juggling",
		"instruction": "do something",
	})
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestTaskWebsocketStreamsEvents(t *testing.T) {
	f := newServerFixture(t, "plan", "answer")

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/tasks/ws?user_id=u1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial error = %v", err)
	}
	defer conn.Close()

	res := postJSON(t, f.server.URL+"/v1/tasks", map[string]any{
		"user_id":     "u1",
		"task_type":   "general",
		"instruction": "answer me",
	})
	res.Body.Close()

	want := []taskstore.EventType{
		taskstore.EventTaskCreated,
		taskstore.EventTaskStarted,
		taskstore.EventTaskCompleted,
	}
	for i, wantType := range want {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev taskstore.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event %d: %v", i, err)
		}
		if ev.Type != wantType {
			t.Fatalf("event %d type = %q, want %q", i, ev.Type, wantType)
		}
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	f := newServerFixture(t)
	seed := postJSON(t, f.server.URL+"/v1/memories", map[string]any{
		"user_id": "u1", "type": "fact", "key": "name", "value": "Ada",
	})
	seed.Body.Close()

	usageRes, err := http.Get(f.server.URL + "/v1/analytics/usage?user_id=u1")
	if err != nil {
		t.Fatalf("usage error = %v", err)
	}
	var usageBody struct {
		Stats analytics.UsageStats `json:"stats"`
	}
	decodeBody(t, usageRes, &usageBody)
	if usageBody.Stats.TotalMemories != 1 {
		t.Fatalf("usage = %+v", usageBody.Stats)
	}

	insightsRes, err := http.Get(f.server.URL + "/v1/analytics/insights?user_id=ghost")
	if err != nil {
		t.Fatalf("insights error = %v", err)
	}
	var insightsBody struct {
		Insights analytics.Insights `json:"insights"`
	}
	decodeBody(t, insightsRes, &insightsBody)
	if insightsBody.Insights.HealthScore != 75 {
		t.Fatalf("empty-user health score = %d, want 75", insightsBody.Insights.HealthScore)
	}

	missingUser, _ := http.Get(f.server.URL + "/v1/analytics/usage")
	missingUser.Body.Close()
	if missingUser.StatusCode != http.StatusBadRequest {
		t.Fatalf("usage without user_id status = %d", missingUser.StatusCode)
	}
}

func TestPreferencesOverHTTP(t *testing.T) {
	f := newServerFixture(t)

	patch, _ := json.Marshal(map[string]any{"theme": "dark"})
	req, _ := http.NewRequest(http.MethodPatch, f.server.URL+"/v1/preferences?user_id=u1", bytes.NewReader(patch))
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PATCH error = %v", err)
	}
	var body struct {
		Preferences map[string]any `json:"preferences"`
	}
	decodeBody(t, res, &body)
	if body.Preferences["theme"] != "dark" {
		t.Fatalf("preferences = %v", body.Preferences)
	}

	getRes, err := http.Get(f.server.URL + "/v1/preferences?user_id=u1")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	decodeBody(t, getRes, &body)
	if body.Preferences["theme"] != "dark" {
		t.Fatalf("preferences after get = %v", body.Preferences)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)

	res, err := http.Get(f.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	var body map[string]any
	decodeBody(t, res, &body)
	if body["status"] != "ok" || body["store_mode"] != "memory" {
		t.Fatalf("health body = %v", body)
	}

	readyRes, err := http.Get(f.server.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	decodeBody(t, readyRes, &body)
	if body["status"] != "ready" || body["bridge_ready"] != true {
		t.Fatalf("ready body = %v", body)
	}
}
