package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/promptarchitect/studio/internal/apperr"
	"github.com/promptarchitect/studio/internal/auth"
	"github.com/promptarchitect/studio/internal/engineer"
	"github.com/promptarchitect/studio/internal/prompt"
	"github.com/promptarchitect/studio/internal/provider"
	"github.com/promptarchitect/studio/internal/repair"
	"github.com/promptarchitect/studio/internal/storage"
)

const (
	testSecret   = "api-test-secret-api-test-secret!"
	testAudience = "authenticated"
	validOutput  = `{"refinedPrompt":"Act as a SaaS founder...","whyThisWorks":"CO-STAR","suggestedVariables":["[PRODUCT]"],
"costar":{"context":"c","objective":"o","style":"s","tone":"t","audience":"a","response":"r"}}`
)

type stubProvider struct {
	kind   provider.Kind
	models []string
	out    string
	err    error
	calls  int
}

func (p *stubProvider) Kind() provider.Kind  { return p.kind }
func (p *stubProvider) Models() []string     { return p.models }
func (p *stubProvider) DefaultModel() string { return p.models[0] }
func (p *stubProvider) Generate(context.Context, string, prompt.Instruction) (string, error) {
	p.calls++
	return p.out, p.err
}

type testServer struct {
	srv    *httptest.Server
	store  *storage.Store
	ollama *stubProvider
	gemini *stubProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ts := &testServer{
		store:  store,
		ollama: &stubProvider{kind: provider.Ollama, models: []string{"llama3.2", "mistral"}, out: validOutput},
		gemini: &stubProvider{kind: provider.Gemini, models: []string{"gemini-3-flash-preview"}, out: validOutput},
	}
	reg := provider.NewRegistry(provider.Ollama, ts.ollama, ts.gemini)
	svc := engineer.New(reg, store, engineer.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	ts.srv = httptest.NewServer(NewHandler(Deps{
		Engineer:   svc,
		Store:      store,
		Verifier:   auth.NewVerifier(testSecret, testAudience),
		CORSOrigin: "*",
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func token(t *testing.T, sub string) string {
	t.Helper()
	tok, err := jwt.NewBuilder().Subject(sub).Audience([]string{testAudience}).Expiration(time.Now().Add(time.Hour)).Build()
	if err != nil {
		t.Fatalf("building token: %v", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), []byte(testSecret)))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return string(signed)
}

func (ts *testServer) do(t *testing.T, method, path, bearer, body string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func decodeError(t *testing.T, b []byte) errorBody {
	t.Helper()
	var e errorBody
	if err := json.Unmarshal(b, &e); err != nil {
		t.Fatalf("decoding error body %q: %v", b, err)
	}
	return e
}

func TestEngineerPrompt_Gemini(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "POST", "/engineer-prompt", "", `{"userInput":"Pitch a B2B SaaS.","provider":"gemini"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	var res prompt.Result
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if res.RefinedPrompt == "" || res.Costar == nil || res.Provider != "gemini" {
		t.Errorf("result = %+v", res)
	}
	if res.ID != "" {
		t.Errorf("anonymous result persisted with id %q", res.ID)
	}
}

func TestEngineerPrompt_ValidationErrors(t *testing.T) {
	ts := newTestServer(t)

	for _, body := range []string{
		`{"userInput":""}`,
		`{"userInput":42}`,
		`{"userInput":"` + strings.Repeat("a", prompt.MaxInputLength+1) + `"}`,
		`{"userInput":"idea","provider":"openai"}`,
		`{"userInput":"idea","provider":"ollama","model":"gpt-4o"}`,
		`{"userInput":"idea","task":"summarize"}`,
		`not json`,
	} {
		resp, b := ts.do(t, "POST", "/engineer-prompt", "", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %.40s: status = %d, want 400", body, resp.StatusCode)
			continue
		}
		if e := decodeError(t, b); e.ErrorCode != apperr.Validation || e.Error == "" {
			t.Errorf("body %.40s: error = %+v", body, e)
		}
	}
	if ts.ollama.calls+ts.gemini.calls != 0 {
		t.Errorf("provider called %d times, want 0", ts.ollama.calls+ts.gemini.calls)
	}
}

func TestEngineerPrompt_ProviderUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.ollama.err = apperr.Wrap(apperr.ServiceUnavailable, io.ErrUnexpectedEOF, "The ollama service is unavailable.")

	resp, b := ts.do(t, "POST", "/engineer-prompt", "", `{"userInput":"idea"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if e := decodeError(t, b); e.ErrorCode != apperr.ServiceUnavailable {
		t.Errorf("errorCode = %s", e.ErrorCode)
	}
}

func TestEngineerPrompt_DegradedResult(t *testing.T) {
	ts := newTestServer(t)
	ts.ollama.out = `Here you go: {"refinedPrompt": "Act as a founder, "whyThisWorks": `

	resp, b := ts.do(t, "POST", "/engineer-prompt", "", `{"userInput":"Pitch a B2B SaaS."}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.StatusCode, b)
	}
	var got map[string]json.RawMessage
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	var why string
	if err := json.Unmarshal(got["whyThisWorks"], &why); err != nil || why != repair.DegradedExplanation {
		t.Errorf("whyThisWorks = %s, want %q", got["whyThisWorks"], repair.DegradedExplanation)
	}
	if string(got["suggestedVariables"]) != "[]" {
		t.Errorf("suggestedVariables = %s, want []", got["suggestedVariables"])
	}
	if _, ok := got["costar"]; ok {
		t.Errorf("degraded result has costar: %s", got["costar"])
	}
	var refined string
	if err := json.Unmarshal(got["refinedPrompt"], &refined); err != nil || refined != ts.ollama.out {
		t.Errorf("refinedPrompt = %s, want the raw output", got["refinedPrompt"])
	}
}

func TestEngineerPrompt_GenerationFailed(t *testing.T) {
	ts := newTestServer(t)
	ts.ollama.out = "no json here"

	resp, b := ts.do(t, "POST", "/engineer-prompt", "", `{"userInput":"idea"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	e := decodeError(t, b)
	if e.ErrorCode != apperr.GenerationFailed || e.Details["rawOutput"] != "no json here" {
		t.Errorf("error = %+v", e)
	}
}

func TestEngineerPrompt_InvalidBearer(t *testing.T) {
	ts := newTestServer(t)

	resp, b := ts.do(t, "POST", "/engineer-prompt", "forged.token.value", `{"userInput":"idea"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if e := decodeError(t, b); e.ErrorCode != apperr.Auth {
		t.Errorf("errorCode = %s", e.ErrorCode)
	}
}

func TestEngineerPrompt_TitleTask(t *testing.T) {
	ts := newTestServer(t)
	ts.ollama.out = `{"title":"Autumn Leaves Haiku"}`

	resp, b := ts.do(t, "POST", "/engineer-prompt", token(t, "alice"), `{"userInput":"Write a haiku about autumn leaves","task":"title"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, b)
	}
	if string(b) != "{\"title\":\"Autumn Leaves Haiku\"}\n" {
		t.Errorf("body = %q", b)
	}
	items, _ := ts.store.ListHistory(context.Background(), "alice", 10, 0)
	if len(items) != 0 {
		t.Errorf("title task recorded %d history items", len(items))
	}
}

// engineerAs runs an engineer request as sub and returns the persisted id.
func engineerAs(t *testing.T, ts *testServer, sub, extra string) string {
	t.Helper()
	resp, b := ts.do(t, "POST", "/engineer-prompt", token(t, sub), `{"userInput":"idea"`+extra+`}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("engineer status = %d, body = %s", resp.StatusCode, b)
	}
	var res prompt.Result
	json.Unmarshal(b, &res)
	if res.ID == "" {
		t.Fatal("authenticated result has no id")
	}
	return res.ID
}

func TestForkFavoriteAndClear(t *testing.T) {
	ts := newTestServer(t)
	alice := token(t, "alice")

	root := engineerAs(t, ts, "alice", "")
	fork := engineerAs(t, ts, "alice", `,"parentId":"`+root+`"`)
	engineerAs(t, ts, "alice", "")

	if resp, b := ts.do(t, "PUT", "/favorites/"+fork, alice, ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("add favorite status = %d, body = %s", resp.StatusCode, b)
	}

	resp, b := ts.do(t, "DELETE", "/history", alice, "")
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(b)) != `{"deleted":2}` {
		t.Fatalf("clear = %d %s", resp.StatusCode, b)
	}

	resp, b = ts.do(t, "GET", "/history/"+fork, alice, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get fork status = %d", resp.StatusCode)
	}
	var item storage.HistoryItem
	json.Unmarshal(b, &item)
	if item.ParentID != root {
		t.Errorf("fork parentId = %q, want %q", item.ParentID, root)
	}

	resp, _ = ts.do(t, "GET", "/history/"+root, alice, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cleared root status = %d, want 404", resp.StatusCode)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	ts := newTestServer(t)
	alice := token(t, "alice")
	id := engineerAs(t, ts, "alice", "")

	resp, b := ts.do(t, "GET", "/history?limit=500", alice, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var page struct {
		Items []storage.HistoryItem `json:"items"`
		Limit int                   `json:"limit"`
	}
	json.Unmarshal(b, &page)
	if len(page.Items) != 1 || page.Limit != maxHistoryPage {
		t.Errorf("page = %d items, limit %d", len(page.Items), page.Limit)
	}

	if resp, _ := ts.do(t, "PATCH", "/history/"+id, alice, `{"title":"  My pitch  "}`); resp.StatusCode != http.StatusOK {
		t.Errorf("rename status = %d", resp.StatusCode)
	}
	if resp, _ := ts.do(t, "PATCH", "/history/"+id, alice, `{"title":"   "}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank rename status = %d, want 400", resp.StatusCode)
	}

	resp, b = ts.do(t, "GET", "/history/"+id+"/lineage", alice, "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), `"children":[]`) {
		t.Errorf("lineage = %d %s", resp.StatusCode, b)
	}

	// Another actor cannot see or touch alice's item.
	bob := token(t, "bob")
	if resp, _ := ts.do(t, "GET", "/history/"+id, bob, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("bob get status = %d, want 404", resp.StatusCode)
	}
	if resp, _ := ts.do(t, "PUT", "/favorites/"+id, bob, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("bob favorite status = %d, want 404", resp.StatusCode)
	}

	if resp, _ := ts.do(t, "DELETE", "/history/"+id, alice, ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	if resp, _ := ts.do(t, "DELETE", "/history/"+id, alice, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestHistoryRequiresActor(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/history", "/favorites", "/settings"} {
		resp, b := ts.do(t, "GET", path, "", "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want 401", path, resp.StatusCode)
			continue
		}
		if e := decodeError(t, b); e.ErrorCode != apperr.Auth {
			t.Errorf("GET %s errorCode = %s", path, e.ErrorCode)
		}
	}
}

func TestSettingsEndpoints(t *testing.T) {
	ts := newTestServer(t)
	alice := token(t, "alice")

	resp, b := ts.do(t, "GET", "/settings", alice, "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), `"theme":"dark"`) {
		t.Fatalf("default settings = %d %s", resp.StatusCode, b)
	}

	if resp, b := ts.do(t, "PUT", "/settings", alice, `{"defaultProvider":"ollama","defaultModel":"mistral","theme":"light"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d, body = %s", resp.StatusCode, b)
	}
	for _, bad := range []string{
		`{"theme":"neon"}`,
		`{"defaultProvider":"ollama","defaultModel":"gemini-3-flash-preview"}`,
		`{"defaultModel":"gpt-4o"}`,
	} {
		if resp, _ := ts.do(t, "PUT", "/settings", alice, bad); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("PUT %s status = %d, want 400", bad, resp.StatusCode)
		}
	}

	// The engineer endpoint now defaults to the saved model.
	resp, b = ts.do(t, "POST", "/engineer-prompt", alice, `{"userInput":"idea"}`)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), `"model":"mistral"`) {
		t.Errorf("engineer with saved defaults = %d %s", resp.StatusCode, b)
	}
}

func TestModelsAndHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, b := ts.do(t, "GET", "/health", "", "")
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(b)) != `{"status":"ok"}` {
		t.Errorf("health = %d %s", resp.StatusCode, b)
	}

	resp, b = ts.do(t, "GET", "/models", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("models status = %d", resp.StatusCode)
	}
	var cat struct {
		Providers []provider.Catalogue `json:"providers"`
	}
	json.Unmarshal(b, &cat)
	if len(cat.Providers) != 2 {
		t.Errorf("providers = %+v", cat.Providers)
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.srv.URL+"/engineer-prompt", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); got != corsAllowHeaders {
		t.Errorf("Allow-Headers = %q", got)
	}
}

func TestHealth_DegradedHidesStorageError(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	store.Close()

	rec := httptest.NewRecorder()
	handleHealth(store)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"status":"degraded"}` {
		t.Errorf("body = %s", got)
	}
}

func TestCORS_SpecificOrigin(t *testing.T) {
	h := CORS("https://app.example.com")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for foreign origin = %q, want empty", got)
	}

	rec = httptest.NewRecorder()
	req.Header.Set("Origin", "https://app.example.com")
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
}
