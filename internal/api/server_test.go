package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/Tech-Tweakers/polaris-core/internal/history"
	"github.com/Tech-Tweakers/polaris-core/internal/inference"
	"github.com/Tech-Tweakers/polaris-core/internal/logger"
)

type fakeEngine struct {
	mu  sync.Mutex
	got []inference.Request

	chunks  []string
	result  *inference.Result
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeEngine) Generate(ctx context.Context, req inference.Request) (*inference.Result, error) {
	f.mu.Lock()
	f.got = append(f.got, req)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	var text strings.Builder
	for _, c := range f.chunks {
		text.WriteString(c)
		if req.OnFragment != nil {
			if err := req.OnFragment([]byte(c)); err != nil {
				return nil, err
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &inference.Result{
		Text:       text.String(),
		StopReason: inference.StopEOG,
		Stats:      inference.Stats{PromptTokens: 5, TokensGenerated: len(f.chunks)},
	}, nil
}

func (f *fakeEngine) ContextSize() int { return 4096 }
func (f *fakeEngine) Occupied() int    { return 10 }

func (f *fakeEngine) last() inference.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got[len(f.got)-1]
}

func newTestEcho(t *testing.T, cfg Config) *echo.Echo {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Backend == "" {
		cfg.Backend = "toy"
	}
	e := echo.New()
	NewServer(cfg).Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestGenerateJSON(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{chunks: []string{"<think>plan</think>", "answer", "<|im_end|>"}}
	e := newTestEcho(t, Config{Engine: eng, MaxQueue: 2})

	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"hi","system_prompt":"sys","temperature":0.3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[GenerateResponse](t, rec)
	if !strings.HasPrefix(resp.ID, "gen_") || resp.Object != "generation" {
		t.Fatalf("id/object: %q %q", resp.ID, resp.Object)
	}
	if resp.Content != "answer" || resp.Reasoning != "plan" {
		t.Fatalf("content=%q reasoning=%q", resp.Content, resp.Reasoning)
	}
	if resp.StopReason != "eog" || resp.Usage.TotalTokens != 8 {
		t.Fatalf("stop=%q usage=%+v", resp.StopReason, resp.Usage)
	}

	got := eng.last()
	if got.Prompt != "hi" || got.SystemPrompt != "sys" || got.Temperature != 0.3 {
		t.Fatalf("request: %+v", got)
	}
	if got.MaxTokens != inference.DefaultMaxTokens || got.OnFragment != nil {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestGenerateUsesServerDefaults(t *testing.T) {
	t.Parallel()

	maxTokens := 7
	eng := &fakeEngine{chunks: []string{"x"}}
	e := newTestEcho(t, Config{Engine: eng, Defaults: inference.GenDefaults{MaxTokens: &maxTokens}})

	if rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"hi"}`); rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if got := eng.last().MaxTokens; got != 7 {
		t.Fatalf("max tokens %d", got)
	}
	if rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"hi","max_tokens":3}`); rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if got := eng.last().MaxTokens; got != 3 {
		t.Fatalf("explicit max tokens %d", got)
	}
}

func TestGenerateValidation(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, Config{Engine: &fakeEngine{}})
	cases := []struct {
		name string
		body string
	}{
		{name: "empty prompt", body: `{"prompt":"   "}`},
		{name: "invalid json", body: `{"prompt":`},
		{name: "wrong type", body: `{"prompt": 3}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := doJSON(t, e, http.MethodPost, "/v1/generate", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGenerateErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		code int
		typ  string
	}{
		{err: fmt.Errorf("prefill: %w", inference.ErrContextExhausted), code: http.StatusUnprocessableEntity, typ: "context_exhausted"},
		{err: inference.ErrTokenization, code: http.StatusUnprocessableEntity, typ: "tokenization_error"},
		{err: inference.ErrModelUnavailable, code: http.StatusServiceUnavailable, typ: "model_unavailable"},
		{err: inference.ErrDecode, code: http.StatusInternalServerError, typ: "server_error"},
		{err: inference.ErrSamplerReconfiguration, code: http.StatusInternalServerError, typ: "server_error"},
	}
	for _, tc := range cases {
		t.Run(tc.typ+"/"+tc.err.Error(), func(t *testing.T) {
			t.Parallel()
			e := newTestEcho(t, Config{Engine: &fakeEngine{err: tc.err}})
			rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"hi"}`)
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), `"type":"`+tc.typ+`"`) {
				t.Fatalf("body %s", rec.Body.String())
			}
		})
	}
}

func TestGenerateNoEngine(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, Config{})
	if rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"hi"}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec := doJSON(t, e, http.MethodGet, "/v1/model", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestGenerateStream(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{chunks: []string{"caf", "\xc3", "\xa9!"}}
	e := newTestEcho(t, Config{Engine: eng})

	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"hi","stream":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"event: generation.delta\n",
		`"delta":"caf"`,
		`"delta":"é!"`,
		"event: generation.completed\n",
		`"text":"café!"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in stream:\n%s", want, body)
		}
	}
	if strings.Contains(body, "\ufffd") || strings.Contains(body, `\ufffd`) {
		t.Fatalf("split rune leaked into stream:\n%s", body)
	}
	if strings.Index(body, "generation.completed") < strings.LastIndex(body, "generation.delta") {
		t.Fatalf("completed event before last delta:\n%s", body)
	}
	if eng.last().OnFragment == nil {
		t.Fatal("expected fragment sink on streaming request")
	}
}

func TestGenerateStreamFailure(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{chunks: []string{"partial"}, err: fmt.Errorf("decode: %w", inference.ErrDecode)}
	e := newTestEcho(t, Config{Engine: eng})

	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"hi","stream":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: generation.failed") || strings.Contains(body, "generation.completed") {
		t.Fatalf("stream:\n%s", body)
	}
}

func TestGenerateQueueFull(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		chunks:  []string{"ok"},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	e := newTestEcho(t, Config{Engine: eng, MaxQueue: 1})

	done := make(chan int)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(`{"prompt":"first"}`))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		done <- rec.Code
	}()
	<-eng.started

	if rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"second"}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	close(eng.release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("first call: %d", code)
	}

	// The slot is free again.
	if rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"third"}`); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after release, got %d", rec.Code)
	}
}

func TestGenerationHistory(t *testing.T) {
	t.Parallel()

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	eng := &fakeEngine{chunks: []string{`{"done": true}`}}
	e := newTestEcho(t, Config{Engine: eng, History: store})

	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"log me"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	gen := decodeBody[GenerateResponse](t, rec)

	rec = doJSON(t, e, http.MethodGet, "/v1/generations/"+gen.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d body=%s", rec.Code, rec.Body.String())
	}
	got := decodeBody[history.Record](t, rec)
	if got.Prompt != "log me" || got.Output != `{"done": true}` || got.StopReason != "eog" {
		t.Fatalf("record %+v", got)
	}

	rec = doJSON(t, e, http.MethodGet, "/v1/generations?limit=5", "")
	list := decodeBody[GenerationList](t, rec)
	if len(list.Data) != 1 || list.Data[0].ID != gen.ID {
		t.Fatalf("list %+v", list)
	}

	if rec := doJSON(t, e, http.MethodGet, "/v1/generations/gen_missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := doJSON(t, e, http.MethodGet, "/v1/generations?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGenerationHistoryRecordsFailures(t *testing.T) {
	t.Parallel()

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	e := newTestEcho(t, Config{Engine: &fakeEngine{err: inference.ErrContextExhausted}, History: store})
	if rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"too long"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d", rec.Code)
	}
	recs, err := store.Recent(context.Background(), 1)
	if err != nil || len(recs) != 1 {
		t.Fatalf("recent: %v %v", recs, err)
	}
	if !strings.Contains(recs[0].Error, "context exhausted") {
		t.Fatalf("error column %q", recs[0].Error)
	}
}

func TestHistoryDisabled(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, Config{Engine: &fakeEngine{}})
	if rec := doJSON(t, e, http.MethodGet, "/v1/generations", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestModelAndHealth(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, Config{Engine: &fakeEngine{}, Backend: "toy", Model: "m.gguf"})

	rec := doJSON(t, e, http.MethodGet, "/v1/model", "")
	info := decodeBody[ModelInfo](t, rec)
	if info.ContextSize != 4096 || info.Occupied != 10 || info.Backend != "toy" || info.Model != "m.gguf" {
		t.Fatalf("model info %+v", info)
	}
	if rec := doJSON(t, e, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("healthz %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, e, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/v1/generate") {
		t.Fatalf("index %d", rec.Code)
	}
}

func TestChatCompletions(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{chunks: []string{"hello"}}
	e := newTestEcho(t, Config{Engine: eng})

	body := `{"model":"polaris","max_completion_tokens":9,"messages":[
		{"role":"system","content":"be kind"},
		{"role":"user","content":[{"type":"text","text":"hi"},{"type":"text","text":"there"}]}
	]}`
	rec := doJSON(t, e, http.MethodPost, "/v1/chat/completions", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[ChatCompletionResponse](t, rec)
	if resp.Object != "chat.completion" || len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "hello" {
		t.Fatalf("response %+v", resp)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("finish reason %q", resp.Choices[0].FinishReason)
	}
	got := eng.last()
	if got.Prompt != "hi\nthere" || got.SystemPrompt != "be kind" || got.MaxTokens != 9 {
		t.Fatalf("request %+v", got)
	}
}

func TestChatCompletionsRejects(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, Config{Engine: &fakeEngine{}})
	cases := []struct {
		name string
		body string
	}{
		{name: "no messages", body: `{"messages":[]}`},
		{name: "multi turn", body: `{"messages":[{"role":"user","content":"a"},{"role":"assistant","content":"b"},{"role":"user","content":"c"}]}`},
		{name: "no user", body: `{"messages":[{"role":"system","content":"a"}]}`},
		{name: "bad content", body: `{"messages":[{"role":"user","content":42}]}`},
		{name: "stream", body: `{"stream":true,"messages":[{"role":"user","content":"a"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if rec := doJSON(t, e, http.MethodPost, "/v1/chat/completions", tc.body); rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestChatCompletionsRecordsAndLogsGeneration(t *testing.T) {
	t.Parallel()

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	var logs bytes.Buffer
	eng := &fakeEngine{err: fmt.Errorf("decode: %w", inference.ErrDecode)}
	e := newTestEcho(t, Config{
		Engine:  eng,
		History: store,
		Logger:  logger.JSON(&logs, slog.LevelInfo),
	})

	rec := doJSON(t, e, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}

	recs, err := store.Recent(context.Background(), 1)
	if err != nil || len(recs) != 1 {
		t.Fatalf("Recent: %v %v", recs, err)
	}
	if recs[0].Prompt != "hi" || recs[0].Error == "" {
		t.Fatalf("record %+v", recs[0])
	}
	if !strings.Contains(logs.String(), `"generation_id":"`+recs[0].ID+`"`) {
		t.Fatalf("failure log lacks generation id %s:\n%s", recs[0].ID, logs.String())
	}
}

func TestChatCompletionsQueueFull(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		chunks:  []string{"ok"},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	e := newTestEcho(t, Config{Engine: eng, MaxQueue: 1})

	done := make(chan int)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(`{"prompt":"first"}`))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		done <- rec.Code
	}()
	<-eng.started

	rec := doJSON(t, e, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"second"}]}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	close(eng.release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("first call: %d", code)
	}
}

func TestUTF8Carry(t *testing.T) {
	t.Parallel()

	var u utf8Carry
	euro := []byte("€")
	if got := u.Push(euro[:1]); got != "" {
		t.Fatalf("first byte leaked: %q", got)
	}
	if got := u.Push(euro[1:2]); got != "" {
		t.Fatalf("second byte leaked: %q", got)
	}
	if got := u.Push(append(euro[2:], 'x')); got != "€x" {
		t.Fatalf("got %q", got)
	}
	if got := u.Push([]byte{0xff}); got != "\xff" {
		t.Fatalf("invalid byte should pass through, got %q", got)
	}
	u.Push([]byte{0xe2})
	if got := u.Flush(); got != "\xe2" {
		t.Fatalf("flush %q", got)
	}
}

func TestStatusForWrapped(t *testing.T) {
	t.Parallel()
	err := errors.Join(errors.New("outer"), newInvalidRequest("bad"))
	if code, _ := statusFor(err); code != http.StatusBadRequest {
		t.Fatalf("got %d", code)
	}
}
