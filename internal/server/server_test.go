package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"yieldpilot/internal/app"
	"yieldpilot/internal/config"
	"yieldpilot/internal/db"
	"yieldpilot/internal/events"
	"yieldpilot/internal/llm"
	"yieldpilot/internal/migrate"
	"yieldpilot/internal/repo"
)

type stubCompleter struct {
	reply string
}

func (s *stubCompleter) Complete(_ context.Context, _, _ string) (string, error) {
	return s.reply, nil
}

type testServer struct {
	URL    string
	App    *app.App
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T, completer llm.Completer, auth AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()

	// Millisecond polling so simulated payments settle within the test.
	cfgYAML := strings.Replace(config.GenerateDefault(), "poll_interval_ms: 2000", "poll_interval_ms: 2", 1)
	if err := os.WriteFile(config.Path(workspace), []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a, err := app.New(app.Options{Workspace: workspace, Completer: completer})
	if err != nil {
		t.Fatalf("build app: %v", err)
	}

	handler, err := New(Config{App: a, BasePath: "/v1", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)

	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		App:    a,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			a.Close(ctx)
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func waitForStatus(t *testing.T, srv *testServer, jobID, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/status?job_id="+jobID, nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", res.StatusCode, string(data))
		}
		var job map[string]any
		if err := json.Unmarshal(data, &job); err != nil {
			t.Fatalf("unmarshal job: %v", err)
		}
		if job["status"] == want {
			return job
		}
		if st, _ := job["status"].(string); st == "failed" && want != "failed" {
			t.Fatalf("job failed: %v", job["error"])
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return nil
}

func TestRiskJobLifecycle(t *testing.T) {
	srv := newTestServer(t, &stubCompleter{reply: "Balanced two-protocol strategy."}, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/start_job", map[string]any{
		"agent_type": "risk",
		"input_data": map[string]any{
			"strategy": map[string]any{
				"recommended_allocations": []map[string]any{
					{"protocol": "minswap", "allocation_percent": 60, "expected_apr": 12},
					{"protocol": "liqwid", "allocation_percent": 40, "expected_apr": 8},
				},
			},
		},
		"identifier_from_purchaser": "buyer-1",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start_job status %d: %s", res.StatusCode, string(data))
	}
	var started struct {
		JobID          string `json:"job_id"`
		Status         string `json:"status"`
		PaymentRequest struct {
			PaymentID      string `json:"payment_id"`
			AmountLovelace int64  `json:"amount_lovelace"`
		} `json:"payment_request"`
	}
	if err := json.Unmarshal(data, &started); err != nil {
		t.Fatalf("unmarshal start: %v", err)
	}
	if started.Status != "awaiting_payment" {
		t.Fatalf("expected awaiting_payment, got %s", started.Status)
	}
	if started.PaymentRequest.AmountLovelace != 20000 {
		t.Fatalf("risk price: got %d", started.PaymentRequest.AmountLovelace)
	}

	job := waitForStatus(t, srv, started.JobID, "completed")
	result, _ := job["result"].(map[string]any)
	assessment, _ := result["assessment"].(map[string]any)
	if assessment == nil {
		t.Fatalf("missing assessment in result: %v", result)
	}
	if got := assessment["overall_risk_score"]; got != 30.2 {
		t.Fatalf("overall_risk_score: got %v, want 30.2", got)
	}
	if got := result["overall_risk_score"]; got != 30.2 {
		t.Fatalf("headline overall_risk_score: got %v, want 30.2", got)
	}
	if approved, _ := result["approved"].(bool); !approved {
		t.Fatal("expected approval")
	}
	if result["ai_analysis"] != "Balanced two-protocol strategy." {
		t.Fatalf("ai_analysis: %v", result["ai_analysis"])
	}

	// Lifecycle is visible in the event log.
	evRes, evData := doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs/"+started.JobID+"/events", nil, nil)
	if evRes.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", evRes.StatusCode, string(evData))
	}
	var events []map[string]any
	if err := json.Unmarshal(evData, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	seen := map[string]bool{}
	for _, e := range events {
		if typ, ok := e["type"].(string); ok {
			seen[typ] = true
		}
	}
	for _, want := range []string{"job.created", "job.payment_confirmed", "job.completed"} {
		if !seen[want] {
			t.Fatalf("missing event %s in %v", want, seen)
		}
	}
}

func TestStartJobUnknownAgentAllocatesNothing(t *testing.T) {
	srv := newTestServer(t, &stubCompleter{reply: "ok"}, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/start_job", map[string]any{
		"agent_type": "oracle",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "invalid_agent_type" && envelope.Error.Code != "bad_request" {
		t.Fatalf("error code: %s", envelope.Error.Code)
	}

	listRes, listData := doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs", nil, nil)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", listRes.StatusCode)
	}
	var jobsList []map[string]any
	if err := json.Unmarshal(listData, &jobsList); err != nil {
		t.Fatalf("unmarshal jobs: %v", err)
	}
	if len(jobsList) != 0 {
		t.Fatalf("rejected request allocated a job: %v", jobsList)
	}
}

func TestTerminalJobRejectsInputAndCancel(t *testing.T) {
	srv := newTestServer(t, &stubCompleter{reply: "ok"}, AuthConfig{})
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/start_job", map[string]any{
		"agent_type": "risk",
		"input_data": map[string]any{
			"transaction": map[string]any{"type": "dex_swap", "amount": 1000, "protocol": "minswap"},
		},
	}, nil)
	var started struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(data, &started); err != nil {
		t.Fatalf("unmarshal start: %v", err)
	}
	done := waitForStatus(t, srv, started.JobID, "completed")

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/provide_input", map[string]any{
		"job_id":           started.JobID,
		"additional_input": map[string]any{"positions": []any{}},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("provide_input on completed: got %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/jobs/"+started.JobID, nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("cancel on completed: got %d %s", res.StatusCode, string(body))
	}

	// Result survives both rejected mutations.
	after := waitForStatus(t, srv, started.JobID, "completed")
	if _, ok := after["result"]; !ok {
		t.Fatalf("result lost after rejected mutations: %v", after)
	}
	if done["updated_at"] == "" {
		t.Fatal("missing updated_at")
	}
}

func TestAvailabilityAndInputSchema(t *testing.T) {
	srv := newTestServer(t, &stubCompleter{reply: "ok"}, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/availability", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("availability status %d: %s", res.StatusCode, string(data))
	}
	var avail struct {
		Available bool `json:"available"`
		Agents    map[string]struct {
			Available     bool  `json:"available"`
			PriceLovelace int64 `json:"price_lovelace"`
		} `json:"agents"`
	}
	if err := json.Unmarshal(data, &avail); err != nil {
		t.Fatalf("unmarshal availability: %v", err)
	}
	if !avail.Available {
		t.Fatal("expected service available")
	}
	for _, at := range []string{"market", "strategy", "risk"} {
		if !avail.Agents[at].Available {
			t.Fatalf("agent %s unavailable: %+v", at, avail.Agents)
		}
	}
	if avail.Agents["strategy"].PriceLovelace != 50000 {
		t.Fatalf("strategy price: %d", avail.Agents["strategy"].PriceLovelace)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/input_schema?agent_type=risk", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("input_schema status %d: %s", res.StatusCode, string(data))
	}
	var schema struct {
		AgentType string           `json:"agent_type"`
		Fields    []map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	if schema.AgentType != "risk" || len(schema.Fields) == 0 {
		t.Fatalf("schema: %+v", schema)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/input_schema?agent_type=oracle", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus schema: got %d %s", res.StatusCode, string(data))
	}
}

func TestChatRequiresExistingConversation(t *testing.T) {
	srv := newTestServer(t, &stubCompleter{reply: "greeting|0.95"}, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/chat/message", map[string]any{
		"conversation_id": "nope",
		"message":         "hi",
	}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown conversation: got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/users", map[string]any{
		"email": "ada@example.com",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create user: %d %s", res.StatusCode, string(data))
	}
	var user struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &user); err != nil {
		t.Fatalf("unmarshal user: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/conversations", map[string]any{
		"user_id": user.ID,
		"title":   "first chat",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create conversation: %d %s", res.StatusCode, string(data))
	}
	var conv struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &conv); err != nil {
		t.Fatalf("unmarshal conversation: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/chat/message", map[string]any{
		"conversation_id": conv.ID,
		"message":         "hello there",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("chat: %d %s", res.StatusCode, string(data))
	}
	var chat struct {
		Reply string `json:"reply"`
	}
	if err := json.Unmarshal(data, &chat); err != nil {
		t.Fatalf("unmarshal chat: %v", err)
	}
	if !strings.Contains(chat.Reply, "YieldPilot") {
		t.Fatalf("greeting reply: %q", chat.Reply)
	}

	// Both turns were persisted.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/conversations/"+conv.ID+"/messages", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("messages: %d %s", res.StatusCode, string(data))
	}
	var msgs []map[string]any
	if err := json.Unmarshal(data, &msgs); err != nil {
		t.Fatalf("unmarshal messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
}

func TestPlanTransactionEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubCompleter{reply: "ok"}, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/transactions/plan", map[string]any{
		"type":         "lending_supply",
		"protocol":     "liqwid",
		"asset":        "ADA",
		"amount":       2500,
		"user_address": "addr_test1user",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("plan status %d: %s", res.StatusCode, string(data))
	}
	var plan struct {
		Transaction struct {
			Type   string `json:"type"`
			Status string `json:"status"`
		} `json:"transaction"`
		EstimatedFeeLovelace int64 `json:"estimated_fee_lovelace"`
	}
	if err := json.Unmarshal(data, &plan); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}
	if plan.Transaction.Status != "unsigned" {
		t.Fatalf("status: %s", plan.Transaction.Status)
	}
	if plan.EstimatedFeeLovelace != 470_000 {
		t.Fatalf("fee: %d", plan.EstimatedFeeLovelace)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/transactions/plan", map[string]any{
		"type": "teleport",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus type: got %d %s", res.StatusCode, string(data))
	}
}

func TestWebhookDispatcherDeliversJobEvents(t *testing.T) {
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	writer := events.Writer{DB: conn}
	ctx := context.Background()
	if err := writer.Append(ctx, events.JobCreated, "job-1", "risk", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := writer.Append(ctx, events.JobCompleted, "job-1", "risk", events.Payload{"ok": true}); err != nil {
		t.Fatalf("append: %v", err)
	}

	type delivery struct {
		event string
		body  webhookEvent
	}
	var got []delivery
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body webhookEvent
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Errorf("decode delivery: %v", err)
		}
		got = append(got, delivery{event: req.Header.Get("X-Yieldpilot-Event"), body: body})
	}))
	defer hook.Close()

	d := &webhookDispatcher{
		repo: repo.New(conn),
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		webhooks: []config.WebhookConfig{
			{URL: hook.URL, Events: []string{events.JobCompleted}},
		},
		client:  &http.Client{Timeout: time.Second},
		cursors: map[int]int64{0: 0},
	}
	d.dispatchAll()

	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].event != events.JobCompleted || got[0].body.JobID != "job-1" {
		t.Fatalf("delivery: %+v", got[0])
	}

	// Cursor advanced past the filtered event too; nothing redelivered.
	d.dispatchAll()
	if len(got) != 1 {
		t.Fatalf("redelivered: got %d deliveries", len(got))
	}
}

func TestJWTGuardsUserSurface(t *testing.T) {
	secret := "test-secret"
	srv := newTestServer(t, &stubCompleter{reply: "ok"}, AuthConfig{JWTSecret: secret})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/users/someone", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d: %s", res.StatusCode, string(data))
	}

	// The job protocol stays open, gated by payment instead.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/availability", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("availability should not require auth, got %d", res.StatusCode)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "someone",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/users/someone", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 with valid token, got %d: %s", res.StatusCode, string(data))
	}
}
