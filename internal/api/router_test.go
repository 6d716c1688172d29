package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sidrisov/payflow/internal/chain"
	"github.com/sidrisov/payflow/internal/frame"
	"github.com/sidrisov/payflow/internal/models"
)

type fakeValidator struct {
	ev  *frame.InteractionEvent
	err error
}

func (f *fakeValidator) Validate(_ context.Context, _ []byte) (*frame.InteractionEvent, error) {
	return f.ev, f.err
}

type fakeWizard struct {
	result *frame.StepResult
	calls  int
}

func (f *fakeWizard) Entry(_ context.Context, receiver, _ string) (*frame.FrameResponse, error) {
	f.calls++
	return &frame.FrameResponse{ImageURL: "https://app.test/images/" + receiver}, nil
}

func (f *fakeWizard) step(_ context.Context, _ *frame.InteractionEvent) (*frame.StepResult, error) {
	f.calls++
	return f.result, nil
}

func (f *fakeWizard) SelectChain(ctx context.Context, ev *frame.InteractionEvent) (*frame.StepResult, error) {
	return f.step(ctx, ev)
}

func (f *fakeWizard) EnterAmount(ctx context.Context, ev *frame.InteractionEvent) (*frame.StepResult, error) {
	return f.step(ctx, ev)
}

func (f *fakeWizard) Confirm(ctx context.Context, ev *frame.InteractionEvent) (*frame.StepResult, error) {
	return f.step(ctx, ev)
}

func (f *fakeWizard) Comment(ctx context.Context, ev *frame.InteractionEvent) (*frame.StepResult, error) {
	return f.step(ctx, ev)
}

type fakeIngester struct {
	created bool
	jobs    []*models.BotJob
}

func (f *fakeIngester) Ingest(_ context.Context, job *models.BotJob) (bool, error) {
	f.jobs = append(f.jobs, job)
	return f.created, nil
}

type fakeWaker struct {
	kicks int
}

func (f *fakeWaker) Kick() { f.kicks++ }

func setupRouter(validator *fakeValidator, wizard *fakeWizard, ingester *fakeIngester, waker *fakeWaker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	NewRouter(validator, wizard, ingester, waker).SetupRoutes(engine)
	return engine
}

func TestStepRendersFrameHTML(t *testing.T) {
	wizard := &fakeWizard{result: &frame.StepResult{
		Frame: &frame.FrameResponse{
			ImageURL: "https://app.test/images/frame/chain.png",
			Buttons:  []frame.FrameButton{{Label: "base", Action: "post"}},
		},
	}}
	engine := setupRouter(&fakeValidator{ev: &frame.InteractionEvent{Button: 1}}, wizard, &fakeIngester{}, &fakeWaker{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/farcaster/frames/pay/chain", strings.NewReader("0xsigned"))
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %s, want text/html", ct)
	}
	if !strings.Contains(w.Body.String(), "fc:frame:button:1") {
		t.Error("Response is missing frame button meta tags")
	}
}

func TestStepRendersTxDescriptor(t *testing.T) {
	wizard := &fakeWizard{result: &frame.StepResult{
		Tx: &chain.TxCallDescriptor{ChainID: "eip155:8453", Method: "eth_sendTransaction"},
	}}
	engine := setupRouter(&fakeValidator{ev: &frame.InteractionEvent{Button: 1}}, wizard, &fakeIngester{}, &fakeWaker{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/farcaster/frames/pay/confirm", strings.NewReader("0xsigned"))
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %s, want application/json", ct)
	}
	if !strings.Contains(w.Body.String(), "eip155:8453") {
		t.Errorf("Body = %s, missing chain id", w.Body.String())
	}
}

func TestInvalidEventShortCircuits(t *testing.T) {
	wizard := &fakeWizard{}
	engine := setupRouter(&fakeValidator{err: frame.ErrInvalidEvent}, wizard, &fakeIngester{}, &fakeWaker{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/farcaster/frames/pay/amount", strings.NewReader("0xforged"))
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Status = %d, want 401", w.Code)
	}
	if wizard.calls != 0 {
		t.Error("Invalid events must never reach the wizard")
	}
}

func TestUnverifiableEventIs503(t *testing.T) {
	engine := setupRouter(&fakeValidator{err: frame.ErrUnverifiable}, &fakeWizard{}, &fakeIngester{}, &fakeWaker{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/farcaster/frames/pay/amount", strings.NewReader("0xsigned"))
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Status = %d, want 503", w.Code)
	}
}

func TestWebhookIngestsAndKicks(t *testing.T) {
	ingester := &fakeIngester{created: true}
	waker := &fakeWaker{}
	engine := setupRouter(&fakeValidator{}, &fakeWizard{}, ingester, waker)

	body := `{"type":"cast.created","data":{"hash":"0xjob","author":{"fid":200,"username":"bob"},"text":"@payflow send @alice 5 usdc"}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/farcaster/webhooks/bot", strings.NewReader(body))
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if len(ingester.jobs) != 1 {
		t.Fatalf("Ingested %d jobs, want 1", len(ingester.jobs))
	}
	job := ingester.jobs[0]
	if job.CastHash != "0xjob" || job.CasterFID != 200 {
		t.Errorf("Job = %+v", job)
	}
	if !strings.Contains(job.CastJSON, "@payflow send") {
		t.Error("Cast snapshot not preserved in job")
	}
	if waker.kicks != 1 {
		t.Errorf("Kicks = %d, want 1", waker.kicks)
	}
}

func TestWebhookDuplicateIsNoOp(t *testing.T) {
	ingester := &fakeIngester{created: false}
	waker := &fakeWaker{}
	engine := setupRouter(&fakeValidator{}, &fakeWizard{}, ingester, waker)

	body := `{"type":"cast.created","data":{"hash":"0xjob","author":{"fid":200},"text":"hi"}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/farcaster/webhooks/bot", strings.NewReader(body))
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "duplicate") {
		t.Errorf("Body = %s, want duplicate status", w.Body.String())
	}
	if waker.kicks != 0 {
		t.Error("Duplicate ingestion must not kick the pipeline")
	}
}

func TestHealth(t *testing.T) {
	engine := setupRouter(&fakeValidator{}, &fakeWizard{}, &fakeIngester{}, &fakeWaker{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
}
