package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"dbprobe/internal/checker"
	"dbprobe/internal/db"
	"dbprobe/internal/db/dbtest"
	"dbprobe/internal/platform/health"
)

func fakeMonitor(drv *dbtest.Driver, targets map[db.Environment]db.Descriptor) (*Monitor, *bytes.Buffer) {
	var out bytes.Buffer
	c := checker.New(&out, checker.WithRegistry(db.NewRegistry(drv)))
	return New(c, targets, WithTimeout(time.Second)), &out
}

func TestCheckAll_RecordsLatest(t *testing.T) {
	m, out := fakeMonitor(&dbtest.Driver{}, map[db.Environment]db.Descriptor{
		db.Production:  {Driver: "fake", DSN: "fake://prod"},
		db.Development: {Driver: "fake", DSN: "fake://dev"},
	})

	if _, ok := m.Last(db.Production); ok {
		t.Fatalf("no report expected before the first check")
	}
	if failed := m.CheckAll(context.Background()); failed != 0 {
		t.Fatalf("failed=%d output=%q", failed, out.String())
	}
	for _, env := range m.Environments() {
		rep, ok := m.Last(env)
		if !ok || !rep.OK() {
			t.Fatalf("%s: ok=%v report=%+v", env, ok, rep)
		}
	}
	if envs := m.Environments(); envs[0] != db.Development || envs[1] != db.Production {
		t.Fatalf("environments not sorted: %v", envs)
	}
}

func TestReadiness(t *testing.T) {
	drv := &dbtest.Driver{ConnErr: &dbtest.CodeError{Kind: db.KindServerUnreachable, Code: "-1", Msg: "network-related error"}}
	m, _ := fakeMonitor(drv, map[db.Environment]db.Descriptor{
		db.Production: {Driver: "fake", DSN: "fake://prod"},
	})
	root := health.NewReadyGraph()
	m.RegisterReadiness(root)

	res := health.Evaluate(context.Background(), root)
	if res.Healthy || res.Deps["production"].Error != health.ErrPending.Error() {
		t.Fatalf("before first check: %+v", res)
	}

	m.CheckAll(context.Background())
	res = health.Evaluate(context.Background(), root)
	if res.Healthy || res.Deps["production"].Error != "server_unreachable: network-related error" {
		t.Fatalf("after failed check: %+v", res)
	}

	drv.ConnErr = nil
	m.CheckAll(context.Background())
	if res = health.Evaluate(context.Background(), root); !res.Healthy {
		t.Fatalf("after recovery: %+v", res)
	}
}

func TestProbeHandler(t *testing.T) {
	drv := &dbtest.Driver{}
	m, _ := fakeMonitor(drv, map[db.Environment]db.Descriptor{
		db.Production: {Driver: "fake", DSN: "fake://prod"},
	})
	h := m.ProbeHandler()

	call := func(method, target string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
		return rr
	}

	if rr := call(http.MethodGet, "/probe"); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing env status=%d", rr.Code)
	}
	if rr := call(http.MethodGet, "/probe?env=staging"); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown env status=%d", rr.Code)
	}
	if rr := call(http.MethodPost, "/probe?env=production"); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status=%d", rr.Code)
	}

	rr := call(http.MethodGet, "/probe?env=production")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Environment   string `json:"environment"`
		Outcome       string `json:"outcome"`
		ServerVersion string `json:"server_version"`
		FullVersion   string `json:"full_version"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode err=%v", err)
	}
	if body.Environment != "production" || body.Outcome != checker.OutcomeOK || body.FullVersion != "Fake Server 1.0.0" {
		t.Fatalf("body=%+v", body)
	}
	if _, ok := m.Last(db.Production); !ok {
		t.Fatalf("on-demand probe should refresh the latest report")
	}

	drv.ConnErr = &dbtest.CodeError{Kind: db.KindAuthentication, Code: "18456", Msg: "Login failed"}
	rr = call(http.MethodGet, "/probe?env=production")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("failed probe status=%d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Outcome != db.KindAuthentication.String() {
		t.Fatalf("outcome=%q err=%v", body.Outcome, err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	m, _ := fakeMonitor(&dbtest.Driver{}, map[db.Environment]db.Descriptor{
		db.Development: {Driver: "fake", DSN: "fake://dev"},
	})
	m.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := m.Last(db.Development); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("no check recorded")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestSQLiteTarget(t *testing.T) {
	var out bytes.Buffer
	m := New(checker.New(&out), map[db.Environment]db.Descriptor{
		db.Development: {Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "dev.db")},
		db.Production:  {Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "missing", "prod.db")},
	})

	if failed := m.CheckAll(context.Background()); failed != 1 {
		t.Fatalf("failed=%d output=%q", failed, out.String())
	}
	rep, _ := m.Last(db.Production)
	if rep.Err == nil || rep.Err.Kind != db.KindDatabaseNotFound {
		t.Fatalf("production report=%+v", rep)
	}
}
