package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"praxis/internal/config"
	"praxis/internal/processor"
	"praxis/internal/queue"
	"praxis/internal/testsupport"
)

func startedDaemon(t *testing.T, opts ...testsupport.ConfigOption) (*Daemon, string) {
	t.Helper()
	d, _, release := newTestDaemon(t, opts...)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)
	// Cleanups run LIFO: release the in-flight item before Stop waits on it.
	t.Cleanup(func() { close(release) })
	addr := d.APIAddr()
	if addr == "" {
		t.Fatal("api server not listening")
	}
	return d, "http://" + addr
}

func submitViaAPI(t *testing.T, base, requester, query string) submitResponse {
	t.Helper()
	body, _ := json.Marshal(submitRequest{Requester: requester, Query: query, Origin: "chan-" + requester})
	resp, err := http.Post(base+"/api/queue", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/queue: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/queue status = %d", resp.StatusCode)
	}
	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	return decoded
}

func TestAPISubmitListAndCancel(t *testing.T) {
	_, base := startedDaemon(t)

	first := submitViaAPI(t, base, "alice", "first query")
	second := submitViaAPI(t, base, "bob", "second query")
	if second.Position != 1 {
		t.Fatalf("expected second item at position 1, got %d", second.Position)
	}

	resp, err := http.Get(base + "/api/queue")
	if err != nil {
		t.Fatalf("GET /api/queue: %v", err)
	}
	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	resp.Body.Close()
	if len(list.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(list.Items))
	}

	resp, err = http.Get(base + "/api/queue/" + second.Item.ID)
	if err != nil {
		t.Fatalf("GET /api/queue/{id}: %v", err)
	}
	var described itemResponse
	if err := json.NewDecoder(resp.Body).Decode(&described); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	resp.Body.Close()
	if described.Item.ID != second.Item.ID || described.Position != 1 {
		t.Fatalf("unexpected item response: %+v", described)
	}

	req, _ := http.NewRequest(http.MethodDelete, base+"/api/queue/"+second.Item.ID+"?requester=bob", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /api/queue/{id}: %v", err)
	}
	var cancelled cancelResponse
	if err := json.NewDecoder(resp.Body).Decode(&cancelled); err != nil {
		t.Fatalf("decode cancel: %v", err)
	}
	resp.Body.Close()
	if !cancelled.Removed {
		t.Fatal("expected cancellation to remove the queued item")
	}

	resp, err = http.Get(base + "/api/queue/" + second.Item.ID)
	if err != nil {
		t.Fatalf("GET removed item: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for removed item, got %d", resp.StatusCode)
	}
	_ = first
}

func TestAPIValidationAndCapacityStatusCodes(t *testing.T) {
	_, base := startedDaemon(t, testsupport.WithCapacity(1))

	body, _ := json.Marshal(submitRequest{Requester: "alice", Query: "   "})
	resp, err := http.Post(base+"/api/queue", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank query status = %d, want 400", resp.StatusCode)
	}

	submitViaAPI(t, base, "alice", "fills the queue")
	body, _ = json.Marshal(submitRequest{Requester: "bob", Query: "over capacity", Origin: "chan-bob"})
	resp, err = http.Post(base+"/api/queue", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("over-capacity status = %d, want 429", resp.StatusCode)
	}
}

func TestAPIStatusAndHealth(t *testing.T) {
	_, base := startedDaemon(t)

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	resp.Body.Close()
	if !status.Running || status.Queue.Capacity == 0 {
		t.Fatalf("unexpected status: %+v", status)
	}

	resp, err = http.Get(base + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	var health queue.DatabaseHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !health.Healthy() {
		t.Fatalf("unexpected health response: %d %+v", resp.StatusCode, health)
	}
}

func TestAPIBearerAuth(t *testing.T) {
	_, base := startedDaemon(t, func(cfg *config.Config) {
		cfg.Paths.APIToken = "sekret"
	})

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET without token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, base+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer sekret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestWebsocketStreamsSnapshots(t *testing.T) {
	d, base := startedDaemon(t)

	wsURL := "ws" + base[len("http"):] + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial processor.Snapshot
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if initial.QueueSize != 0 {
		t.Fatalf("expected empty initial snapshot, got %+v", initial)
	}

	submitViaAPI(t, base, "alice", "websocket broadcast query")

	// Each mutation broadcasts a fresh snapshot; read until the submitted
	// item shows up.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("no snapshot with the submitted item arrived")
		}
		var snap processor.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
		if snap.QueueSize >= 1 {
			break
		}
	}
	_ = d
}

func TestAPIUnknownStatusFilterRejected(t *testing.T) {
	_, base := startedDaemon(t)
	resp, err := http.Get(base + "/api/queue?status=bogus")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status filter, got %d", resp.StatusCode)
	}
}
