package webhooks

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lendcore/crypto"
	"lendcore/native/comptroller"
)

func TestDispatcherSignsPayload(t *testing.T) {
	var (
		mu        sync.Mutex
		signature string
		body      []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		signature = r.Header.Get("X-Risk-Signature")
		body = data
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithHeight(func() uint64 { return 42 }))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	dispatcher.Emit(comptroller.PauseChanged{Action: "seize", Current: true})
	received := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signature != ""
	}
	waitFor(received, time.Second)
	if !received() {
		t.Fatalf("expected signature header")
	}
	mu.Lock()
	defer mu.Unlock()
	if signature != Sign([]byte("secret"), body) {
		t.Fatalf("signature %s does not match body", signature)
	}
	var payload EffectPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.DeliveryID == "" || payload.EmittedAt.IsZero() {
		t.Fatalf("payload not stamped: %+v", payload)
	}
	if payload.Type != comptroller.EventTypePauseChanged || payload.Height != 42 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Attributes["action"] != "seize" {
		t.Fatalf("attributes not forwarded: %+v", payload.Attributes)
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	dispatcher.Emit(comptroller.ParameterChanged{Name: "max_assets", Previous: "0", Current: "20"})
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestDispatcherFiltersTopics(t *testing.T) {
	var types sync.Map
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		types.Store(r.Header.Get("X-Risk-Event"), true)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"),
		WithTopics(comptroller.EventTypePauseChanged),
		WithHeight(func() uint64 { return 9 }))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	market := crypto.NewAddress(crypto.MarketPrefix, bytes.Repeat([]byte{0x11}, crypto.AddressLength))
	dispatcher.Emit(comptroller.MarketListed{Market: market})
	dispatcher.Emit(comptroller.PauseChanged{Action: "mint", Market: market, Current: true})

	waitFor(func() bool {
		_, ok := types.Load(comptroller.EventTypePauseChanged)
		return ok
	}, time.Second)
	if _, ok := types.Load(comptroller.EventTypePauseChanged); !ok {
		t.Fatalf("pause effect not delivered")
	}
	if _, ok := types.Load(comptroller.EventTypeMarketListed); ok {
		t.Fatalf("filtered effect delivered")
	}
}

func TestNewDispatcherValidates(t *testing.T) {
	if _, err := NewDispatcher(" ", []byte("secret")); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := NewDispatcher("http://localhost", nil); err == nil {
		t.Fatalf("expected secret error")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}
