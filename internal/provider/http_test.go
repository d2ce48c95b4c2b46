package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProviderSymbol(t *testing.T) {
	cases := []struct {
		in, suffix, want string
	}{
		{"7203", ".T", "7203.T"},
		{"7203.T", ".T", "7203.T"},
		{"AAPL", ".T", "AAPL"},
		{"7203", "", "7203"},
	}
	for _, c := range cases {
		if got := providerSymbol(c.in, c.suffix); got != c.want {
			t.Errorf("providerSymbol(%q, %q) = %q, want %q", c.in, c.suffix, got, c.want)
		}
	}
}

func TestHTTPClientDailyBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "7203.T" {
			t.Errorf("symbol query = %q, want 7203.T", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"symbol":"7203.T","bars":[
			{"date":"2024-01-10","open":2800,"high":2850,"low":2790,"close":2840,"adj_close":2840,"volume":12000000},
			{"date":"2024-01-11","open":2845,"high":2900,"low":2840,"close":2890,"adj_close":2890,"volume":9000000}
		]}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key", ".T")
	bars, err := c.DailyBars(context.Background(),
		"7203",
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DailyBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	// Domain symbol, not the provider ticker, flows downstream.
	if bars[0].Symbol != "7203" {
		t.Errorf("Symbol = %q, want 7203", bars[0].Symbol)
	}
	if bars[1].Close != 2890 || bars[1].Volume != 9000000 {
		t.Errorf("second bar = %+v", bars[1])
	}
}

func TestHTTPClientNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such symbol", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", "")
	_, err := c.DailyBars(context.Background(), "0000", time.Now().AddDate(0, 0, -5), time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if IsTransient(err) {
		t.Error("not-found must not be classified transient")
	}
}

func TestHTTPClientTransientStatuses(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "busy", status)
		}))
		c := NewHTTPClient(srv.URL, "", "")
		_, err := c.DailyBars(context.Background(), "7203", time.Now().AddDate(0, 0, -5), time.Now())
		srv.Close()
		if !IsTransient(err) {
			t.Errorf("status %d: error = %v, want transient", status, err)
		}
	}
}

func TestHTTPClientMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"7203.T","bars":[{"date":"not-a-date","open":1}]}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", "")
	_, err := c.DailyBars(context.Background(), "7203", time.Now().AddDate(0, 0, -5), time.Now())
	if err == nil {
		t.Fatal("malformed payload should fail validation")
	}
}

func TestIsTransientIgnoresCancellation(t *testing.T) {
	if IsTransient(context.Canceled) {
		t.Error("context.Canceled must not be transient")
	}
	if IsTransient(Transient(context.Canceled)) {
		t.Error("wrapped cancellation must not be transient")
	}
	if !IsTransient(Transient(errors.New("timeout"))) {
		t.Error("wrapped plain error should be transient")
	}
}
