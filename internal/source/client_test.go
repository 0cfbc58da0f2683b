package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/delivery"
)

func TestClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") != "getAllQuestionsAndAnswers" || r.URL.Query().Get("code") != "EX1" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"defaultTimerSeconds": 40, "questionsMap": [{"code": "Q1", "question": "2+2", "answer": "4"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zerolog.Nop())
	p, err := c.Fetch(context.Background(), "ex1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.DefaultTimerSeconds != 40 || len(p.Items()) != 1 || p.Items()[0].Question != "2+2" {
		t.Errorf("payload = %+v", p)
	}
}

func TestClient_FetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("code") == "BROKEN" {
			_, _ = w.Write([]byte("not json"))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, time.Second, zerolog.Nop())

	_, err := c.Fetch(context.Background(), "EX1")
	var ne *delivery.NetworkError
	if !errors.As(err, &ne) || ne.StatusCode != http.StatusBadGateway {
		t.Errorf("err = %v, want NetworkError 502", err)
	}

	_, err = c.Fetch(context.Background(), "broken")
	if err == nil || errors.As(err, &ne) {
		t.Errorf("err = %v, want decode error", err)
	}
}
