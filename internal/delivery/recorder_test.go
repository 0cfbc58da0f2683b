package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type capture struct {
	mu    sync.Mutex
	forms []url.Values
}

func (c *capture) last() url.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.forms) == 0 {
		return nil
	}
	return c.forms[len(c.forms)-1]
}

func recorderServer(t *testing.T, status int, body string) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			c.mu.Lock()
			c.forms = append(c.forms, r.PostForm)
			c.mu.Unlock()
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func finalEntry() model.Entry {
	rec := model.FinalRecord{
		Identity:  model.Identity{LastName: "Rivera", FirstName: "Ana", Code: "EX1"},
		Score:     "1/3",
		Correct:   []string{"Q001 A"},
		Mistakes:  []string{"Q002 B"},
		StartTime: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}
	return model.Entry{ID: "e1", Action: model.ActionRecordResults, Fields: rec.Fields()}
}

func TestRecorder_FinalRecordAcknowledged(t *testing.T) {
	srv, c := recorderServer(t, http.StatusOK, `{"success": true}`)
	r := NewRecorder(srv.URL, 2*time.Second, zerolog.Nop())

	if err := r.Send(context.Background(), finalEntry()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	form := c.last()
	checks := map[string]string{
		"action":    model.ActionRecordResults,
		"lastName":  "Rivera",
		"score":     "1/3",
		"correct":   "Q001 A",
		"mistakes":  "Q002 B",
		"startTime": "2026-03-01T09:00:00Z",
		"date":      "2026-03-01",
	}
	for k, want := range checks {
		if got := form.Get(k); got != want {
			t.Errorf("form[%s] = %q, want %q", k, got, want)
		}
	}
}

func TestRecorder_FinalRecordRejections(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		serverSide bool
	}{
		{"success false", http.StatusOK, `{"success": false, "message": "sheet locked"}`, true},
		{"not json", http.StatusOK, `<html>ok</html>`, true},
		{"server error", http.StatusInternalServerError, `{"success": true}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := recorderServer(t, tc.status, tc.body)
			r := NewRecorder(srv.URL, 2*time.Second, zerolog.Nop())

			err := r.Send(context.Background(), finalEntry())
			var ne *NetworkError
			if !errors.As(err, &ne) {
				t.Fatalf("err = %v, want NetworkError", err)
			}
			if ne.ServerSide() != tc.serverSide {
				t.Errorf("ServerSide = %v", ne.ServerSide())
			}
		})
	}
}

func TestRecorder_PartialRecordAcceptsAny2xx(t *testing.T) {
	srv, c := recorderServer(t, http.StatusOK, "queued")
	r := NewRecorder(srv.URL, 2*time.Second, zerolog.Nop())

	rec := model.PartialRecord{
		Identity:  model.Identity{LastName: "Rivera", FirstName: "Ana", Code: "EX1"},
		Answers:   map[string]string{"Q001": "A"},
		Timestamp: time.Date(2026, 3, 1, 9, 10, 0, 0, time.UTC),
	}
	e := model.Entry{ID: "p1", Action: model.ActionRecordPartial, Fields: rec.Fields()}
	if err := r.Send(context.Background(), e); err != nil {
		t.Fatalf("Send: %v", err)
	}
	form := c.last()
	if form.Get("status") != "aborted" || form.Get("submittedAnswers") != `{"Q001":"A"}` {
		t.Errorf("form = %v", form)
	}
}

func TestRecorder_TransportFailure(t *testing.T) {
	srv, _ := recorderServer(t, http.StatusOK, "")
	addr := srv.URL
	srv.Close()

	r := NewRecorder(addr, 500*time.Millisecond, zerolog.Nop())
	err := r.Send(context.Background(), finalEntry())
	var ne *NetworkError
	if !errors.As(err, &ne) || ne.ServerSide() {
		t.Fatalf("err = %v, want transport NetworkError", err)
	}
	if r.Online(context.Background()) {
		t.Error("Online reported true for a closed server")
	}
}

func TestRecorder_Online(t *testing.T) {
	srv, _ := recorderServer(t, http.StatusMethodNotAllowed, "")
	r := NewRecorder(srv.URL, time.Second, zerolog.Nop())
	if !r.Online(context.Background()) {
		t.Error("any reply should count as online")
	}
}
