package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/valyala/fasthttp"
)

// Sender delivers one entry. A nil error means the remote side acknowledged it.
type Sender interface {
	Send(ctx context.Context, e model.Entry) error
}

// Probe reports whether the network is reachable.
type Probe interface {
	Online(ctx context.Context) bool
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) bool

func (f ProbeFunc) Online(ctx context.Context) bool { return f(ctx) }

// AlwaysOnline is a Probe that never reports offline.
var AlwaysOnline Probe = ProbeFunc(func(context.Context) bool { return true })

// Recorder posts form-encoded records to the remote answer API.
type Recorder struct {
	client  *fasthttp.Client
	url     string
	timeout time.Duration
	log     zerolog.Logger
}

// NewRecorder creates a Recorder for the endpoint url.
func NewRecorder(url string, timeout time.Duration, log zerolog.Logger) *Recorder {
	return &Recorder{
		client: &fasthttp.Client{
			Name:                "exstem-proctor",
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
		url:     url,
		timeout: timeout,
		log:     log.With().Str("component", "recorder").Logger(),
	}
}

type recorderReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Send implements Sender. Final records count as delivered only when the
// reply is JSON with success set; partial records on any 2xx.
func (r *Recorder) Send(ctx context.Context, e model.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	for k, v := range e.Fields {
		args.Set(k, v)
	}
	if _, ok := e.Fields["action"]; !ok {
		args.Set("action", e.Action)
	}

	req.SetRequestURI(r.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.SetBody(args.QueryString())

	if err := r.client.DoTimeout(req, resp, r.deadline(ctx)); err != nil {
		return &NetworkError{Op: e.Action, Err: err}
	}

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		return &NetworkError{Op: e.Action, StatusCode: status, Err: errors.New("non-success status")}
	}
	if e.Action != model.ActionRecordResults {
		return nil
	}

	var reply recorderReply
	if err := json.Unmarshal(resp.Body(), &reply); err != nil {
		return &NetworkError{Op: e.Action, StatusCode: status, Err: errors.New("reply is not JSON")}
	}
	if !reply.Success {
		msg := reply.Message
		if msg == "" {
			msg = "recorder did not confirm"
		}
		return &NetworkError{Op: e.Action, StatusCode: status, Err: errors.New(msg)}
	}

	r.log.Debug().Str("entry_id", e.ID).Str("action", e.Action).Msg("Record delivered")
	return nil
}

// Online implements Probe by asking the recorder endpoint for any reply.
func (r *Recorder) Online(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.url)
	req.Header.SetMethod(fasthttp.MethodHead)
	resp.SkipBody = true

	return r.client.DoTimeout(req, resp, r.deadline(ctx)) == nil
}

func (r *Recorder) deadline(ctx context.Context) time.Duration {
	timeout := r.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	return timeout
}
