// Package source fetches question sets from the remote answer API.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/delivery"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/valyala/fasthttp"
)

// Client reads getAllQuestionsAndAnswers from the same endpoint the recorder
// posts to.
type Client struct {
	client  *fasthttp.Client
	url     string
	timeout time.Duration
	log     zerolog.Logger
}

// NewClient creates a Client for the endpoint url.
func NewClient(url string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		client:  &fasthttp.Client{Name: "exstem-proctor", ReadTimeout: timeout, WriteTimeout: timeout},
		url:     url,
		timeout: timeout,
		log:     log.With().Str("component", "question_source").Logger(),
	}
}

// Fetch returns the raw question payload for an exam code. Transport
// failures and non-2xx replies are returned as *delivery.NetworkError.
func (c *Client) Fetch(ctx context.Context, examCode string) (*model.SourcePayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url)
	q := req.URI().QueryArgs()
	q.Set("action", "getAllQuestionsAndAnswers")
	q.Set("code", strings.ToUpper(examCode))
	req.Header.SetMethod(fasthttp.MethodGet)

	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}

	if err := c.client.DoTimeout(req, resp, timeout); err != nil {
		return nil, &delivery.NetworkError{Op: "fetch questions", Err: err}
	}
	if status := resp.StatusCode(); status < 200 || status > 299 {
		return nil, &delivery.NetworkError{Op: "fetch questions", StatusCode: status, Err: errors.New("non-success status")}
	}

	var p model.SourcePayload
	if err := json.Unmarshal(resp.Body(), &p); err != nil {
		return nil, fmt.Errorf("decode question payload: %w", err)
	}

	c.log.Debug().Str("exam_code", examCode).Int("items", len(p.Items())).Msg("Questions fetched")
	return &p, nil
}
