package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/example/ride-rewards/internal/models"
)

var errAlreadyRewarded = errors.New("ride already rewarded")

// permanentError is a rejection that will not change on retry.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Minter defines the one call we need, so tests can swap the HTTP client.
type Minter interface {
	Mint(ctx context.Context, req models.RideRewardRequest) error
}

type httpMinter struct {
	url       string
	authority models.Address
	client    *http.Client
}

func newHTTPMinter(url string, authority models.Address, timeout time.Duration) *httpMinter {
	return &httpMinter{url: url, authority: authority, client: &http.Client{Timeout: timeout}}
}

func (h *httpMinter) Mint(ctx context.Context, req models.RideRewardRequest) error {
	b, err := json.Marshal(req)
	if err != nil {
		return &permanentError{err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(b))
	if err != nil {
		return &permanentError{err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Caller-Address", h.authority.String())
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return errAlreadyRewarded
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("mint: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	default:
		return &permanentError{err: fmt.Errorf("mint: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))}
	}
}

// mintWithRetry retries transient failures with exponential backoff. Reusing
// the transaction id is safe because a failed mint releases it.
func mintWithRetry(ctx context.Context, m Minter, req models.RideRewardRequest, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = m.Mint(ctx, req)
		var perm *permanentError
		if err == nil || errors.Is(err, errAlreadyRewarded) || errors.As(err, &perm) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
