package flash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const defaultRetryAfterSeconds = 60

// transientError marks a failure where the request never reliably reached or
// returned from the server: connection failures, timeouts, and malformed
// success payloads. Well-formed error responses are never transient.
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// unauthorizedError is the attempt-level signal for a 401 on an
// authenticated call; the executor decides whether to refresh or give up.
type unauthorizedError struct{}

func (unauthorizedError) Error() string { return "unauthorized" }

// apiRequest is one logical call against either protocol shape.
type apiRequest struct {
	method        string
	path          string
	body          interface{}
	authenticated bool
	graphql       bool
}

type graphqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

type graphqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// graphQL executes a query against the single GraphQL endpoint and returns
// the data field. Unauthenticated calls never attach a bearer header, even
// when a stale token is present.
func (c *Client) graphQL(ctx context.Context, query string, variables map[string]interface{}, authenticated bool) (json.RawMessage, error) {
	if variables == nil {
		variables = map[string]interface{}{}
	}
	return c.execute(ctx, &apiRequest{
		method:        http.MethodPost,
		path:          "/graphql",
		body:          map[string]interface{}{"query": query, "variables": variables},
		authenticated: authenticated,
		graphql:       true,
	})
}

// rest executes a call against a REST endpoint under the base URL.
func (c *Client) rest(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	return c.execute(ctx, &apiRequest{
		method:        method,
		path:          path,
		body:          body,
		authenticated: true,
	})
}

// restInto is rest plus decoding of the response payload.
func (c *Client) restInto(ctx context.Context, method, path string, body, out interface{}) error {
	payload, err := c.rest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return newAPIError(KindNetworkError, "malformed response payload").withCause(err)
	}
	return nil
}

// newBackOff builds the retry schedule: the base delay doubling on each
// attempt up to the cap, with no jitter so waits are predictable.
func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.baseDelay
	bo.MaxInterval = c.maxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// execute drives the retry policy around single attempts. One attempt budget
// covers both axes: a silent refresh is allowed only from the first attempt
// and consumes a slot, and transient failures retry with exponential backoff
// until the budget is spent. A logical call therefore issues at most
// 1+maxRetries HTTP requests.
func (c *Client) execute(ctx context.Context, req *apiRequest) (json.RawMessage, error) {
	bo := c.newBackOff()

	attempt := 0
	for {
		payload, err := c.attempt(ctx, req)
		if err == nil {
			return payload, nil
		}

		switch e := err.(type) {
		case *transientError:
			if attempt >= c.maxRetries {
				return nil, newAPIError(KindNetworkError, "network error: "+e.err.Error()).
					withDetail("attempts", attempt+1).
					withCause(e.err)
			}
			wait := bo.NextBackOff()
			c.log.WithFields(map[string]interface{}{
				"path":    req.path,
				"attempt": attempt + 1,
				"wait":    wait.String(),
			}).Debug("transient failure, retrying")
			select {
			case <-ctx.Done():
				return nil, newAPIError(KindNetworkError, "request cancelled").withCause(ctx.Err())
			case <-time.After(wait):
			}
			attempt++

		case unauthorizedError:
			if attempt == 0 && c.session.RefreshToken() != "" {
				if rerr := c.RefreshAuthToken(ctx); rerr != nil {
					return nil, rerr
				}
				attempt++
				continue
			}
			// Out of refresh budget; whatever token we hold is unusable.
			c.session.Clear()
			c.setAuthState(StateUnauthenticated)
			return nil, newAPIError(KindAuthenticationFailed, "authentication failed, please log in again")

		default:
			return nil, err
		}
	}
}

// attempt performs exactly one HTTP round trip and classifies the outcome.
func (c *Client) attempt(ctx context.Context, req *apiRequest) (json.RawMessage, error) {
	var bodyReader io.Reader
	if req.body != nil {
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return nil, newAPIError(KindNetworkError, "encoding request body").withCause(err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, bodyReader)
	if err != nil {
		return nil, newAPIError(KindNetworkError, "building request").withCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.authenticated {
		if h := c.session.AuthorizationHeader(); h != "" {
			httpReq.Header.Set("Authorization", h)
		}
	}
	// The API key rides along regardless of auth state.
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &transientError{err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, newAPIError(KindRateLimited, "rate limited, please try again later").
			withDetail("retryAfter", parseRetryAfter(resp.Header.Get("Retry-After")))
	}

	if resp.StatusCode == http.StatusUnauthorized && req.authenticated {
		return nil, unauthorizedError{}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errorFromResponse(resp.StatusCode, resp.Status, raw)
	}

	if req.graphql {
		var envelope graphqlEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, &transientError{err: err}
		}
		if len(envelope.Errors) > 0 {
			first := envelope.Errors[0]
			message := first.Message
			if message == "" {
				message = "graphql error occurred"
			}
			return nil, newAPIError(kindForCode(first.Extensions.Code), message).
				withDetail("errors", envelope.Errors)
		}
		return envelope.Data, nil
	}

	if !json.Valid(raw) {
		return nil, &transientError{err: fmt.Errorf("invalid JSON response")}
	}
	return raw, nil
}

// errorFromResponse classifies a well-formed non-success response. The body's
// own message and code, when present, override the status-derived defaults.
func errorFromResponse(statusCode int, status string, raw []byte) *APIError {
	kind := kindForStatus(statusCode)
	message := fmt.Sprintf("HTTP %s", status)

	var body map[string]interface{}
	// A non-JSON error body is ignored, not fatal.
	if err := json.Unmarshal(raw, &body); err == nil {
		if m, ok := body["message"].(string); ok && m != "" {
			message = m
		}
		if code, ok := body["code"].(string); ok && knownKinds[ErrorKind(code)] {
			kind = ErrorKind(code)
		}
	}

	apiErr := newAPIError(kind, message).withDetail("status", statusCode)
	for k, v := range body {
		if k != "message" {
			apiErr.Details[k] = v
		}
	}
	return apiErr
}

func parseRetryAfter(header string) int {
	if header == "" {
		return defaultRetryAfterSeconds
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return defaultRetryAfterSeconds
	}
	return seconds
}
