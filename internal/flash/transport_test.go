package flash

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://flash.test"

func newTestClient(t *testing.T, cfg Config) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	cfg.BaseURL = testBaseURL
	cfg.HTTPClient = &http.Client{Transport: mt}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Millisecond
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = 5 * time.Millisecond
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg.Logger = logrus.NewEntry(logger)
	client, err := New(cfg)
	require.NoError(t, err)
	return client, mt
}

func TestBackoffSchedule_DoublesThenCaps(t *testing.T) {
	client, err := New(Config{BaseURL: testBaseURL})
	require.NoError(t, err)

	bo := client.newBackOff()
	var waits []time.Duration
	for i := 0; i < 6; i++ {
		waits = append(waits, bo.NextBackOff())
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}, waits)
}

func TestExecute_WaitsFollowBackoffSchedule(t *testing.T) {
	client, mt := newTestClient(t, Config{
		RetryBaseDelay: 20 * time.Millisecond,
		RetryMaxDelay:  50 * time.Millisecond,
	})

	var attempts []time.Time
	mt.RegisterResponder("GET", testBaseURL+"/flash/balance",
		func(req *http.Request) (*http.Response, error) {
			attempts = append(attempts, time.Now())
			return nil, errors.New("connection refused")
		})

	_, err := client.GetBalance(context.Background())
	require.Error(t, err)
	require.Len(t, attempts, 4)

	// Scheduler load can stretch waits but never shrink them: 20ms, then
	// doubled to 40ms, then capped at 50ms.
	assert.GreaterOrEqual(t, attempts[1].Sub(attempts[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, attempts[2].Sub(attempts[1]), 40*time.Millisecond)
	assert.GreaterOrEqual(t, attempts[3].Sub(attempts[2]), 50*time.Millisecond)
}

func TestExecute_TransientFailureRetriesThenSucceeds(t *testing.T) {
	client, mt := newTestClient(t, Config{})

	calls := 0
	mt.RegisterResponder("GET", testBaseURL+"/flash/balance",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls < 4 {
				return nil, errors.New("connection refused")
			}
			return httpmock.NewStringResponse(200, `{"balance": 42.5, "currency": "USD"}`), nil
		})

	balance, err := client.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42.5, balance.Balance)
	assert.Equal(t, 4, calls)
}

func TestExecute_TransientFailureExhaustsRetries(t *testing.T) {
	client, mt := newTestClient(t, Config{})

	calls := 0
	mt.RegisterResponder("GET", testBaseURL+"/flash/balance",
		func(req *http.Request) (*http.Response, error) {
			calls++
			return nil, errors.New("connection refused")
		})

	_, err := client.GetBalance(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindNetworkError, KindOf(err))
	// 1 initial try + 3 retries.
	assert.Equal(t, 4, calls)
}

func TestExecute_MalformedSuccessBodyIsTransient(t *testing.T) {
	client, mt := newTestClient(t, Config{})

	calls := 0
	mt.RegisterResponder("GET", testBaseURL+"/flash/balance",
		func(req *http.Request) (*http.Response, error) {
			calls++
			return httpmock.NewStringResponse(200, "<html>gateway</html>"), nil
		})

	_, err := client.GetBalance(context.Background())
	assert.Equal(t, KindNetworkError, KindOf(err))
	assert.Equal(t, 4, calls)
}

func TestExecute_RateLimitedNotRetried(t *testing.T) {
	client, mt := newTestClient(t, Config{})

	calls := 0
	mt.RegisterResponder("GET", testBaseURL+"/flash/balance",
		func(req *http.Request) (*http.Response, error) {
			calls++
			resp := httpmock.NewStringResponse(429, `{}`)
			resp.Header.Set("Retry-After", "120")
			return resp, nil
		})

	_, err := client.GetBalance(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindRateLimited, apiErr.Kind)
	assert.Equal(t, 120, apiErr.RetryAfter())
	assert.Equal(t, 1, calls)
}

func TestExecute_RateLimitedDefaultRetryAfter(t *testing.T) {
	client, mt := newTestClient(t, Config{})

	mt.RegisterResponder("GET", testBaseURL+"/flash/balance",
		httpmock.NewStringResponder(429, `{}`))

	_, err := client.GetBalance(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 60, apiErr.RetryAfter())
}

func TestExecute_RefreshAndRetryOnceOn401(t *testing.T) {
	client, mt := newTestClient(t, Config{})
	client.session.Apply("stale-token", "refresh-token", time.Hour)

	refreshCalls := 0
	mt.RegisterResponder("POST", testBaseURL+"/auth/refresh",
		func(req *http.Request) (*http.Response, error) {
			refreshCalls++
			return httpmock.NewStringResponse(200,
				`{"access_token": "fresh-token", "refresh_token": "fresh-refresh", "expires_in": 3600}`), nil
		})

	balanceCalls := 0
	mt.RegisterResponder("GET", testBaseURL+"/flash/balance",
		func(req *http.Request) (*http.Response, error) {
			balanceCalls++
			if req.Header.Get("Authorization") != "Bearer fresh-token" {
				return httpmock.NewStringResponse(401, `{}`), nil
			}
			return httpmock.NewStringResponse(200, `{"balance": 10, "currency": "USD"}`), nil
		})

	balance, err := client.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10.0, balance.Balance)
	assert.Equal(t, 1, refreshCalls)
	assert.Equal(t, 2, balanceCalls)
	assert.True(t, client.session.IsValid())
}

func TestExecute_401AfterRefreshFailsAndClearsSession(t *testing.T) {
	client, mt := newTestClient(t, Config{})
	client.session.Apply("stale-token", "refresh-token", time.Hour)

	mt.RegisterResponder("POST", testBaseURL+"/auth/refresh",
		httpmock.NewStringResponder(200,
			`{"access_token": "fresh-token", "refresh_token": "fresh-refresh", "expires_in": 3600}`))

	calls := 0
	mt.RegisterResponder("GET", testBaseURL+"/flash/balance",
		func(req *http.Request) (*http.Response, error) {
			calls++
			return httpmock.NewStringResponse(401, `{}`), nil
		})

	_, err := client.GetBalance(context.Background())
	assert.Equal(t, KindAuthenticationFailed, KindOf(err))
	assert.Equal(t, 2, calls)
	assert.False(t, client.session.IsValid())
}

func TestExecute_FailedRefreshClearsSession(t *testing.T) {
	client, mt := newTestClient(t, Config{})
	client.session.Apply("stale-token", "refresh-token", time.Hour)

	mt.RegisterResponder("POST", testBaseURL+"/auth/refresh",
		httpmock.NewStringResponder(401, `{"message": "refresh token revoked"}`))
	mt.RegisterResponder("GET", testBaseURL+"/flash/balance",
		httpmock.NewStringResponder(401, `{}`))

	_, err := client.GetBalance(context.Background())
	assert.Equal(t, KindAuthenticationFailed, KindOf(err))
	assert.False(t, client.session.IsValid())
}

func TestExecute_401WithoutRefreshToken(t *testing.T) {
	client, mt := newTestClient(t, Config{AuthToken: "stale-token"})

	calls := 0
	mt.RegisterResponder("GET", testBaseURL+"/flash/balance",
		func(req *http.Request) (*http.Response, error) {
			calls++
			return httpmock.NewStringResponse(401, `{}`), nil
		})

	_, err := client.GetBalance(context.Background())
	assert.Equal(t, KindAuthenticationFailed, KindOf(err))
	assert.Equal(t, 1, calls)
}

func TestExecute_StatusKindTable(t *testing.T) {
	cases := []struct {
		status int
		kind   ErrorKind
	}{
		{400, KindInvalidAmount},
		{403, KindInsufficientBalance},
		{404, KindUserNotFound},
		{500, KindBankAPIError},
		{502, KindBankAPIError},
		{503, KindBankAPIError},
		{418, KindNetworkError},
	}
	for _, tc := range cases {
		client, mt := newTestClient(t, Config{})
		mt.RegisterResponder("GET", testBaseURL+"/flash/balance",
			httpmock.NewStringResponder(tc.status, `{}`))
		_, err := client.GetBalance(context.Background())
		assert.Equal(t, tc.kind, KindOf(err), "status %d", tc.status)
	}
}

func TestExecute_BodyMessageOverridesStatusMessage(t *testing.T) {
	client, mt := newTestClient(t, Config{})
	mt.RegisterResponder("GET", testBaseURL+"/flash/balance",
		httpmock.NewStringResponder(403, `{"message": "daily limit reached"}`))

	_, err := client.GetBalance(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindInsufficientBalance, apiErr.Kind)
	assert.Equal(t, "daily limit reached", apiErr.Message)
}

func TestExecute_BodyCodeOverridesStatusKind(t *testing.T) {
	client, mt := newTestClient(t, Config{})
	mt.RegisterResponder("GET", testBaseURL+"/flash/balance",
		httpmock.NewStringResponder(400,
			`{"code": "SETTLEMENT_LIMIT_EXCEEDED", "message": "limit exceeded"}`))

	_, err := client.GetBalance(context.Background())
	assert.Equal(t, KindSettlementLimitExceeded, KindOf(err))
}

func TestExecute_NonJSONErrorBodyIgnored(t *testing.T) {
	client, mt := newTestClient(t, Config{})
	mt.RegisterResponder("GET", testBaseURL+"/flash/balance",
		httpmock.NewStringResponder(500, "upstream exploded"))

	_, err := client.GetBalance(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindBankAPIError, apiErr.Kind)
	assert.Contains(t, apiErr.Message, "HTTP")
}

func TestGraphQL_ProtocolErrorUsesExtensionsCode(t *testing.T) {
	client, mt := newTestClient(t, Config{})
	mt.RegisterResponder("POST", testBaseURL+"/graphql",
		httpmock.NewStringResponder(200,
			`{"data": null, "errors": [{"message": "account not found", "extensions": {"code": "USER_NOT_FOUND"}}]}`))

	_, err := client.graphQL(context.Background(), "query { me { id } }", nil, false)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindUserNotFound, apiErr.Kind)
	assert.Equal(t, "account not found", apiErr.Message)
}

func TestGraphQL_ProtocolErrorUnknownCodeFallsBack(t *testing.T) {
	client, mt := newTestClient(t, Config{})
	mt.RegisterResponder("POST", testBaseURL+"/graphql",
		httpmock.NewStringResponder(200,
			`{"data": null, "errors": [{"message": "boom", "extensions": {"code": "SOMETHING_ELSE"}}]}`))

	_, err := client.graphQL(context.Background(), "query { me { id } }", nil, false)
	assert.Equal(t, KindNetworkError, KindOf(err))
}

func TestHeaders_APIKeyIndependentOfAuth(t *testing.T) {
	client, mt := newTestClient(t, Config{APIKey: "k-123", AuthToken: "stale-token"})

	var gotAuth, gotAPIKey string
	mt.RegisterResponder("POST", testBaseURL+"/graphql",
		func(req *http.Request) (*http.Response, error) {
			gotAuth = req.Header.Get("Authorization")
			gotAPIKey = req.Header.Get("X-API-Key")
			return httpmock.NewStringResponse(200, `{"data": {}}`), nil
		})

	// Unauthenticated call: no bearer even with a stale token, API key still present.
	_, err := client.graphQL(context.Background(), "query { me { id } }", nil, false)
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
	assert.Equal(t, "k-123", gotAPIKey)

	_, err = client.graphQL(context.Background(), "query { me { id } }", nil, true)
	require.NoError(t, err)
	assert.Equal(t, "Bearer stale-token", gotAuth)
	assert.Equal(t, "k-123", gotAPIKey)
}

func TestExecute_ContentTypeAlwaysJSON(t *testing.T) {
	client, mt := newTestClient(t, Config{})
	mt.RegisterResponder("GET", testBaseURL+"/flash/balance",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			return httpmock.NewStringResponse(200, `{"balance": 0, "currency": "USD"}`), nil
		})

	_, err := client.GetBalance(context.Background())
	require.NoError(t, err)
}

func TestExecute_CancellationStopsBackoff(t *testing.T) {
	client, mt := newTestClient(t, Config{RetryBaseDelay: time.Second, RetryMaxDelay: 10 * time.Second})
	mt.RegisterResponder("GET", testBaseURL+"/flash/balance",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.GetBalance(ctx)
	assert.Equal(t, KindNetworkError, KindOf(err))
	// The 1s backoff window must be abandoned as soon as the context dies.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRestInto_DecodesPayload(t *testing.T) {
	client, mt := newTestClient(t, Config{})
	mt.RegisterResponder("GET", testBaseURL+"/flash/topup-status/abc",
		httpmock.NewStringResponder(200, `{"id": "abc", "status": "completed", "updated_at": "2026-01-01T00:00:00Z"}`))

	status, err := client.TopupStatus(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
}

func TestGraphQL_RequestBodyShape(t *testing.T) {
	client, mt := newTestClient(t, Config{})

	var body map[string]interface{}
	mt.RegisterResponder("POST", testBaseURL+"/graphql",
		func(req *http.Request) (*http.Response, error) {
			raw, _ := io.ReadAll(req.Body)
			require.NoError(t, json.Unmarshal(raw, &body))
			return httpmock.NewStringResponse(200, `{"data": {}}`), nil
		})

	_, err := client.graphQL(context.Background(), "query Q { me { id } }",
		map[string]interface{}{"x": 1}, false)
	require.NoError(t, err)
	assert.Equal(t, "query Q { me { id } }", body["query"])
	assert.Equal(t, map[string]interface{}{"x": float64(1)}, body["variables"])
}
