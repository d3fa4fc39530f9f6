package boundary

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/railsync/railsync/document"
	"github.com/railsync/railsync/log/logtest"
)

func newTestRouter(tb testing.TB, cfg RouterConfig) (*httptest.Server, afero.Fs) {
	tb.Helper()
	fs := afero.NewMemMapFs()
	svc, _ := newTestService(tb, fs)
	r := NewRouter(cfg, svc,
		WithRouterLogger(logtest.New(tb)),
		WithRegistry(prometheus.NewRegistry()),
	)
	srv := httptest.NewServer(r.Handler)
	tb.Cleanup(srv.Close)
	return srv, fs
}

func do(tb testing.TB, method, url, body string) *http.Response {
	tb.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(tb, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(tb, err)
	tb.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(tb testing.TB, resp *http.Response) document.Document {
	tb.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(tb, err)
	doc, err := document.Decode(data)
	require.NoError(tb, err)
	return doc
}

func TestRouterHealth(t *testing.T) {
	srv, _ := newTestRouter(t, DefaultRouterConfig())
	resp := do(t, http.MethodGet, srv.URL+"/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestRouterWriteRead(t *testing.T) {
	srv, _ := newTestRouter(t, DefaultRouterConfig())

	resp := do(t, http.MethodPost, srv.URL+"/v1/unit_controller/units?unit=unit_2",
		`{"unit_2": {"outputs": {"kp": 50}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(RequestIDHeader))
	doc := decodeBody(t, resp)
	entity, ok := doc.Entity("unit_2")
	require.True(t, ok)
	require.Equal(t, json.Number("50"), entity["outputs"].(map[string]any)["kp"])

	resp = do(t, http.MethodGet, srv.URL+"/v1/dispatch/dispatch", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, decodeBody(t, resp))
}

func TestRouterErrors(t *testing.T) {
	srv, fs := newTestRouter(t, DefaultRouterConfig())

	tcs := []struct {
		desc   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{
			desc:   "violation",
			method: http.MethodPost,
			path:   "/v1/wayside/physical",
			body:   `{"unit_1": {"outputs": {"velocity": 1}}}`,
			status: http.StatusForbidden,
			code:   CodeBoundaryViolation,
		},
		{
			desc:   "remove not granted",
			method: http.MethodDelete,
			path:   "/v1/plant_model/physical/unit_1",
			status: http.StatusForbidden,
			code:   CodeBoundaryViolation,
		},
		{
			desc:   "malformed body",
			method: http.MethodPost,
			path:   "/v1/dispatch/dispatch",
			body:   `{"train_1": `,
			status: http.StatusBadRequest,
			code:   CodeInvalidPatch,
		},
		{
			desc:   "array body",
			method: http.MethodPost,
			path:   "/v1/dispatch/dispatch",
			body:   `[]`,
			status: http.StatusBadRequest,
			code:   CodeInvalidPatch,
		},
		{
			desc:   "unknown role",
			method: http.MethodGet,
			path:   "/v1/conductor/dispatch",
			status: http.StatusBadRequest,
			code:   CodeInvalidRequest,
		},
		{
			desc:   "missing unit",
			method: http.MethodGet,
			path:   "/v1/unit_controller/units",
			status: http.StatusBadRequest,
			code:   CodeInvalidRequest,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			resp := do(t, tc.method, srv.URL+tc.path, tc.body)
			require.Equal(t, tc.status, resp.StatusCode)
			require.Equal(t, tc.code, resp.Header.Get(ErrorHeader))
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			require.Equal(t, tc.code, body.Code)
			require.NotEmpty(t, body.Error)
		})
	}

	infos, err := afero.ReadDir(fs, "/data")
	require.NoError(t, err)
	require.Empty(t, infos)
}

func TestRouterCorruptedDocument(t *testing.T) {
	srv, fs := newTestRouter(t, DefaultRouterConfig())
	require.NoError(t, afero.WriteFile(fs, "/data/units.json", []byte(`{"unit_1"`), 0o600))

	resp := do(t, http.MethodGet, srv.URL+"/v1/unit_controller/units?unit=unit_1", "")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, CodeCorrupted, resp.Header.Get(ErrorHeader))

	resp = do(t, http.MethodPost, srv.URL+"/v1/unit_controller/units?unit=unit_1", `{"unit_1": {"outputs": {"kp": 1}}}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, CodeCorrupted, resp.Header.Get(ErrorHeader))
}

func TestRouterRateLimit(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.RequestsPerSecond = 0.001
	cfg.Burst = 2
	srv, _ := newTestRouter(t, cfg)

	for range 2 {
		resp := do(t, http.MethodGet, srv.URL+"/v1/dispatch/dispatch", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := do(t, http.MethodGet, srv.URL+"/v1/dispatch/dispatch", "")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, CodeRateLimited, resp.Header.Get(ErrorHeader))

	// limits are per role
	resp = do(t, http.MethodGet, srv.URL+"/v1/plant_model/physical", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouterKeepsRequestID(t *testing.T) {
	srv, _ := newTestRouter(t, DefaultRouterConfig())
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/dispatch/dispatch", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "req-42", resp.Header.Get(RequestIDHeader))
}

func TestCodeError(t *testing.T) {
	for _, code := range []string{CodeBoundaryViolation, CodeInvalidPatch, CodeInvalidRequest, CodeCorrupted, CodeRateLimited} {
		err := CodeError(code)
		require.Error(t, err)
		_, got := classify(err, true)
		require.Equal(t, code, got)
	}
	require.NoError(t, CodeError(CodeWriteFailed))
}
