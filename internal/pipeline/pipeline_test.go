package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paysphere/sphere-gateway/internal/auth"
	"github.com/paysphere/sphere-gateway/internal/config"
	"github.com/paysphere/sphere-gateway/internal/envelope"
	"github.com/paysphere/sphere-gateway/internal/gwerr"
	"github.com/paysphere/sphere-gateway/internal/merchant"
	"github.com/paysphere/sphere-gateway/internal/route"
	"github.com/paysphere/sphere-gateway/internal/sign"
)

const (
	testJWTSecret = "sphere"
	testSecret    = "merchant-signing-secret"
	testPartner   = "10001"
	prodHost      = "gateway.paysphere.id"
	sandboxHost   = "sandbox-gateway.paysphere.id"
)

type stubResolver struct {
	creds map[string]*merchant.Credential
}

func (s *stubResolver) Resolve(_ context.Context, _ route.Environment, merchantID string) (*merchant.Credential, error) {
	if cred, ok := s.creds[merchantID]; ok {
		return cred, nil
	}
	return nil, gwerr.Unauthorized("unknown client")
}

// testUpstream records the paths it served and answers with a platform
// success envelope.
func testUpstream(t *testing.T) (*httptest.Server, *int64, *atomic.Value) {
	t.Helper()

	var hits int64
	var lastPath atomic.Value
	lastPath.Store("")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		lastPath.Store(r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"message":"ok","data":{"referenceNo":"r1"}}`))
	}))
	t.Cleanup(srv.Close)

	return srv, &hits, &lastPath
}

func newTestPipeline(t *testing.T, upstreamURL string) (*Pipeline, *config.Store) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Hosts.Open = true
	cfg.Upstream.PaymentServiceURL = upstreamURL
	store := config.NewStore(cfg)

	resolver := &stubResolver{creds: map[string]*merchant.Credential{
		testPartner: {MerchantID: testPartner, Secret: testSecret},
	}}
	authenticator := auth.New(resolver, testJWTSecret, time.RFC3339, 5*time.Minute)
	builder := envelope.NewBuilder(cfg.Upstream.Origin, time.RFC3339)
	engine := route.NewEngine(cfg.Hosts.SandboxMarker)

	return New(store, engine, authenticator, builder, nil), store
}

func mintToken(t *testing.T) string {
	t.Helper()
	tok, err := jwt.NewBuilder().
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, sign.JWTKey(testJWTSecret)))
	require.NoError(t, err)
	return string(signed)
}

// signedDepositRequest builds a fully signed deposit request for the host.
func signedDepositRequest(t *testing.T, host string) *http.Request {
	t.Helper()

	const path = "/v1.0/transaction/deposit"
	body := `{"amount":"100.00"}`
	token := mintToken(t)
	timestamp := time.Now().Format(time.RFC3339)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Host = host
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-TIMESTAMP", timestamp)
	req.Header.Set("X-SIGNATURE",
		sign.HMACSHA512(sign.StringToSign(path, token, body, timestamp), testSecret))
	req.Header.Set("X-PARTNER-ID", testPartner)
	req.RemoteAddr = "203.0.113.7:40000"
	return req
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) envelope.Result {
	t.Helper()
	var res envelope.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestPipeline_HappyPathDeposit(t *testing.T) {
	srv, hits, lastPath := testUpstream(t)
	p, _ := newTestPipeline(t, srv.URL)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, signedDepositRequest(t, prodHost))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), atomic.LoadInt64(hits))
	assert.Equal(t, "/v1.0/deposit", lastPath.Load())

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "http://paysphere.id", rec.Header().Get("ORIGIN"))
	assert.NotEmpty(t, rec.Header().Get("X-TIMESTAMP"))

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, float64(gwerr.CodeSuccess), payload["code"])
	assert.NotEmpty(t, payload["traceId"])
}

func TestPipeline_SandboxRewrite(t *testing.T) {
	srv, _, lastPath := testUpstream(t)
	p, _ := newTestPipeline(t, srv.URL)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, signedDepositRequest(t, sandboxHost))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/sandbox/v1.0/deposit", lastPath.Load())
}

func TestPipeline_BadSignatureNeverReachesUpstream(t *testing.T) {
	srv, hits, _ := testUpstream(t)
	p, _ := newTestPipeline(t, srv.URL)

	req := signedDepositRequest(t, prodHost)
	req.Header.Set("X-SIGNATURE", "AAAA"+req.Header.Get("X-SIGNATURE")[4:])

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, int64(0), atomic.LoadInt64(hits))
	assert.Equal(t, int(gwerr.CodeUnauthorized), decodeResult(t, rec).Code)
}

func TestPipeline_MissingHeaderNamesField(t *testing.T) {
	srv, _, _ := testUpstream(t)
	p, _ := newTestPipeline(t, srv.URL)

	req := signedDepositRequest(t, prodHost)
	req.Header.Del("X-TIMESTAMP")

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeResult(t, rec).Message, "X-TIMESTAMP")
}

func TestPipeline_MaintenanceGate(t *testing.T) {
	srv, hits, _ := testUpstream(t)
	p, store := newTestPipeline(t, srv.URL)

	closed := *store.Current()
	closed.Hosts.Open = false
	store.Replace(&closed)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, signedDepositRequest(t, prodHost))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, int64(0), atomic.LoadInt64(hits))
	assert.Contains(t, decodeResult(t, rec).Message, "maintenance")

	// Reopening the gate takes effect without rebuilding the pipeline.
	open := *store.Current()
	open.Hosts.Open = true
	store.Replace(&open)

	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, signedDepositRequest(t, prodHost))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPipeline_UnknownRoute(t *testing.T) {
	srv, hits, _ := testUpstream(t)
	p, _ := newTestPipeline(t, srv.URL)

	req := httptest.NewRequest(http.MethodPost, "/v9.9/nothing", nil)
	req.Host = prodHost

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int64(0), atomic.LoadInt64(hits))
}

func TestPipeline_NonPostOnSignedRoute(t *testing.T) {
	srv, _, _ := testUpstream(t)
	p, _ := newTestPipeline(t, srv.URL)

	req := httptest.NewRequest(http.MethodGet, "/v1.0/transaction/deposit", nil)
	req.Host = prodHost

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPipeline_PaymentPassthrough(t *testing.T) {
	srv, hits, lastPath := testUpstream(t)
	p, _ := newTestPipeline(t, srv.URL)

	// Production host: proxied without signing, original path kept.
	req := httptest.NewRequest(http.MethodGet, "/payment/channels", nil)
	req.Host = prodHost
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), atomic.LoadInt64(hits))
	assert.Equal(t, "/payment/channels", lastPath.Load())

	// Sandbox host: the family is not mounted.
	req = httptest.NewRequest(http.MethodGet, "/payment/channels", nil)
	req.Host = sandboxHost
	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int64(1), atomic.LoadInt64(hits))
}

func TestPipeline_UpstreamDownScrubsError(t *testing.T) {
	srv, _, _ := testUpstream(t)
	srv.Close()
	p, _ := newTestPipeline(t, srv.URL)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, signedDepositRequest(t, prodHost))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, int(gwerr.CodeServerError), res.Code)
	assert.Equal(t, "Network congestion, please try again later", res.Message)
}

func TestPipeline_PlatformFailurePropagatesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":500,"message":"insufficient balance"}`))
	}))
	t.Cleanup(srv.Close)
	p, _ := newTestPipeline(t, srv.URL)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, signedDepositRequest(t, prodHost))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "insufficient balance", decodeResult(t, rec).Message)
}

func TestPipeline_BodyTooLarge(t *testing.T) {
	srv, hits, _ := testUpstream(t)
	p, store := newTestPipeline(t, srv.URL)

	small := *store.Current()
	small.Server.MaxBodyBytes = 16
	store.Replace(&small)

	req := httptest.NewRequest(http.MethodPost, "/v1.0/transaction/deposit",
		bytes.NewReader(bytes.Repeat([]byte("x"), 64)))
	req.Host = prodHost

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int64(0), atomic.LoadInt64(hits))

	res := decodeResult(t, rec)
	assert.Equal(t, int(gwerr.CodeBadRequest), res.Code)
	assert.Contains(t, res.Message, "body too large")
}

func TestPipeline_ForwardsBodyAndHeaders(t *testing.T) {
	var gotBody []byte
	var gotPartner string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotPartner = r.Header.Get("X-PARTNER-ID")
		_, _ = w.Write([]byte(`{"code":200}`))
	}))
	t.Cleanup(srv.Close)
	p, _ := newTestPipeline(t, srv.URL)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, signedDepositRequest(t, prodHost))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"amount":"100.00"}`, string(gotBody))
	assert.Equal(t, testPartner, gotPartner)
}
