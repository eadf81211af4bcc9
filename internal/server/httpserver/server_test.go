package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dwellingly/buyersign/internal/limiter"
	"github.com/dwellingly/buyersign/internal/repository/localstore"
	"github.com/dwellingly/buyersign/internal/service"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

// newTestServer wires real services over the file-backed store.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := localstore.Open(filepath.Join(t.TempDir(), "buyersign.json"))
	require.NoError(t, err)

	signKey := []byte("test-sign-key")
	auth := service.NewAuthService(store.Agents(), signKey, 15*time.Minute, limiter.NewMemory(time.Minute, 5, time.Minute))
	invites := service.NewInviteService(store.Invites(), fixedNow)
	reports := service.NewReportService(store.Invites(), fixedNow)

	srv := New(auth, invites, reports, nil, signKey, "http://example.test", fixedNow)
	handler := Logging(zap.NewNop())(Recover(zap.NewNop())(srv.Routes()))

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var out map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func registerAndLogin(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	creds := map[string]string{"username": "agent1", "password": "pass12345"}
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/auth/register", "", creds)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["accessToken"].(string)
	require.NotEmpty(t, token)
	return token
}

func createInvite(t *testing.T, ts *httptest.Server, token string) (inviteID, rawToken string) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/invites", token, map[string]any{
		"buyerName":    "Dana Whitfield",
		"buyerContact": "dana@example.com",
		"template": map[string]any{
			"id": "tpl-tx-1", "name": "Texas Buyer Representation Agreement",
			"jurisdiction": "TX", "version": "2025.1",
			"fullText": "Full text.",
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	rawToken, _ = body["rawToken"].(string)
	require.NotEmpty(t, rawToken)
	inv, _ := body["invite"].(map[string]any)
	require.NotNil(t, inv)
	inviteID, _ = inv["id"].(string)
	require.NotEmpty(t, inviteID)
	require.Equal(t, "created", inv["status"])
	return inviteID, rawToken
}

func TestAuth_Required(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/invites", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/invites", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	ts := newTestServer(t)
	creds := map[string]string{"username": "agent1", "password": "pass12345"}
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/auth/register", "", creds)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/register", "", creds)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLogin_LockoutAccumulatesAcrossConnections(t *testing.T) {
	ts := newTestServer(t)
	registerAndLogin(t, ts)

	// Each request may arrive on a fresh TCP connection with a new ephemeral
	// port; failures must still land in the same (username, ip) bucket.
	for i := 0; i < 4; i++ {
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "",
			map[string]string{"username": "agent1", "password": "wrong"})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, fmt.Sprintf("attempt %d", i))
	}

	// Fifth failure trips the block.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "",
		map[string]string{"username": "agent1", "password": "wrong"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Even the correct password is refused while blocked.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "",
		map[string]string{"username": "agent1", "password": "pass12345"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	require.Equal(t, "192.0.2.7", clientIP("192.0.2.7:51234"))
	require.Equal(t, "::1", clientIP("[::1]:8080"))
	require.Equal(t, "192.0.2.7", clientIP("192.0.2.7"))
}

func TestLogin_BadPassword(t *testing.T) {
	ts := newTestServer(t)
	registerAndLogin(t, ts)
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "",
		map[string]string{"username": "agent1", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSigningFlow_EndToEnd(t *testing.T) {
	ts := newTestServer(t)
	token := registerAndLogin(t, ts)
	inviteID, rawToken := createInvite(t, ts, token)

	// Agent marks the invite sent.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/invites/"+inviteID+"/events", token,
		map[string]any{"type": "INVITE_SENT"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Buyer opens the link: status sent -> viewed, gate open.
	resp, page := doJSON(t, http.MethodGet, ts.URL+"/api/sign/"+rawToken, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, page["canSign"])

	// Buyer signs.
	resp, signed := doJSON(t, http.MethodPost, ts.URL+"/api/sign/"+rawToken, "", map[string]any{
		"typedName": "Dana Whitfield", "consent": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	certID, _ := signed["certificateId"].(string)
	require.Regexp(t, `^DW-\d{4}-\d{4}$`, certID)

	// Signing twice is rejected.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/sign/"+rawToken, "", map[string]any{
		"typedName": "Dana Whitfield", "consent": true,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Anyone can verify the certificate.
	resp, cert := doJSON(t, http.MethodGet, ts.URL+"/api/certificates/"+certID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "D.W", cert["buyerInitials"])
	require.Equal(t, "Dana Whitfield", cert["signedBy"])

	// And download it as a PDF. The document is rendered in full before any
	// byte is written, so the length header always matches the body.
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/certificates/"+certID+"/pdf", nil)
	require.NoError(t, err)
	pdfResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer pdfResp.Body.Close()
	require.Equal(t, http.StatusOK, pdfResp.StatusCode)
	require.Equal(t, "application/pdf", pdfResp.Header.Get("Content-Type"))
	pdfBody, err := io.ReadAll(pdfResp.Body)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(pdfBody, []byte("%PDF-")))
	require.Equal(t, fmt.Sprint(len(pdfBody)), pdfResp.Header.Get("Content-Length"))

	// The invite reflects the full trail.
	resp, inv := doJSON(t, http.MethodGet, ts.URL+"/api/invites/"+inviteID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "signed", inv["status"])
	events, _ := inv["auditEvents"].([]any)
	require.Len(t, events, 4) // created, sent, viewed, signed
}

func TestSign_RevokedLink(t *testing.T) {
	ts := newTestServer(t)
	token := registerAndLogin(t, ts)
	inviteID, rawToken := createInvite(t, ts, token)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/invites/"+inviteID+"/events", token,
		map[string]any{"type": "INVITE_REVOKED"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, page := doJSON(t, http.MethodGet, ts.URL+"/api/sign/"+rawToken, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, page["canSign"])
	require.Equal(t, "This invite has been revoked by the agent.", page["reason"])

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/sign/"+rawToken, "", map[string]any{
		"typedName": "Dana Whitfield", "consent": true,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAddEvent_RejectsReservedTypes(t *testing.T) {
	ts := newTestServer(t)
	token := registerAndLogin(t, ts)
	inviteID, _ := createInvite(t, ts, token)

	for _, typ := range []string{"INVITE_CREATED", "INVITE_VIEWED", "AGREEMENT_SIGNED", "bogus"} {
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/invites/"+inviteID+"/events", token,
			map[string]any{"type": typ})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, typ)
	}
}

func TestSign_UnknownToken(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/sign/deadbeef", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReports_Endpoints(t *testing.T) {
	ts := newTestServer(t)
	token := registerAndLogin(t, ts)
	_, rawToken := createInvite(t, ts, token)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/sign/"+rawToken, "", map[string]any{
		"typedName": "Dana Whitfield", "consent": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, kpis := doJSON(t, http.MethodGet, ts.URL+"/api/reports/kpis", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1), kpis["sentLast7Days"])
	require.Equal(t, float64(1), kpis["signedLast7Days"])
	require.Equal(t, float64(100), kpis["conversionRate"])

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/reports/activity", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	actResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer actResp.Body.Close()
	var acts []map[string]any
	require.NoError(t, json.NewDecoder(actResp.Body).Decode(&acts))
	require.NotEmpty(t, acts)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/reports/notifications", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateInvite_Validation(t *testing.T) {
	ts := newTestServer(t)
	token := registerAndLogin(t, ts)

	for i, body := range []map[string]any{
		{"buyerContact": "x@example.com", "template": map[string]any{"name": "T"}},
		{"buyerName": "X", "template": map[string]any{"name": "T"}},
		{"buyerName": "X", "buyerContact": "x@example.com"},
	} {
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/invites", token, body)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, fmt.Sprintf("case %d", i))
	}
}
