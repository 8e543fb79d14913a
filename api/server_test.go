package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/api"
	"github.com/xraph/credits/assets"
	"github.com/xraph/credits/auth/local"
	"github.com/xraph/credits/billing"
	"github.com/xraph/credits/generation"
	"github.com/xraph/credits/identity"
	"github.com/xraph/credits/lock"
	"github.com/xraph/credits/observability"
	"github.com/xraph/credits/purchase"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/types"
)

var pack10 = purchase.Pack{ProductID: "pack10", Credits: 10, Price: types.MustPrice("4.99", "usd")}

type fixture struct {
	srv     *httptest.Server
	r       *credits.Reconciler
	auth    *local.Provider
	billing *billing.Static
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return buildFixture(t, false)
}

// newTokenFixture requires bearer tokens issued by the fixture's provider.
func newTokenFixture(t *testing.T) *fixture {
	t.Helper()
	return buildFixture(t, true)
}

func buildFixture(t *testing.T, requireTokens bool) *fixture {
	t.Helper()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))
	provider := local.New("secret", local.WithBcryptCost(bcrypt.MinCost))

	r := credits.New(memory.New(), identity.NewStore(identity.NewMemoryBackend()), provider,
		credits.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		credits.WithPlugin(metrics),
	)
	require.NoError(t, r.Start(context.Background()))

	b := billing.NewStatic(pack10)
	v := credits.NewVerifier(r, b, lock.NewMemory())

	opts := []api.Option{api.WithMetrics(reg)}
	if requireTokens {
		opts = append(opts, api.WithTokenValidator(provider))
	}
	srv := httptest.NewServer(api.NewServer(r, v, opts...).Handler())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, r: r, auth: provider, billing: b}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	return f.doAuth(t, method, path, body, "")
}

func (f *fixture) doAuth(t *testing.T, method, path, body, token string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "uninitialized", body["phase"])

	resp, body = f.do(t, http.MethodPost, "/session/guest", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["is_guest"])
	assert.EqualValues(t, 1, body["credit_balance"])

	resp, body = f.do(t, http.MethodGet, "/balance", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["balance"])

	resp, body = f.do(t, http.MethodGet, "/entitlement?cost=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["allowed"])
}

func TestErrorsMapToStatus(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"no session balance", http.MethodGet, "/balance", "", http.StatusUnauthorized},
		{"bad cost", http.MethodGet, "/entitlement?cost=abc", "", http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/history?limit=-1", "", http.StatusBadRequest},
		{"bad kind", http.MethodGet, "/history?kind=gift", "", http.StatusBadRequest},
		{"guest purchase", http.MethodPost, "/purchases/verify", `{"product_id":"pack10","vendor_transaction_id":"t"}`, http.StatusUnauthorized},
		{"unknown product", http.MethodPost, "/purchases/verify", `{"product_id":"nope","vendor_transaction_id":"t"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Contains(t, body, "error")
		})
	}
}

func TestVerifyPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ident, err := f.auth.SignUp(ctx, "buyer@example.com", "password")
	require.NoError(t, err)
	a, err := f.r.PromoteToAccount(ctx, ident.AccountID, account.Profile{Email: "buyer@example.com"})
	require.NoError(t, err)
	f.billing.Settle(a.ID, pack10.ProductID, "txn-1")

	body := `{"product_id":"pack10","vendor_transaction_id":"txn-1"}`
	resp, rec := f.do(t, http.MethodPost, "/purchases/verify", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 10, rec["credits_granted"])

	resp, _ = f.do(t, http.MethodPost, "/purchases/verify", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, bal := f.do(t, http.MethodGet, "/balance", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, a.CreditBalance+10, bal["balance"])
}

func TestSignUpAndSignInRoutes(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/session/guest", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	creds := `{"email":"route@example.com","password":"password","display_name":"Route"}`
	resp, body := f.do(t, http.MethodPost, "/session/sign-up", creds)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	acct, ok := body["account"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, acct["is_guest"])
	assert.EqualValues(t, 1, acct["credit_balance"])
	assert.NotEmpty(t, body["token"])

	resp, _ = f.do(t, http.MethodPost, "/session/sign-up", creds)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/session/sign-out", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/session/sign-in", `{"email":"route@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/session/sign-in", `{"email":"route@example.com","password":"password"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	acct, ok = body["account"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "route@example.com", acct["email"])
	assert.EqualValues(t, 1, acct["credit_balance"])

	f.billing.Settle(f.r.Current().Account.ID, pack10.ProductID, "txn-route")
	resp, _ = f.do(t, http.MethodPost, "/purchases/verify", `{"product_id":"pack10","vendor_transaction_id":"txn-route"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestTokenRequiredForAccountRoutes(t *testing.T) {
	f := newTokenFixture(t)

	resp, body := f.do(t, http.MethodPost, "/session/sign-up", `{"email":"tok@example.com","password":"password"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	profile := `{"display_name":"Tok"}`
	resp, _ = f.do(t, http.MethodPut, "/session/profile", profile)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.doAuth(t, http.MethodPut, "/session/profile", profile, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = f.doAuth(t, http.MethodPut, "/session/profile", profile, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Tok", body["display_name"])

	resp, _ = f.do(t, http.MethodGet, "/balance", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/session/guest", "")

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "credits_account_guest_created_total 1")
}

type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, req generation.Request) (*generation.Result, error) {
	return &generation.Result{ImageURL: "https://cdn.example.com/" + req.TemplateID + ".png"}, nil
}

func TestGenerateAndAssets(t *testing.T) {
	ctx := context.Background()
	provider := local.New("secret", local.WithBcryptCost(bcrypt.MinCost))
	r := credits.New(memory.New(), identity.NewStore(identity.NewMemoryBackend()), provider,
		credits.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, r.Start(ctx))

	objects := assets.NewMemory()
	require.NoError(t, objects.Upload(ctx, assets.TemplatesPrefix+"anime.png", strings.NewReader("png"), "image/png"))

	srv := httptest.NewServer(api.NewServer(r, nil,
		api.WithGenerator(credits.NewGenerator(r, stubGenerator{})),
		api.WithCatalog(assets.NewCatalog(objects, 0)),
	).Handler())
	t.Cleanup(srv.Close)
	f := &fixture{srv: srv, r: r, auth: provider}

	resp, err := http.Get(srv.URL + "/templates")
	require.NoError(t, err)
	var templates []assets.Object
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&templates))
	resp.Body.Close()
	require.Len(t, templates, 1)
	assert.Equal(t, "memory://templates/anime.png", templates[0].URL)

	resp, _ = f.do(t, http.MethodGet, "/uploads", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	f.do(t, http.MethodPost, "/session/guest", "")

	body := `{"template_id":"anime","mime_type":"image/png","image":"iVBORw=="}`
	resp, out := f.do(t, http.MethodPost, "/generate", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://cdn.example.com/anime.png", out["image_url"])
	assert.EqualValues(t, 1, out["charged"])

	resp, out = f.do(t, http.MethodPost, "/generate", body)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Contains(t, out, "error")
}
