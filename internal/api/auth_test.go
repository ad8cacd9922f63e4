package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/auction-pool/internal/api"
	"github.com/atmx/auction-pool/internal/model"
)

const secret = "test-signing-secret"

func token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := api.IssueToken(secret, subject, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestJWTAuth_CommandsActAsTokenSubject(t *testing.T) {
	chain, r := newAuthEnv(t, api.NewJWTAuth(secret))
	chain.Fund("alice", model.NewCoin("inj", 100))
	deposit := api.DepositRequest{Funds: []model.Coin{model.NewCoin("inj", 100)}}

	w := doWithToken(t, r, "POST", "/api/v1/deposit", token(t, "alice"), deposit)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, "GET", "/api/v1/accounts/alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var acc model.UserAccount
	require.NoError(t, json.NewDecoder(w.Body).Decode(&acc))
	assert.True(t, acc.Deposited.Equal(d("100")))
}

func TestJWTAuth_Rejections(t *testing.T) {
	_, r := newAuthEnv(t, api.NewJWTAuth(secret))

	expired, err := api.IssueToken(secret, "alice", -time.Minute)
	require.NoError(t, err)
	forged, err := api.IssueToken("other-secret", "admin", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		body   any
		status int
	}{
		{"no token", "", api.WithdrawRequest{Sender: "alice", Amount: d("1")}, http.StatusUnauthorized},
		{"expired", expired, api.WithdrawRequest{Amount: d("1")}, http.StatusUnauthorized},
		{"wrong key", forged, api.RouteRequest{SourceDenom: "atom", TargetDenom: "inj", MarketID: market}, http.StatusUnauthorized},
		{"body names someone else", token(t, "mallory"), api.WithdrawRequest{Sender: "alice", Amount: d("1")}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/api/v1/withdraw"
			if _, ok := tt.body.(api.RouteRequest); ok {
				path = "/api/v1/routes"
			}
			w := doWithToken(t, r, "POST", path, tt.token, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			var e api.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&e))
			assert.Equal(t, "authorization", e.Class)
		})
	}

	// Admin commands still check the configured admin against the subject.
	w := doWithToken(t, r, "POST", "/api/v1/routes", token(t, "mallory"),
		api.RouteRequest{SourceDenom: "atom", TargetDenom: "inj", MarketID: market})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, r, "GET", "/api/v1/state", nil)
	assert.Equal(t, http.StatusOK, w.Code, "queries need no token")
}

func TestClient_WithToken(t *testing.T) {
	chain, r := newAuthEnv(t, api.NewJWTAuth(secret))
	srv := httptest.NewServer(r)
	defer srv.Close()
	ctx := context.Background()
	chain.Fund("alice", model.NewCoin("inj", 50))

	anon := api.NewClient(srv.URL + "/api/v1")
	_, err := anon.Deposit(ctx, "alice", []model.Coin{model.NewCoin("inj", 50)})
	require.Error(t, err)

	res, err := anon.WithToken(token(t, "alice")).Deposit(ctx, "alice", []model.Coin{model.NewCoin("inj", 50)})
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Sender)

	comps, err := anon.Compensations(ctx)
	require.NoError(t, err)
	assert.Empty(t, comps)
}
