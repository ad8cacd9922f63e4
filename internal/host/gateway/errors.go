package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/atmx/auction-pool/internal/host"
)

// ErrGateway wraps failures the gateway reports without a known code.
var ErrGateway = errors.New("gateway: request failed")

// errorBody is the JSON error envelope of the gateway protocol.
type errorBody struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

var codes = []struct {
	code string
	err  error
}{
	{"MARKET_NOT_FOUND", host.ErrMarketNotFound},
	{"LAST_RESULT_NOT_FOUND", host.ErrLastResultNotFound},
	{"INSUFFICIENT_FUNDS", host.ErrInsufficientFunds},
	{"BID_REJECTED", host.ErrBidRejected},
	{"ORDER_REJECTED", host.ErrOrderRejected},
	{"NO_QUOTE", host.ErrNoQuote},
	{"SESSION_CLOSED", host.ErrSessionClosed},
	{"STALE_SESSION", host.ErrStaleSession},
	{"UNKNOWN_MSG", host.ErrUnknownMsg},
}

// codeFor returns the protocol code and HTTP status for err.
func codeFor(err error) (string, int) {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			switch c.err {
			case host.ErrMarketNotFound, host.ErrLastResultNotFound, host.ErrNoQuote:
				return c.code, http.StatusNotFound
			default:
				return c.code, http.StatusConflict
			}
		}
	}
	return "", http.StatusInternalServerError
}

// fromBody maps a gateway error response back to a host sentinel.
func fromBody(status int, body errorBody) error {
	code := strings.ToUpper(body.Code)
	for _, c := range codes {
		if c.code == code {
			return fmt.Errorf("%w: %s", c.err, body.Error)
		}
	}
	return fmt.Errorf("%w: status %d: %s", ErrGateway, status, body.Error)
}
