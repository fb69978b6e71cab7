package binance

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/adshao/go-binance/v2/common"

	"spot-connect/internal/core"
	"spot-connect/internal/transport"
)

const (
	apiCodeNewOrderRejected = -2010
	apiCodeCancelRejected   = -2011
	apiCodeOrderNotFound    = -2013
)

// codeKinds is the kind a code implies when its message is not recognised.
var codeKinds = map[int64]error{
	apiCodeNewOrderRejected: core.ErrOrderRejected,
	apiCodeCancelRejected:   core.ErrOrderNotFound,
	apiCodeOrderNotFound:    core.ErrOrderNotFound,
}

// messageKinds is keyed by the lowercased venue message.
var messageKinds = map[string]error{
	"duplicate order sent.":                                  core.ErrDuplicateOrder,
	"account has insufficient balance for requested action.": core.ErrInsufficientBalance,
	"balance is insufficient.":                               core.ErrInsufficientBalance,
	"unknown order sent.":                                    core.ErrOrderNotFound,
	"order does not exist.":                                  core.ErrOrderNotFound,
	"order was canceled or expired.":                         core.ErrOrderExpired,
}

// parseHTTPError lifts the {"code","msg"} body of a failed request into a
// *common.APIError joined with the core kinds it maps to. The original
// *transport.RequestFailed stays in the chain.
func parseHTTPError(err error) error {
	var rf *transport.RequestFailed
	if !errors.As(err, &rf) {
		return err
	}
	apiErr := &common.APIError{}
	if json.Unmarshal([]byte(rf.Body), apiErr) != nil || apiErr.Code == 0 {
		return err
	}
	chain := []error{err, apiErr}
	if kind := errorKind(apiErr); kind != nil {
		chain = append(chain, kind)
	}
	return errors.Join(chain...)
}

// errorKind prefers the message table, so a -2010 for insufficient balance
// reads as ErrInsufficientBalance rather than a plain rejection.
func errorKind(apiErr *common.APIError) error {
	if kind, ok := messageKinds[strings.ToLower(strings.TrimSpace(apiErr.Message))]; ok {
		return kind
	}
	return codeKinds[apiErr.Code]
}

func AsAPIError(err error) (*common.APIError, bool) {
	var apiErr *common.APIError
	if err == nil || !errors.As(err, &apiErr) {
		return nil, false
	}
	return apiErr, true
}

func IsAPIErrorCode(err error, codes ...int64) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	for _, code := range codes {
		if apiErr.Code == code {
			return true
		}
	}
	return false
}
