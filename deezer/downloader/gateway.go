package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/mschienbein/deez-sub002/deezer/auth"
	"github.com/mschienbein/deez-sub002/httputil"
	"github.com/mschienbein/deez-sub002/must"
)

// gateway issues an authenticated RPC keyed by the session's
// anti-forgery token. Errors travel in the 200 response body, so the
// envelope is inspected before the payload is handed back.
func (d *Downloader) gateway(
	ctx context.Context,
	logger zerolog.Logger,
	session *auth.Session,
	method string,
	body any,
	timeout time.Duration,
) (b []byte, err error) {
	logger = logger.With().Str("gateway_method", method).Logger()

	reqURL, err := url.Parse(d.gatewayURL)
	must.NilErr(err)

	reqParams := make(url.Values, 4)
	reqParams.Add("method", method)
	reqParams.Add("input", "3")
	reqParams.Add("api_version", "1.0")
	reqParams.Add("api_token", session.AntiForgeryToken)
	reqURL.RawQuery = reqParams.Encode()

	reqBody, err := json.Marshal(body)
	if nil != err {
		return nil, fmt.Errorf("failed to encode gateway request body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(reqBody))
	must.NilErr(err)

	req.Header.Add("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "arl", Value: d.credential}) //nolint:exhaustruct

	client := http.Client{Timeout: timeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}

		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}

		return nil, fmt.Errorf("failed to send gateway request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close gateway response body: %v", closeErr))
		}
	}()

	switch code := resp.StatusCode; code {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, ErrTooManyRequests
	default:
		respBytes, err := httputil.ReadResponseBody(resp)
		if nil != err {
			return nil, fmt.Errorf("failed to read gateway response body: %w", err)
		}

		logger.Error().Int("status_code", code).Bytes("response_body", respBytes).
			Msg("Unexpected gateway response status code")

		return nil, fmt.Errorf("unexpected gateway status code %d with body: %s", code, string(respBytes))
	}

	respBytes, err := httputil.ReadResponseBody(resp)
	if nil != err {
		return nil, fmt.Errorf("failed to read gateway 200 response body: %w", err)
	}

	if !gjson.ValidBytes(respBytes) {
		return nil, errors.New("invalid gateway 200 response json")
	}

	if httputil.ResponseHasError(respBytes) {
		if httputil.IsInvalidTokenResponse(respBytes) {
			return nil, auth.ErrUnauthorized
		}

		if httputil.IsDataErrorResponse(respBytes) {
			return nil, ErrTrackUnavailable
		}

		logger.Error().Bytes("response_body", respBytes).Msg("Gateway returned an error envelope")

		return nil, fmt.Errorf("gateway error response with body: %s", string(respBytes))
	}

	return respBytes, nil
}
