package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/mschienbein/deez-sub002/deezer/types"
	"github.com/mschienbein/deez-sub002/httputil"
	"github.com/mschienbein/deez-sub002/must"
)

const (
	bootstrapMethod      = "deezer.getUserData"
	credentialCookieName = "arl"
	probeMaxRetries      = 3
)

// Tier codes the service issues to paying accounts. Anything else is
// treated as free tier.
var paidTierCodes = []int64{1, 2, 3, 4, 6}

// Probe validates the credential against the bootstrap endpoint and
// swaps in a fresh session snapshot. Network failures are retried with
// exponential backoff; a credential rejection is permanent.
func (a *Auth) Probe(ctx context.Context, logger zerolog.Logger) (*Session, error) {
	var session *Session
	operation := func() error {
		s, err := a.probeOnce(ctx, logger)
		if nil != err {
			if errors.Is(err, ErrInvalidCredential) {
				return backoff.Permanent(ErrInvalidCredential)
			}

			if errors.Is(err, context.Canceled) {
				return backoff.Permanent(context.Canceled)
			}

			return err
		}

		session = s

		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), probeMaxRetries),
		ctx,
	)
	if err := backoff.Retry(operation, bo); nil != err {
		return nil, fmt.Errorf("failed to probe session capabilities: %w", err)
	}

	a.store(logger, session)
	logger.Debug().Dict("session", session.ToDict()).Msg("Session capabilities probed")

	return session, nil
}

func (a *Auth) probeOnce(ctx context.Context, logger zerolog.Logger) (s *Session, err error) {
	reqURL, err := url.Parse(a.gatewayURL)
	must.NilErr(err)

	reqParams := make(url.Values, 4)
	reqParams.Add("method", bootstrapMethod)
	reqParams.Add("input", "3")
	reqParams.Add("api_version", "1.0")
	reqParams.Add("api_token", "")
	reqURL.RawQuery = reqParams.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), nil)
	must.NilErr(err)

	req.AddCookie(&http.Cookie{Name: credentialCookieName, Value: a.credential}) //nolint:exhaustruct

	client := http.Client{Timeout: time.Duration(a.timeout) * time.Second} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}

		return nil, fmt.Errorf("failed to send bootstrap request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close bootstrap response body: %v", closeErr))
		}
	}()

	if code := resp.StatusCode; code != http.StatusOK {
		respBytes, err := httputil.ReadResponseBody(resp)
		if nil != err {
			return nil, fmt.Errorf("failed to read bootstrap response body: %w", err)
		}

		logger.Error().Int("status_code", code).Bytes("response_body", respBytes).
			Msg("Unexpected bootstrap response status code")

		return nil, fmt.Errorf("unexpected bootstrap status code %d with body: %s", code, string(respBytes))
	}

	respBytes, err := httputil.ReadResponseBody(resp)
	if nil != err {
		return nil, fmt.Errorf("failed to read bootstrap 200 response body: %w", err)
	}

	if !gjson.ValidBytes(respBytes) {
		return nil, errors.New("invalid bootstrap 200 response json")
	}

	results := gjson.GetBytes(respBytes, "results")

	// A response without the user identity block means the credential
	// was rejected, as opposed to a transport failure.
	accountID := results.Get("USER.USER_ID")
	if !accountID.Exists() || accountID.Int() == 0 {
		return nil, ErrInvalidCredential
	}

	antiForgeryToken := results.Get("checkForm").String()
	if antiForgeryToken == "" {
		return nil, errors.New("bootstrap response is missing the anti-forgery token")
	}

	var (
		licenseToken = results.Get("USER.OPTIONS.license_token").String()
		lossless     = results.Get("USER.OPTIONS.web_sound_quality.lossless").Bool()
		_            = results.Get("USER.OPTIONS.web_sound_quality.high").Bool()
		tierCode     = results.Get("USER.OFFER_ID").Int()
		premium      = slices.Contains(paidTierCodes, tierCode)
	)

	session := &Session{
		AntiForgeryToken: antiForgeryToken,
		AccountID:        accountID.String(),
		LicenseToken:     licenseToken,
		Premium:          premium,
		Entitlements: types.Entitlements{
			Lossless: lossless && premium,
			High:     premium,
		},
	}

	return session, nil
}
