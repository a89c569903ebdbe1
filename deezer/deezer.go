package deezer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/mschienbein/deez-sub002/cache"
	"github.com/mschienbein/deez-sub002/config"
	"github.com/mschienbein/deez-sub002/deezer/archive"
	"github.com/mschienbein/deez-sub002/deezer/auth"
	"github.com/mschienbein/deez-sub002/deezer/downloader"
	"github.com/mschienbein/deez-sub002/deezer/fs"
	"github.com/mschienbein/deez-sub002/deezer/types"
)

var (
	ErrCredentialRequired = errors.New("session credential required")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrDownloadInProgress = errors.New("download in progress")
	ErrUnauthorized       = auth.ErrUnauthorized
	ErrInvalidCredential  = auth.ErrInvalidCredential
)

type Client struct {
	auth        *auth.Auth
	dl          *downloader.Downloader
	archive     *archive.Archive
	downloadSem chan struct{}
}

func NewClient(logger zerolog.Logger, conf config.Deezer) (*Client, error) {
	if conf.Credential == "" {
		content, err := fs.CredentialFileFrom(conf.CredentialFile).Read()
		if nil != err {
			if errors.Is(err, os.ErrNotExist) {
				return nil, ErrCredentialRequired
			}

			return nil, fmt.Errorf("failed to read credential file: %w", err)
		}
		conf.Credential = content.ARL
	}

	if conf.Credential == "" {
		return nil, ErrCredentialRequired
	}

	a, err := auth.New(logger, auth.Options{
		Credential:  conf.Credential,
		GatewayURL:  conf.GatewayURL,
		Timeout:     conf.Downloads.Timeouts.Bootstrap,
		SessionFile: conf.SessionFile,
	})
	if nil != err {
		return nil, fmt.Errorf("failed to create auth: %v", err)
	}

	var arc *archive.Archive
	if conf.ArchiveFile != "" {
		arc, err = archive.Open(conf.ArchiveFile)
		if nil != err {
			return nil, fmt.Errorf("failed to open download archive: %v", err)
		}
	}

	return &Client{
		auth:        a,
		dl:          downloader.NewDownloader(conf, a, cache.New(), arc),
		archive:     arc,
		downloadSem: make(chan struct{}, 1),
	}, nil
}

func (c *Client) Close() error {
	if c.archive != nil {
		if err := c.archive.Close(); nil != err {
			return fmt.Errorf("failed to close download archive: %w", err)
		}
	}

	return nil
}

// Probe forces a fresh capability probe, validating the credential.
func (c *Client) Probe(ctx context.Context, logger zerolog.Logger) (*auth.Session, error) {
	s, err := c.auth.Probe(ctx, logger)
	if nil != err {
		return nil, fmt.Errorf("failed to probe session: %w", err)
	}

	return s, nil
}

func (c *Client) Session() *auth.Session {
	return c.auth.Session()
}

// TryDownloadLink runs a link download end to end. An unauthorized
// response on a valid-looking session invalidates it and retries
// exactly once after a fresh probe.
func (c *Client) TryDownloadLink(
	ctx context.Context,
	logger zerolog.Logger,
	link types.Link,
	onProgress func(downloader.TrackResult),
) ([]downloader.TrackResult, error) {
	select {
	case c.downloadSem <- struct{}{}:
		defer func() { <-c.downloadSem }()
		return c.downloadLink(ctx, logger, link, onProgress)
	default:
		logger.Debug().Msg("Another download in progress")
		return nil, ErrDownloadInProgress
	}
}

func (c *Client) downloadLink(
	ctx context.Context,
	logger zerolog.Logger,
	link types.Link,
	onProgress func(downloader.TrackResult),
) ([]downloader.TrackResult, error) {
	var results []downloader.TrackResult
	err := retry.Do(
		ctx,
		retry.WithMaxRetries(1, retry.NewConstant(1*time.Second)),
		func(ctx context.Context) error {
			if err := c.ensureSession(ctx, logger); nil != err {
				return err
			}

			res, err := c.dl.Download(ctx, logger, link, onProgress)
			if nil != err {
				if errors.Is(err, auth.ErrUnauthorized) {
					c.auth.Invalidate()
					return retry.RetryableError(err)
				}

				return fmt.Errorf("failed to download link: %w", err)
			}

			if anyUnauthorized(res) {
				c.auth.Invalidate()
				return retry.RetryableError(auth.ErrUnauthorized)
			}

			results = res

			return nil
		},
	)
	if nil != err {
		return nil, fmt.Errorf("failed to download link after retries: %w", err)
	}

	return results, nil
}

// ensureSession makes a session available, probing when there is none.
// A failed probe fails fast: nothing downstream can succeed without it.
func (c *Client) ensureSession(ctx context.Context, logger zerolog.Logger) error {
	if c.auth.Session() != nil {
		return nil
	}

	if _, err := c.auth.Probe(ctx, logger); nil != err {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	return nil
}

func anyUnauthorized(results []downloader.TrackResult) bool {
	for _, r := range results {
		if errors.Is(r.Outcome.Err(), auth.ErrUnauthorized) {
			return true
		}
	}

	return false
}
