package main

import (
	"context"
	"fmt"

	"github.com/lgc202/apikit/apiclient"
	"github.com/lgc202/apikit/apierr"
	"github.com/lgc202/apikit/config"
	"github.com/lgc202/apikit/credential"
	"github.com/lgc202/apikit/httpx"
	"github.com/lgc202/apikit/version"
)

const product = "apikit"

// openStore opens the credential file named by the config.
func (a *app) openStore() (*credential.FileStore, error) {
	c := a.cfg.Get().Credentials
	return credential.OpenFileStore(c.Path, c.Passphrase)
}

// client builds the pipeline for the selected service. Internal services get
// the credential store and refresh; external ones only their static token.
func (a *app) client() (*apiclient.Client, error) {
	svc, err := a.cfg.Get().Service(a.service)
	if err != nil {
		return nil, err
	}
	var store credential.Store
	if svc.Origin == httpx.OriginInternal {
		fs, err := a.openStore()
		if err != nil {
			return nil, err
		}
		store = fs
	}
	return a.newServiceClient(svc, store)
}

func (a *app) newServiceClient(svc config.Service, store credential.Store) (*apiclient.Client, error) {
	ua := svc.UserAgent
	if ua == "" {
		ua = version.UserAgent(product)
	}
	opts := []httpx.Option{
		httpx.WithBaseURL(svc.BaseURL),
		httpx.WithTimeout(svc.Timeout),
		httpx.WithUserAgent(ua),
		httpx.WithDefaultOrigin(svc.Origin),
	}
	if rl := httpx.NewRateLimiter(svc.RateLimit.RPS, svc.RateLimit.Burst); rl != nil {
		opts = append(opts, httpx.WithRateLimiter(rl))
	}
	if a.verbose {
		opts = append(opts, httpx.WithAfterHook(httpx.LogHook(a.slog)))
	}
	if a.metrics != nil {
		opts = append(opts, httpx.WithAfterHook(a.metrics.AfterHook()))
	}
	if svc.Retry.MaxAttempts > 1 {
		retry := httpx.DefaultRetryConfig()
		retry.MaxAttempts = svc.Retry.MaxAttempts
		opts = append(opts, httpx.WithRetry(retry))
	}
	tr, err := httpx.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", a.service, err)
	}

	copts := []apiclient.Option{
		apiclient.WithLogger(a.slog),
		apiclient.WithRefresher(apiclient.NewTokenRefresher(tr, svc.RefreshPath)),
	}
	if a.metrics != nil {
		copts = append(copts, apiclient.WithRefreshObserver(a.metrics.ObserveRefresh))
	}
	if svc.Token != "" {
		copts = append(copts, apiclient.WithStaticToken(svc.Token))
	}
	if store != nil {
		copts = append(copts,
			apiclient.WithStore(store),
			apiclient.WithOnExpired(func(ctx context.Context, e *apierr.Error) {
				if err := store.Clear(ctx); err != nil {
					a.log.WithError(err).Warn("clear credentials")
				}
				a.log.WithField("url", e.URL).Warn("session expired, run `apikit login` again")
			}),
		)
	}
	return apiclient.New(tr, copts...), nil
}
