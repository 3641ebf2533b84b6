package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/auth"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/avatars"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/comments"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/config"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/database"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/metadata"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/mirror"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/notify"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/preview"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/providers"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/server"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// application holds the wired components shared by serve and resolve.
type application struct {
	config     config.AppConfig
	logger     *zap.Logger
	httpClient *http.Client
	store      metadata.Store
	dispatcher *notify.Dispatcher
	comments   *comments.Service
	avatars    *avatars.Resolver
	closers    []func() error
}

func newApplication(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (*application, error) {
	app := &application{
		config:     appConfig,
		logger:     logger,
		httpClient: &http.Client{Timeout: appConfig.ProviderTimeout},
		dispatcher: notify.NewDispatcher(0),
	}

	store, err := app.openStore(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.store = store

	if appConfig.AMQPURL != "" {
		forwarder, err := notify.NewAMQPForwarder(notify.AMQPForwarderConfig{
			URL:       appConfig.AMQPURL,
			QueueName: appConfig.AMQPQueue,
			Logger:    logger,
		})
		if err != nil {
			app.Close()
			return nil, err
		}
		events, cleanup := app.dispatcher.Subscribe(ctx)
		app.closers = append(app.closers, func() error { cleanup(); return nil })
		go forwarder.Run(ctx, events)
	}

	userAgent := appConfig.ProviderUserAgent
	resolver := providers.NewResolver(providers.ResolverConfig{
		Primary: providers.NewGravatarClient(app.httpClient,
			providers.WithGravatarBaseURL(appConfig.GravatarBaseURL),
			providers.WithGravatarUserAgent(userAgent)),
		Fallback: providers.NewLibravatarClient(app.httpClient,
			providers.WithLibravatarDefaultBaseURL(appConfig.LibravatarDefaultBaseURL),
			providers.WithSRVResolver(net.DefaultResolver),
			providers.WithLibravatarUserAgent(userAgent),
			providers.WithLibravatarLogger(logger)),
		Social: providers.NewMastodonClient(app.httpClient,
			providers.WithMastodonUserAgent(userAgent)),
		Logger: logger,
	})

	imageMirror, err := mirror.New(mirror.Config{
		CacheRoot:     appConfig.CacheRoot,
		HTTPClient:    app.httpClient,
		Size:          appConfig.AvatarSize,
		MaxImageBytes: appConfig.MaxImageBytes,
		UserAgent:     userAgent,
		Publisher:     app.dispatcher,
		Logger:        logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.comments, err = comments.NewService(comments.ServiceConfig{
		Resolver:  resolver,
		Store:     store,
		Mirror:    imageMirror,
		PublicURL: appConfig.CachePublicURL,
		Logger:    logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.avatars, err = avatars.NewResolver(avatars.ResolverConfig{
		Store:          store,
		CacheRoot:      appConfig.CacheRoot,
		PublicURL:      appConfig.CachePublicURL,
		DefaultPolicy:  appConfig.AvatarDefault,
		PlaceholderURL: appConfig.AvatarPlaceholderURL,
		DefaultSize:    appConfig.AvatarSize,
		Logger:         logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	return app, nil
}

func (a *application) openStore(ctx context.Context) (metadata.Store, error) {
	switch a.config.MetadataBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.config.RedisAddress,
			Password: a.config.RedisPassword,
			DB:       a.config.RedisDB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return metadata.NewRedisStore(client, a.logger)
	default:
		db, err := database.OpenSQLite(a.config.DatabasePath, a.logger)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sqlDB.Close)
		return metadata.NewSQLStore(metadata.SQLStoreConfig{Database: db, Logger: a.logger})
	}
}

func (a *application) httpHandler() (http.Handler, error) {
	validator, err := auth.NewHookValidator(auth.HookValidatorConfig{
		SigningSecret: []byte(a.config.HookSigningSecret),
	})
	if err != nil {
		return nil, err
	}
	prober := preview.NewProber(a.httpClient,
		preview.WithExtraHosts(configuredHosts(a.config.GravatarBaseURL, a.config.LibravatarDefaultBaseURL)...),
		preview.WithProberUserAgent(a.config.ProviderUserAgent))

	return server.NewHTTPHandler(server.Dependencies{
		Tokens:             validator,
		Submissions:        a.comments,
		Avatars:            a.avatars,
		Prober:             prober,
		Events:             a.dispatcher,
		CacheRoot:          a.config.CacheRoot,
		CachePublicURL:     a.config.CachePublicURL,
		CORSAllowedOrigins: a.config.CORSAllowedOrigins,
		Logger:             a.logger,
	})
}

// Close releases storage handles in reverse order of acquisition.
func (a *application) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown cleanup failed", zap.Error(err))
	}
}

// configuredHosts returns the host[:port] of each configured provider base URL.
func configuredHosts(baseURLs ...string) []string {
	hosts := make([]string, 0, len(baseURLs))
	for _, baseURL := range baseURLs {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Host == "" {
			continue
		}
		hosts = append(hosts, parsed.Host)
	}
	return hosts
}
