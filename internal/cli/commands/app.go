package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openbrain/entitymanagement/internal/cache"
	"github.com/openbrain/entitymanagement/internal/cli/config"
	"github.com/openbrain/entitymanagement/internal/cli/ui"
	"github.com/openbrain/entitymanagement/internal/logging"
	"github.com/openbrain/entitymanagement/pkg/domain/core"
	"github.com/openbrain/entitymanagement/pkg/nexus"
	"github.com/openbrain/entitymanagement/pkg/orm/crud"
	"github.com/openbrain/entitymanagement/pkg/orm/schema"
)

// globalFlags are the persistent flags shared by every command
type globalFlags struct {
	configFile string
	baseURL    string
	token      string
	output     string
	logLevel   string
	noColor    bool
}

// app is the wiring behind a single command invocation
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	cache    cache.Cache
	registry *schema.Registry
	metrics  *prometheus.Registry
	client   *nexus.Client
	store    *crud.Store

	out     io.Writer
	errOut  io.Writer
	format  string
	noColor bool
}

// newRegistry returns a registry holding the bundled entity types
func newRegistry() (*schema.Registry, error) {
	reg := schema.NewRegistry()
	if err := core.Bootstrap(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// newApp loads the configuration and connects to the store
func newApp(cmd *cobra.Command, g *globalFlags) (*app, error) {
	cfg, err := config.LoadFile(g.configFile)
	if err != nil {
		return nil, &configError{err}
	}
	if g.baseURL != "" {
		cfg.BaseURL = g.baseURL
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if err := cfg.RequireBaseURL(); err != nil {
		return nil, &configError{err}
	}
	switch g.output {
	case "yaml", "json", "table":
	default:
		return nil, fmt.Errorf("unknown output format %q", g.output)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: prometheus.NewRegistry(),
		out:     cmd.OutOrStdout(),
		errOut:  cmd.ErrOrStderr(),
		format:  g.output,
		noColor: g.noColor || color.NoColor,
	}

	if a.registry, err = newRegistry(); err != nil {
		return nil, err
	}

	a.cache, err = cache.Open(cmd.Context(), cache.Options{
		Driver:     cfg.Cache.Driver,
		Config:     cache.Config{DefaultTTL: cfg.Cache.TTL, Prefix: cache.DefaultConfig().Prefix},
		MaxEntries: cfg.Cache.MaxEntries,
		Redis: cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	var tokens nexus.TokenProvider = nexus.EnvToken{}
	if cfg.Token != "" {
		tokens = nexus.StaticToken(cfg.Token)
	}

	clientCfg := nexus.Config{
		BaseURL:    cfg.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		Tokens:     tokens,
		Logger:     logger.Named("nexus"),
		CacheTTL:   cfg.Cache.TTL,
		Metrics:    nexus.NewMetrics(a.metrics),
		UserAgent:  "entitymanagement/" + Version,
	}
	if a.cache != nil {
		clientCfg.Cache = a.cache
	}
	if a.client, err = nexus.New(clientCfg); err != nil {
		a.close()
		return nil, err
	}

	a.store, err = crud.NewStore(crud.Config{
		Client:        a.client,
		Registry:      a.registry,
		Logger:        logger,
		PageSize:      cfg.PageSize,
		PollInterval:  cfg.Poll.Interval,
		PollAttempts:  cfg.Poll.Attempts,
		DefaultPrefix: cfg.Prefix,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// context returns the command context carrying the --token override
func (a *app) context(cmd *cobra.Command, g *globalFlags) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if g.token != "" {
		ctx = nexus.WithToken(ctx, g.token)
	}
	return ctx
}

// close releases the cache and flushes the logger
func (a *app) close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("failed to close cache", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// run wires an app around fn
func run(g *globalFlags, fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, g)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(a.context(cmd, g), a, args)
	}
}

// lookupType finds a registered type by Go name or tag
func (a *app) lookupType(name string) (*schema.EntitySchema, error) {
	return lookupType(a.registry, name, a.noColor)
}

func lookupType(reg *schema.Registry, name string, noColor bool) (*schema.EntitySchema, error) {
	if sch, ok := reg.ByName(name); ok {
		return sch, nil
	}
	if sch, ok := reg.Get(name); ok {
		return sch, nil
	}

	var known []string
	for _, sch := range reg.All() {
		known = append(known, sch.Name, sch.Tag)
	}
	return nil, &uiError{
		msg: ui.UnknownType(name, known, noColor),
		err: fmt.Errorf("%w: %s", schema.ErrUnknownType, name),
	}
}

// uiError carries a preformatted diagnostic
type uiError struct {
	msg ui.Message
	err error
}

func (e *uiError) Error() string { return e.err.Error() }
func (e *uiError) Unwrap() error { return e.err }

// reportError prints err as a diagnostic
func reportError(w io.Writer, err error, noColor bool) {
	var ue *uiError
	if errors.As(err, &ue) {
		ue.msg.NoColor = noColor
		ue.msg.Write(w)
		return
	}
	if errors.Is(err, nexus.ErrTokenExpired) || errors.Is(err, nexus.ErrUnauthorized) {
		ui.Message{
			Context: "authentication",
			Problem: err.Error(),
			Hints:   []string{"Refresh NEXUS_TOKEN or pass --token"},
			NoColor: noColor,
		}.Write(w)
		return
	}
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		ui.ConfigError(err.Error(), noColor).Write(w)
		return
	}
	ui.ForError(err, noColor).Write(w)
}

// configError marks a configuration failure
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }
