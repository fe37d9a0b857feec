package confessional

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"

	defaultLogWriter io.Writer = os.Stdout
)

// Confessional is the bot: it owns the discord session, the in-memory
// store, the avatar anonymizer, pending contact requests, and the
// optional report database and status API.
type Confessional struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	discord  *Discord
	store    *Store
	avatars  *AvatarAnonymizer
	contacts *contactRegistry

	// reports is nil when no database is configured
	reports *ReportLog

	// api is nil unless enabled
	api *API

	// now is the clock used for post timestamps and contact expiry
	now func() time.Time

	// signalReady has a value sent on it once Run has connected to
	// discord and registered commands
	signalReady chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// tracks handler goroutines, which shutdown waits on
	runtimeWG sync.WaitGroup
}

// New creates a bot from the given config. The discord session is
// created by Run, unless one was already set.
func New(config *Config) (*Confessional, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	c := &Confessional{
		config:      config,
		contacts:    newContactRegistry(),
		now:         time.Now,
		signalReady: make(chan struct{}, 1),
	}

	c.logHandler = newLogHandler(defaultLogWriter, config.LogLevel)
	c.logger = slog.New(c.logHandler)
	slog.SetDefault(c.logger)

	config.Discord.httpClient = config.HTTPClient

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(defaultLogWriter, config.Discord.DiscordGoLogLevel).
			WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)
	c.discord = newDiscord(
		config.Discord,
		slog.New(newLogHandler(defaultLogWriter, config.Discord.LogLevel)).
			With(loggerNameKey, "discord"),
	)

	c.store = NewStore(config.Rules.Cooldown)
	c.avatars = NewAvatarAnonymizer(
		config.Avatar,
		config.HTTPClient,
		c.logger.With(loggerNameKey, "avatar"),
	)

	if config.API.Enabled {
		c.api = newAPI(c, config.API, newLogHandler(defaultLogWriter, config.API.LogLevel))
	}

	return c, errors.Join(errs...)
}

func (c *Confessional) ValidateConfig() error {
	return structValidator.Struct(c.config)
}

func (c *Confessional) getLogger(ctx context.Context) (context.Context, *slog.Logger) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = c.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// Stats returns a snapshot of the store and gateway connection
func (c *Confessional) Stats() (StoreStats, DiscordStats) {
	return c.store.Stats(), c.discord.Stats()
}

// initDB opens and migrates the report database, if one is configured
func (c *Confessional) initDB(ctx context.Context) error {
	if c.config.Database == "" {
		c.logger.WarnContext(ctx, "no database configured, reports won't be recorded")
		return nil
	}
	gormLogger := newGORMLogger(
		newLogHandler(defaultLogWriter, c.config.DatabaseLogLevel),
		c.config.DatabaseSlowThreshold,
	)
	db, err := CreateDB(ctx, c.config.DatabaseType, c.config.Database, gormLogger)
	if err != nil {
		return err
	}
	c.reports = &ReportLog{db: db, logger: c.logger.With(loggerNameKey, "reports")}
	return nil
}

// initDiscordSession creates the session (if needed) and adds the
// gateway handlers
func (c *Confessional) initDiscordSession(ctx context.Context) error {
	if c.discord.session == nil {
		session, err := c.discord.newSession()
		if err != nil {
			return err
		}
		c.discord.session = session
	}
	for _, remove := range c.discord.discordgoRemoveHandlerFuncs {
		remove()
	}
	// handlers in flight at shutdown get to finish their discord calls
	ctx = context.WithoutCancel(ctx)

	c.discord.session.SetIdentify(
		discordgo.Identify{
			Intents: c.config.Discord.GatewayIntents,
			Presence: discordgo.GatewayStatusUpdate{
				Status: string(discordgo.StatusOnline),
			},
		},
	)

	c.discord.discordgoRemoveHandlerFuncs = []func(){
		c.discord.session.AddHandler(c.discord.handlerConnect()),
		c.discord.session.AddHandler(c.discord.handlerDisconnect()),
		c.discord.session.AddHandler(c.discord.handlerReady()),
		c.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				c.runtimeWG.Add(1)
				go func() {
					defer c.runtimeWG.Done()
					c.handleInteraction(ctx, i)
				}()
			},
		),
		c.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				c.runtimeWG.Add(1)
				go func() {
					defer c.runtimeWG.Done()
					c.handleMessage(ctx, m)
				}()
			},
		),
	}
	return nil
}

// Run connects to discord and handles events until ctx is canceled,
// then shuts down gracefully
func (c *Confessional) Run(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	logger := c.logger
	if err := c.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}
	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(
		ctx,
		slog.LevelInfo,
		"starting",
		slog.Any("config", c.config),
		slog.String("version", Version),
	)

	startCtx, startCancel := context.WithTimeout(ctx, c.config.StartupTimeout)
	defer startCancel()

	if err := c.initDB(startCtx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	if err := c.initDiscordSession(ctx); err != nil {
		return fmt.Errorf("error creating discord session: %w", err)
	}

	logger.InfoContext(ctx, "connecting to discord")
	if err := c.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	if c.config.Discord.ApplicationID != "" {
		if _, err := c.discord.registerCommands(discordgo.WithContext(startCtx)); err != nil {
			logger.ErrorContext(ctx, "error registering commands", tint.Err(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if c.api != nil {
		g.Go(
			func() error {
				if err := c.api.Serve(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			},
		)
	}

	c.signalReady <- struct{}{}
	logger.InfoContext(ctx, "ready")

	// blocks until the parent context is canceled, or the API fails
	<-gctx.Done()
	shutdownErr := c.shutdown(ctx)
	return errors.Join(g.Wait(), shutdownErr)
}

func (c *Confessional) shutdown(ctx context.Context) error {
	c.logger.WarnContext(ctx, "shutting down", "shutdown_timeout", c.config.ShutdownTimeout)
	closeCtx, cancel := context.WithTimeout(context.Background(), c.config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if c.api != nil {
		if err := c.api.Shutdown(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("error shutting down API: %w", err))
		}
	}

	for _, remove := range c.discord.discordgoRemoveHandlerFuncs {
		remove()
	}
	if err := c.discord.session.Close(); err != nil {
		errs = append(errs, fmt.Errorf("error closing discord session: %w", err))
	}

	handlersDone := make(chan struct{})
	go func() {
		c.runtimeWG.Wait()
		close(handlersDone)
	}()
	select {
	case <-handlersDone:
	case <-closeCtx.Done():
		errs = append(errs, errors.New("handlers did not finish before shutdown timeout"))
	}

	// pending requests can't be decided after restart
	for _, req := range c.contacts.drain() {
		req.mu.Lock()
		if req.timer != nil {
			req.timer.Stop()
		}
		req.mu.Unlock()
	}
	c.store.Close()

	if c.reports != nil {
		if err := c.reports.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing database: %w", err))
		}
	}
	c.logger.InfoContext(ctx, "shutdown complete")
	return errors.Join(errs...)
}
