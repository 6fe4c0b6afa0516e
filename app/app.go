package huddle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/go-chi/cors"
	"github.com/putto11262002/huddle/core"
	"github.com/putto11262002/huddle/pkg/logger"
	"github.com/putto11262002/huddle/pkg/router"
	"github.com/putto11262002/huddle/pkg/server"
)

type App struct {
	config     *Config
	context    context.Context
	stop       context.CancelFunc
	server     *server.Server
	logger     *slog.Logger
	router     *router.Router
	wsManager  *core.ConnManager
	registries core.Registries
	dispatcher *core.Dispatcher

	wsHandler      *WSHandler
	inspectHandler *InspectHandler
}

// New wires the application. A nil ctx is replaced by one that is cancelled on
// SIGINT, SIGTERM, SIGQUIT or SIGHUP.
func New(ctx context.Context, config *Config) (*App, error) {
	app := &App{}
	if ctx == nil {
		ctx, app.stop = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	app.context = ctx

	if config == nil {
		var err error
		config, err = LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%s", FormatValidationErrors(err))
	}
	app.config = config

	var err error
	app.logger, err = logger.New(os.Stdout, config.Log.Level, config.Log.Format)
	if err != nil {
		return nil, err
	}

	app.wsManager = core.NewConnManager(app.context, config.ManagerConfig(),
		core.WithLogger(app.logger.With(slog.String("component", "ws"))),
		core.WithCheckOrigin(checkOrigin(config.AllowedOrigins)))
	app.registries = core.NewRegistries(app.wsManager, config.History.RoomCapacity, config.History.DMCapacity)
	app.dispatcher = core.NewDispatcher(app.registries, app.wsManager,
		core.WithDispatcherLogger(app.logger.With(slog.String("component", "dispatcher"))))

	app.wsManager.OnConnect(app.dispatcher.Connect)
	app.wsManager.OnFrame(app.dispatcher.HandleEvent)
	app.wsManager.OnDisconnect(app.dispatcher.Disconnect)
	app.wsManager.OnError(app.dispatcher.TransportError)

	app.wsHandler = NewWSHandler(app.wsManager, config.WS.DefaultRoom, app.logger)
	app.inspectHandler = NewInspectHandler(app.registries)

	app.router = router.New(router.WithLogger(app.logger))

	app.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
	}))

	app.router.Router.Get("/ws", app.wsHandler.ConnectHandler)
	app.router.Router.Get("/ws/{room}", app.wsHandler.ConnectHandler)
	app.router.Get("/healthz", app.inspectHandler.HealthHandler)

	api := router.New(router.WithLogger(app.logger))
	api.RegisterErrorMapper(core.ErrUnknownUser, func(err error) router.Error {
		return router.NewJsonError(http.StatusNotFound, core.ErrUnknownUser.Error())
	})

	api.Route("/rooms", func(r *router.Router) {
		r.Get("/", app.inspectHandler.ListRoomsHandler)
		r.Get("/{room}", app.inspectHandler.GetRoomHandler)
		r.Get("/{room}/history", app.inspectHandler.GetRoomHistoryHandler)
	})
	api.Get("/users/{id}", app.inspectHandler.GetUserHandler)

	app.router.Mount("/api", api)

	app.server = &server.Server{
		Server: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", config.Hostname, config.Port),
			Handler: app.router,
		},
		ShutdownTimeout: config.ShutdownTimeout,
		Logger:          app.logger,
		CertFile:        config.TLS.Crt,
		KeyFile:         config.TLS.Key,
	}
	if config.Mode == ProdMode {
		app.server.TLSConfig = tlsConfig()
	}
	app.AddCleanupFunc(func(ctx context.Context) {
		if err := app.wsManager.Shutdown(ctx); err != nil {
			app.logger.Error(fmt.Sprintf("closing websocket connections: %v", err))
		}
	})

	return app, nil
}

// Handler returns the root HTTP handler.
func (app *App) Handler() http.Handler {
	return app.router
}

// Start serves until the app context is cancelled, then shuts down gracefully.
func (app *App) Start() error {
	if app.stop != nil {
		defer app.stop()
	}
	app.logger.Info(fmt.Sprintf("app running in %s mode on: %s:%d",
		app.config.Mode, app.config.Hostname, app.config.Port))
	return app.server.Start(app.context)
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.server.AddCleanupFunc(f)
}

// checkOrigin allows websocket handshakes from the configured origins.
// "*" allows any origin, as does a request without an Origin header.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
