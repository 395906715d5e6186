package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/document"
	"github.com/trezcool/somo/core/enrollment"
	"github.com/trezcool/somo/core/generation"
	"github.com/trezcool/somo/core/metrics"
	"github.com/trezcool/somo/core/template"
	"github.com/trezcool/somo/core/user"
)

type (
	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator

		UserSvc       user.ServiceInterface
		DocumentSvc   document.ServiceInterface
		CourseSvc     course.ServiceInterface
		EnrollmentSvc enrollment.ServiceInterface
		GenerationSvc generation.ServiceInterface
		TemplateSvc   template.ServiceInterface
	}

	Server struct {
		app      *echo.Echo
		deps     ServerDeps
		auth     *Auth
		shutdown chan os.Signal
		errors   chan error
	}
)

var _ http.Handler = (*Server)(nil)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		app:      echo.New(),
		deps:     deps,
		auth:     NewAuth(deps.Conf),
		shutdown: make(chan os.Signal, 1),
		errors:   make(chan error, 1),
	}
	s.setup()
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug && !conf.TestMode

	s.app.GET("/", s.home)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	v1 := s.app.Group("/v1")
	jwt := s.auth.Middleware()
	authed := v1.Group("", jwt, activeUserMiddleware(s.deps.UserSvc))

	registerUserAPI(v1, jwt, s.auth, s.deps.UserSvc, s.deps.Validate, s.deps.Logger)
	registerDocumentAPI(authed, s.deps.DocumentSvc, s.deps.GenerationSvc, s.deps.UserSvc, s.deps.Validate)
	registerJobAPI(authed, s.deps.GenerationSvc, s.deps.UserSvc)
	registerCourseAPI(authed, s.deps.CourseSvc, s.deps.EnrollmentSvc, s.deps.UserSvc, s.deps.Validate)
	registerEnrollmentAPI(authed, s.deps.EnrollmentSvc, s.deps.UserSvc, s.deps.Validate)
	registerTemplateAPI(authed, s.deps.TemplateSvc, s.deps.UserSvc, s.deps.Validate)
	registerAnalyticsAPI(authed, s.deps.EnrollmentSvc, s.deps.UserSvc)
}

// Start listens on the configured host; errors other than a closed server end up in Errors().
func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Host); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" API!")
}
