package router

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/handler"
	"github.com/stemsi/exstem-client/internal/service"
	"github.com/stemsi/exstem-client/internal/validator"
)

// Sandbox is a fully wired reference server with the demo student and exam seeded.
type Sandbox struct {
	Engine   *gin.Engine
	Auth     *service.AuthService
	Sessions *service.ExamSessionService
}

// NewSandbox wires services, handlers and routes. A nil clock uses time.Now.
func NewSandbox(ctx context.Context, cfg *config.Config, now func() time.Time, log zerolog.Logger) (*Sandbox, error) {
	validator.Setup()

	authService := service.NewAuthService(cfg)
	sessionService := service.NewExamSessionService(authService, now, log)
	if err := service.SeedDemo(authService, sessionService); err != nil {
		return nil, err
	}

	handlers := &Handlers{
		Auth:          handler.NewAuthHandler(authService),
		StudentPortal: handler.NewStudentPortalHandler(sessionService),
		WS:            handler.NewWSHandler(sessionService, log, cfg.AllowedOrigins),
	}

	return &Sandbox{
		Engine:   SetupRouter(ctx, authService, handlers, cfg),
		Auth:     authService,
		Sessions: sessionService,
	}, nil
}
