package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"loanlens/internal/handler"
	"loanlens/internal/middleware"
	"loanlens/internal/service"
)

type Server struct {
	router *gin.Engine
	loans  service.LoanService
	log    *zap.Logger
}

func NewServer(loans service.LoanService, log *zap.Logger) *Server {
	router := gin.New()
	router.Use(middleware.RequestLogger(log), middleware.Recovery(log))

	s := &Server{
		router: router,
		loans:  loans,
		log:    log,
	}

	s.setupRoutes()

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	loanHandler := handler.NewLoanHandler(s.loans, s.log)
	callHandler := handler.NewCallHandler(s.loans, s.log)

	s.router.GET("/health", loanHandler.Health)

	api := s.router.Group("/api")
	{
		api.GET("/loans", loanHandler.ListLoans)
		api.GET("/loans/:loan/calls", loanHandler.GetLoanCalls)
		api.GET("/loans/:loan/network", loanHandler.GetNetwork)
		api.GET("/loans/:loan/timeline", loanHandler.GetTimeline)
		api.GET("/users/:name/loans", loanHandler.GetUserLoans)
		api.GET("/officers/:phone/accuracy", loanHandler.GetOfficerAccuracy)

		api.POST("/transcripts", callHandler.IngestTranscript)
		api.GET("/calls/:id/facts", callHandler.GetFacts)
		api.GET("/calls/:id/transcript", callHandler.GetTranscript)
		api.GET("/calls/:id/feedback", callHandler.GetFeedback)
		api.POST("/calls/:id/feedback", callHandler.CreateFeedback)
		api.PUT("/calls/:id/feedback", callHandler.UpdateFeedback)
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("Server shutting down")
	return srv.Shutdown(shutdownCtx)
}
