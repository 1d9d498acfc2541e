package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/voyago/tripchat/internal/domain"
)

// Config holds the development server configuration.
type Config struct {
	Addr         string `validate:"required"`
	AgentReplies bool
}

// Server is the development chat backend. It serves the REST message
// endpoints and the WebSocket upgrade, both backed by the same in-memory
// store and hub.
type Server struct {
	E     *echo.Echo
	Cfg   Config
	Hub   *Hub
	Store *MessageStore
}

type echoValidator struct {
	validate *validator.Validate
}

func (v *echoValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

// New builds a fully wired Server. Call Start to run it.
func New(cfg Config) (*Server, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, err
	}

	store := NewMessageStore()
	s := &Server{
		E:     echo.New(),
		Cfg:   cfg,
		Hub:   NewHub(store, cfg.AgentReplies),
		Store: store,
	}
	s.E.HideBanner = true
	s.E.Validator = &echoValidator{validate: validator.New()}
	s.E.Use(echomw.Recover())
	s.RegisterRoutes()
	return s, nil
}

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	s.E.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	s.E.GET("/trips/:id/messages", s.listMessages, s.requireAuth)
	s.E.POST("/trips/:id/messages", s.postMessage, s.requireAuth)
	s.E.GET("/ws", s.handleWS)
}

// Start runs the HTTP server until ctx is canceled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	hubCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.Hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Development server listening", "addr", s.Cfg.Addr)
		errCh <- s.E.Start(s.Cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return s.E.Shutdown(shutdownCtx)
	}
}

// identity extracts the caller's identity from the bearer token. The
// development server does not verify tokens: the token itself names the
// user, either "userID" or "userID:Display Name".
func identity(r *http.Request) (userID, username string, err error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", "", errors.New("missing bearer token")
	}
	token = strings.TrimSpace(token)
	if id, name, found := strings.Cut(token, ":"); found {
		return id, name, nil
	}
	return token, token, nil
}

func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, username, err := identity(c.Request())
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		}
		c.Set("userID", userID)
		c.Set("username", username)
		return next(c)
	}
}

func (s *Server) listMessages(c echo.Context) error {
	tripID := c.Param("id")
	return c.JSON(http.StatusOK, s.Store.List(tripID))
}

type postMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

func (s *Server) postMessage(c echo.Context) error {
	tripID := c.Param("id")

	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "content is required"})
	}

	userID := c.Get("userID").(string)
	username := c.Get("username").(string)

	msg := s.Store.NewMessage(tripID, userID, username, domain.SenderHuman, req.Content, nil)
	s.Hub.Notify(tripID, evtNewMessage, msg)

	result := domain.SendResult{UserMessage: msg}
	if reply, ok := s.Hub.agentReply(msg); ok {
		result.AgentResponse = &reply
		s.Hub.Notify(tripID, evtNewMessage, reply)
	}
	return c.JSON(http.StatusCreated, result)
}

func (s *Server) handleWS(c echo.Context) error {
	userID, username, err := identity(c.Request())
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication required"})
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// Local development server; origin checks would only get in the way.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return nil
	}

	cl := &client{
		userID:   userID,
		username: username,
		conn:     conn,
		send:     make(chan []byte, sendQueueSize),
	}
	s.Hub.register <- cl

	go s.Hub.writePump(cl)
	go s.Hub.readPump(cl)
	return nil
}
