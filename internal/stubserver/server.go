// Package stubserver is an in-memory server honoring the REST and realtime
// contract the client packages speak. It exists for local development and
// integration tests; durability, scaling and real bot inference are out of
// scope on purpose.
package stubserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat-console-core/internal/credential"
	"chat-console-core/internal/dto"
	"chat-console-core/internal/queue"
)

type apiFunc func(http.ResponseWriter, *http.Request) error

type HTTPError struct {
	StatusCode int
	Message    string
	Widget     bool
	ErrorLog   error
}

func (e *HTTPError) Error() string {
	return e.Message
}

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

type Config struct {
	ListenAddr  string
	TenantID    string
	TokenSecret string
	// RedisURL switches event fan-out to redis pub/sub so multiple stub
	// processes can share one stream. Empty keeps fan-out in-process.
	RedisURL  string
	RedisPass string
	Now       func() time.Time
}

type Server struct {
	cfg      Config
	store    *Store
	hub      *Hub
	notifier Notifier
	rqm      *queue.RequestQueueManager
}

func NewServer(cfg Config) *Server {
	if cfg.TenantID == "" {
		cfg.TenantID = "tenant-dev"
	}

	s := &Server{
		cfg:   cfg,
		store: NewStore(cfg.Now),
		hub:   NewHub(),
		rqm:   queue.NewRequestQueueManager(100, 10),
	}
	go s.hub.Run()

	if cfg.RedisURL != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPass,
			DB:       0,
		})
		s.notifier = &redisNotifier{rdb: rdb}
		go runRedisBridge(context.Background(), rdb, s.hub)
	} else {
		s.notifier = &hubNotifier{hub: s.hub}
	}
	return s
}

// Store exposes the backing state for seeding bots and availability.
func (s *Server) Store() *Store {
	return s.store
}

// TenantID is the single tenant this stub serves.
func (s *Server) TenantID() string {
	return s.cfg.TenantID
}

// Handler builds the full route table. Exposed so tests can mount it on
// httptest.Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	anyRole := []credential.Role{credential.RoleVisitor, credential.RoleTenant, credential.RoleAgent}
	mux.HandleFunc("/conversation/start", s.makeHTTPHandleFunc(s.handleStartConversation, anyRole...))
	mux.HandleFunc("/conversation/", s.makeHTTPHandleFunc(s.handleSessionMessages, anyRole...))
	mux.HandleFunc("/chat/message", s.makeHTTPHandleFunc(s.handleVisitorMessage, anyRole...))
	mux.HandleFunc("/chat/request-agent", s.makeHTTPHandleFunc(s.handleRequestAgent, anyRole...))
	mux.HandleFunc("/chat/end-session", s.makeHTTPHandleFunc(s.handleEndSession, anyRole...))
	mux.HandleFunc("/user/conversations", s.makeHTTPHandleFunc(s.handleTenantConversations, credential.RoleTenant, credential.RoleAgent))
	mux.HandleFunc("/user/conversations/", s.makeHTTPHandleFunc(s.handleConversationMessages, credential.RoleTenant, credential.RoleAgent))
	mux.HandleFunc("/user/agents/", s.makeHTTPHandleFunc(s.handleAgentConversations, credential.RoleTenant, credential.RoleAgent))
	mux.HandleFunc("/agents/conversations/", s.makeHTTPHandleFunc(s.handleAgentReply, credential.RoleAgent))
	mux.HandleFunc("/realtime", s.handleRealtime)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func (s *Server) Run() error {
	log.Printf("stubserver: listening on %s (tenant %s)", s.cfg.ListenAddr, s.cfg.TenantID)
	return http.ListenAndServe(s.cfg.ListenAddr, s.Handler())
}

func (s *Server) Shutdown() {
	s.rqm.Shutdown()
}

var corsConfig = CORSConfig{
	AllowedOrigins:   []string{"*"},
	AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
	AllowedHeaders:   []string{"Content-Type", "X-Requested-With", "Authorization"},
	AllowCredentials: true,
}

// makeHTTPHandleFunc funnels the handler through the worker pool and maps
// errors to the wire error shape. Listing roles makes the route require a
// verified bearer token with one of them.
func (s *Server) makeHTTPHandleFunc(f apiFunc, roles ...credential.Role) http.HandlerFunc {
	baseHandler := func(w http.ResponseWriter, r *http.Request) {
		errc := make(chan error, 1)

		s.rqm.EnqueueJob(queue.Job{
			Fn: func() error {
				return f(w, r)
			},
			Errc: errc,
		})

		err := <-errc
		if err == nil {
			return
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			if httpErr.ErrorLog != nil {
				log.Printf("stubserver: %v", httpErr.ErrorLog)
			}
			WriteJSON(w, httpErr.StatusCode, dto.ErrorResponse{
				Error:       httpErr.Message,
				WidgetError: httpErr.Widget,
			})
			return
		}

		var storeErr *Error
		if errors.As(err, &storeErr) {
			WriteJSON(w, statusForCode(storeErr.Code), dto.ErrorResponse{
				Error:       storeErr.Message,
				WidgetError: storeErr.Code == ErrorCodeWidget,
			})
			return
		}

		log.Printf("stubserver: internal error: %v", err)
		WriteJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
	}

	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if len(roles) > 0 {
			if _, err := s.authorize(r, roles...); err != nil {
				WriteJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: "unauthorized"})
				return
			}
		}
		baseHandler(w, r)
	}

	return Chain(handler, CORS(corsConfig), Logging())
}

func statusForCode(code ErrorCode) int {
	switch code {
	case ErrorCodeValidation, ErrorCodeWidget:
		return http.StatusBadRequest
	case ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// authorize verifies the bearer token and checks the role claim against the
// allowed set.
func (s *Server) authorize(r *http.Request, roles ...credential.Role) (credential.Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return credential.Identity{}, fmt.Errorf("missing authorization header")
	}
	tokenString := header
	if len(header) > len("Bearer ") && header[:len("Bearer ")] == "Bearer " {
		tokenString = header[len("Bearer "):]
	}

	identity, err := VerifyToken(s.cfg.TokenSecret, tokenString)
	if err != nil {
		return credential.Identity{}, err
	}
	if len(roles) == 0 {
		return identity, nil
	}
	for _, role := range roles {
		if identity.Role == role {
			return identity, nil
		}
	}
	return credential.Identity{}, fmt.Errorf("role %q not allowed", identity.Role)
}
