package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/goevery/notifier/internal/auth"
	"github.com/goevery/notifier/internal/dispatch"
	"github.com/goevery/notifier/internal/handler"
	"github.com/goevery/notifier/internal/ierr"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

var scanFailed = map[string]string{"error": "Failed to process scan"}

type ErrorEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

type RESTServer struct {
	logger *zap.Logger

	ingestHandler  handler.IngestHandlerInterface
	forwardHandler handler.ForwardHandlerInterface
	healthHandler  *handler.HealthHandler
	authenticator  *auth.Authenticator
}

// NewRESTServer wires the HTTP endpoints. forwardHandler may be nil, in
// which case the scan endpoint is not registered.
func NewRESTServer(
	logger *zap.Logger,
	ingestHandler handler.IngestHandlerInterface,
	forwardHandler handler.ForwardHandlerInterface,
	healthHandler *handler.HealthHandler,
	authenticator *auth.Authenticator,
) *RESTServer {
	return &RESTServer{
		logger,
		ingestHandler,
		forwardHandler,
		healthHandler,
		authenticator,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	router.HandleFunc("/webhook/n8n", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			return
		}

		authentication, err := s.authenticate(r)
		if err != nil {
			writeJSON(w, ierr.HTTPStatus(ierr.CodeOf(err)), ErrorEnvelope{
				Status:  "error",
				Message: "Unauthorized",
				Error:   err.Error(),
			})
			return
		}

		ctx := r.Context()
		if authentication != nil {
			ctx = auth.WithAuthentication(ctx, authentication)
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			s.logger.Warn("failed to read webhook body", zap.Error(err))
		}

		response, err := s.ingestHandler.Handle(ctx, body)
		if err != nil {
			s.logger.Error("failed to handle webhook", zap.Error(err))
			writeJSON(w, ierr.HTTPStatus(ierr.CodeOf(err)), ErrorEnvelope{
				Status:  "error",
				Message: "Failed to process webhook",
				Error:   err.Error(),
			})
			return
		}

		writeJSON(w, http.StatusOK, response)
	}).Methods(http.MethodPost, http.MethodOptions)

	if s.forwardHandler != nil {
		router.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	}

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.healthHandler.Handle())
	}).Methods(http.MethodGet)
}

func (s *RESTServer) handleScan(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body)
	if err != nil {
		s.logger.Warn("failed to parse scan body", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, scanFailed)
		return
	}

	result, err := s.forwardHandler.Handle(r.Context(), body)

	var statusErr *dispatch.StatusError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result.Body)
	case errors.As(err, &statusErr):
		writeJSON(w, statusErr.StatusCode, statusErr.Body)
	default:
		s.logger.Error("failed to forward scan", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, scanFailed)
	}
}

// authenticate returns nil without error when authentication is disabled.
func (s *RESTServer) authenticate(r *http.Request) (*auth.Authentication, error) {
	if s.authenticator == nil || !s.authenticator.Enabled() {
		return nil, nil
	}

	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")

	authentication, err := s.authenticator.Authenticate(strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}

	if !authentication.IsPublisher() {
		return nil, ierr.New(ierr.ErrorCodePermissionDenied, errors.New("publish scope required"))
	}

	return authentication, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}
