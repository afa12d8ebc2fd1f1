// Package handler adapts API Gateway proxy events to the chat use case.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"todo-assistant/internal/domain"
	"todo-assistant/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type ChatUseCase interface {
	ProcessMessage(ctx context.Context, in usecase.ChatInput) (usecase.Response, error)
	ConfirmAction(ctx context.Context, in usecase.ConfirmInput) (usecase.Response, error)
}

type Handler struct {
	uc        ChatUseCase
	jwtSecret []byte
	logger    *slog.Logger
}

type Option func(*Handler)

// WithJWTSecret enables HS256 bearer tokens as a fallback principal source
// when no API Gateway authorizer is configured.
func WithJWTSecret(secret string) Option {
	return func(h *Handler) {
		if secret != "" {
			h.jwtSecret = []byte(secret)
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(uc ChatUseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type chatRequest struct {
	Message   string `json:"message"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type confirmRequest struct {
	ConfirmationToken string `json:"confirmation_token"`
	UserID            string `json:"user_id"`
	Action            string `json:"action"`
}

type chatResponse struct {
	Response              string               `json:"response"`
	Intent                string               `json:"intent,omitempty"`
	SessionID             string               `json:"session_id,omitempty"`
	ActionResult          *domain.ActionResult `json:"action_result,omitempty"`
	RequiresClarification bool                 `json:"requires_clarification,omitempty"`
	Options               []domain.TaskOption  `json:"options,omitempty"`
	RequiresConfirmation  bool                 `json:"requires_confirmation,omitempty"`
	ConfirmationToken     string               `json:"confirmation_token,omitempty"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := headerValue(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = newUUID()
	}
	logger := h.logger.With("correlation_id", corrID, "path", req.Path)

	var (
		status int
		body   any
	)
	switch route(req) {
	case "chat":
		status, body = h.chat(ctx, logger, req, corrID)
	case "confirm":
		status, body = h.confirm(ctx, logger, req, corrID)
	default:
		status, body = http.StatusNotFound, errorResponse{Error: "route not found", Code: string(usecase.ErrorValidation), CorrelationID: corrID}
	}
	if status >= 500 {
		logger.Error("request failed", "status", status)
	} else {
		logger.Info("request completed", "status", status)
	}
	return jsonResponse(status, body, corrID), nil
}

func (h *Handler) chat(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest, corrID string) (int, any) {
	if req.HTTPMethod != http.MethodPost {
		return http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Code: string(usecase.ErrorValidation), CorrelationID: corrID}
	}
	principal, err := h.principal(req)
	if err != nil {
		return h.errorResult(logger, err, corrID)
	}
	var in chatRequest
	if err := decodeBody(req, &in); err != nil {
		return http.StatusBadRequest, errorResponse{Error: "request body must be JSON", Code: string(usecase.ErrorValidation), CorrelationID: corrID}
	}
	out, err := h.uc.ProcessMessage(ctx, usecase.ChatInput{
		PrincipalID:   principal,
		ClaimedUserID: in.UserID,
		Message:       in.Message,
		SessionID:     in.SessionID,
	})
	if err != nil {
		return h.errorResult(logger, err, corrID)
	}
	return http.StatusOK, toChatResponse(out)
}

func (h *Handler) confirm(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest, corrID string) (int, any) {
	if req.HTTPMethod != http.MethodPost {
		return http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Code: string(usecase.ErrorValidation), CorrelationID: corrID}
	}
	principal, err := h.principal(req)
	if err != nil {
		return h.errorResult(logger, err, corrID)
	}
	var in confirmRequest
	if err := decodeBody(req, &in); err != nil {
		return http.StatusBadRequest, errorResponse{Error: "request body must be JSON", Code: string(usecase.ErrorValidation), CorrelationID: corrID}
	}
	var cancel bool
	switch strings.ToLower(strings.TrimSpace(in.Action)) {
	case "", "confirm":
	case "cancel":
		cancel = true
	default:
		return http.StatusBadRequest, errorResponse{Error: "action must be confirm or cancel", Code: string(usecase.ErrorValidation), CorrelationID: corrID}
	}
	out, err := h.uc.ConfirmAction(ctx, usecase.ConfirmInput{
		PrincipalID:   principal,
		ClaimedUserID: in.UserID,
		Token:         in.ConfirmationToken,
		Cancel:        cancel,
	})
	if err != nil {
		return h.errorResult(logger, err, corrID)
	}
	return http.StatusOK, toChatResponse(out)
}

// principal returns the authenticated user id. The API Gateway authorizer
// wins; a bearer token is only consulted when a JWT secret is configured.
// An empty result is rejected by the use case.
func (h *Handler) principal(req events.APIGatewayProxyRequest) (string, error) {
	if auth := req.RequestContext.Authorizer; auth != nil {
		if id, ok := auth["principalId"].(string); ok && strings.TrimSpace(id) != "" {
			return id, nil
		}
		if claims, ok := auth["claims"].(map[string]interface{}); ok {
			if sub, ok := claims["sub"].(string); ok && strings.TrimSpace(sub) != "" {
				return sub, nil
			}
		}
	}
	if len(h.jwtSecret) == 0 {
		return "", nil
	}
	raw, ok := strings.CutPrefix(headerValue(req.Headers, "Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", nil
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
		return h.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", &usecase.Error{Code: usecase.ErrorAuth, Reason: "invalid_token", Err: err}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", &usecase.Error{Code: usecase.ErrorAuth, Reason: "token_without_subject"}
	}
	return claims.Subject, nil
}

func (h *Handler) errorResult(logger *slog.Logger, err error, corrID string) (int, any) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		logger.Error("unexpected error", "err", err)
		return http.StatusInternalServerError, errorResponse{Error: errorMessages[usecase.ErrorInternal], Code: string(usecase.ErrorInternal), CorrelationID: corrID}
	}
	status := statusFor(ue.Code)
	if status >= 500 {
		logger.Error("request error", "code", ue.Code, "reason", ue.Reason, "err", ue.Err)
	} else {
		logger.Warn("request rejected", "code", ue.Code, "reason", ue.Reason)
	}
	msg, ok := errorMessages[ue.Code]
	if !ok {
		msg = errorMessages[usecase.ErrorInternal]
	}
	return status, errorResponse{Error: msg, Code: string(ue.Code), CorrelationID: corrID}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorAuth:
		return http.StatusUnauthorized
	case usecase.ErrorValidation:
		return http.StatusBadRequest
	case usecase.ErrorIntentRecognition, usecase.ErrorEntityExtraction:
		return http.StatusUnprocessableEntity
	case usecase.ErrorTaskAPI:
		return http.StatusBadGateway
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUnsafeAction:
		return http.StatusForbidden
	case usecase.ErrorConfirmationExpired:
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

var errorMessages = map[usecase.ErrorCode]string{
	usecase.ErrorAuth:                "Authentication is required.",
	usecase.ErrorValidation:          "The request is invalid.",
	usecase.ErrorIntentRecognition:   "I couldn't understand that. Could you try rephrasing?",
	usecase.ErrorEntityExtraction:    "I couldn't work out the details of that request. Could you try rephrasing?",
	usecase.ErrorTaskAPI:             "The task service is unavailable right now. Please try again.",
	usecase.ErrorRateLimited:         "Too many requests. Please slow down.",
	usecase.ErrorUnsafeAction:        "That request can't be processed.",
	usecase.ErrorConfirmationExpired: "That confirmation has expired or was already used.",
	usecase.ErrorInternal:            "Something went wrong. Please try again.",
}

func toChatResponse(out usecase.Response) chatResponse {
	return chatResponse{
		Response:              out.Text,
		Intent:                string(out.Intent),
		SessionID:             out.SessionID,
		ActionResult:          out.ActionResult,
		RequiresClarification: out.RequiresClarification,
		Options:               out.Options,
		RequiresConfirmation:  out.RequiresConfirmation,
		ConfirmationToken:     out.ConfirmationToken,
	}
}

func route(req events.APIGatewayProxyRequest) string {
	p := req.Resource
	if p == "" {
		p = req.Path
	}
	p = strings.TrimRight(p, "/")
	switch {
	case strings.HasSuffix(p, "/chat"):
		return "chat"
	case strings.HasSuffix(p, "/confirm"):
		return "confirm"
	}
	return ""
}

func decodeBody(req events.APIGatewayProxyRequest, v any) error {
	raw := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return fmt.Errorf("decode base64 body: %w", err)
		}
		raw = decoded
	}
	return json.Unmarshal(raw, v)
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, body any, corrID string) events.APIGatewayProxyResponse {
	buf, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		buf = []byte(`{"error":"Something went wrong. Please try again.","code":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(buf),
	}
}

var newUUID = func() string {
	return uuid.NewString()
}
