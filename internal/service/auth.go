package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"consultation_chat/internal/config"
	"consultation_chat/internal/domain"
	"consultation_chat/internal/repository"
	apperrors "consultation_chat/pkg/errors"
	"consultation_chat/pkg/jwt"
	"consultation_chat/pkg/logger"
)

// AuthGate проверяет учетные данные соединения или запроса до любых изменений реестра.
type AuthGate interface {
	Authenticate(ctx context.Context, credential string) (*domain.Identity, error)
}

type authGate struct {
	userRepo repository.UserRepository
	jwtCfg   config.JWTConfig
	log      logger.Logger
}

func NewAuthGate(userRepo repository.UserRepository, jwtCfg config.JWTConfig, log logger.Logger) AuthGate {
	return &authGate{
		userRepo: userRepo,
		jwtCfg:   jwtCfg,
		log:      log,
	}
}

func (s *authGate) Authenticate(ctx context.Context, credential string) (*domain.Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, apperrors.ErrMissingCredential
	}

	claims, err := jwt.ValidateToken(credential, s.jwtCfg.AccessSecret, s.jwtCfg.Issuer)
	if err != nil {
		s.log.Debug("Token validation failed", "error", err)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidCredential, err)
	}

	// Роль берется из хранилища: токен мог быть выпущен до смены роли
	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrUnknownSubject
		}
		return nil, apperrors.NewStorageError("get user", err)
	}
	if !user.IsActive {
		return nil, apperrors.ErrUnknownSubject
	}

	return &domain.Identity{UserID: user.ID, Role: user.Role}, nil
}

// BearerProtocol - подпротокол websocket, через который браузерный клиент передает токен:
// Sec-WebSocket-Protocol: bearer, <token>
const BearerProtocol = "bearer"

// ExtractCredential ищет токен в порядке: подпротокол websocket, заголовок Authorization, параметр token.
// Побеждает первый непустой.
func ExtractCredential(r *http.Request) string {
	if token := credentialFromProtocol(r.Header.Get("Sec-WebSocket-Protocol")); token != "" {
		return token
	}

	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}

	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func credentialFromProtocol(header string) string {
	if header == "" {
		return ""
	}

	parts := strings.Split(header, ",")
	for i := 0; i < len(parts)-1; i++ {
		if strings.EqualFold(strings.TrimSpace(parts[i]), BearerProtocol) {
			return strings.TrimSpace(parts[i+1])
		}
	}
	return ""
}
