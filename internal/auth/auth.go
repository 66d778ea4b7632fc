package auth

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/papertrade/papertrade-api/internal/storage"
	"github.com/papertrade/papertrade-api/internal/types"
	"github.com/papertrade/papertrade-api/pkg/response"
)

var (
	ErrUserExists      = errors.New("user already registered")
	ErrUnknownUser     = errors.New("user not registered")
	ErrTokenGeneration = errors.New("failed to generate token")
)

// RegisterRequest creates a paper-trading account.
type RegisterRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Nickname string `json:"nickname"`
}

// TokenRequest exchanges a registered user id for a JWT.
type TokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// TokenResponse carries the issued JWT and its expiration.
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims is the JWT claims structure. UserID keys every trading operation.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// Service handles account registration and token issuance.
type Service struct {
	jwtSecret       []byte
	db              *storage.Database
	startingBalance float64
}

// NewService creates the authentication service. New accounts are seeded
// with startingBalance in the settlement currency.
func NewService(jwtSecret string, db *storage.Database, startingBalance float64) *Service {
	return &Service{
		jwtSecret:       []byte(jwtSecret),
		db:              db,
		startingBalance: startingBalance,
	}
}

// Register creates a trading account with the configured starting balance.
func (s *Service) Register(userID, nickname string) (*types.User, error) {
	existing, err := s.db.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	if nickname == "" {
		nickname = userID
	}
	user := &types.User{
		UserID:      userID,
		Nickname:    nickname,
		Balance:     s.startingBalance,
		TotalAssets: s.startingBalance,
	}
	if err := s.db.CreateUser(user); err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID).
		Float64("starting_balance", s.startingBalance).
		Msg("trading account registered")

	return user, nil
}

// GenerateToken issues a 24-hour JWT for a registered user.
func (s *Service) GenerateToken(userID string) (*TokenResponse, error) {
	user, err := s.db.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUnknownUser
	}

	expiration := time.Now().Add(24 * time.Hour)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
	}, nil
}

// ValidateToken verifies signature and expiration and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// RegisterHandler handles POST requests to create trading accounts. The
// response includes the new account and a ready-to-use token.
func (h *GinHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		user, err := h.service.Register(req.UserID, req.Nickname)
		if err != nil {
			if errors.Is(err, ErrUserExists) {
				response.Conflict(c, err.Error())
				return
			}
			log.Error().Err(err).Str("user_id", req.UserID).Msg("registration failed")
			response.InternalError(c, "registration failed")
			return
		}

		token, err := h.service.GenerateToken(user.UserID)
		if err != nil {
			log.Error().Err(err).Str("user_id", req.UserID).Msg("token issuance failed")
			response.InternalError(c, "registration failed")
			return
		}

		response.Success(c, gin.H{"user": user, "auth": token})
	}
}

// GenerateTokenHandler handles POST requests to issue JWTs for existing
// accounts.
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(req.UserID)
		if err != nil {
			if errors.Is(err, ErrUnknownUser) {
				response.Unauthorized(c, err.Error())
				return
			}
			log.Error().Err(err).Str("user_id", req.UserID).Msg("token issuance failed")
			response.InternalError(c, "token issuance failed")
			return
		}

		response.Success(c, token)
	}
}
