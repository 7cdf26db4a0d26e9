package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	sessionKey    = "session_id"
	sessionIssuer = "roomalloc-service"
)

// SessionIssuer signs and verifies the tokens that carry a participant's session id.
type SessionIssuer struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewSessionIssuer(secret string, ttl time.Duration) *SessionIssuer {
	return &SessionIssuer{Secret: []byte(secret), TTL: ttl, Now: time.Now}
}

type sessionClaims struct {
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// Issue генерує JWT з ідентифікатором сесії
func (s *SessionIssuer) Issue(sessionID string) (string, time.Time, error) {
	now := s.Now()
	exp := now.Add(s.TTL)
	claims := sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	return token, exp, err
}

// Parse verifies the token and returns its session id.
func (s *SessionIssuer) Parse(tokenString string) (string, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return s.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.Now),
	)
	if err != nil {
		return "", err
	}
	if claims.SessionID == "" {
		return "", errors.New("token carries no session id")
	}
	return claims.SessionID, nil
}

// NewSession створює новий sessionId та повертає JWT
func (h *Handler) NewSession(c *gin.Context) {
	sessionID := uuid.NewString()
	token, exp, err := h.Sessions.Issue(sessionID)
	if err != nil {
		h.Log.ErrorContext(c.Request.Context(), "failed to sign session token", "error", err)
		h.abort(c, http.StatusInternalServerError, "error.internal")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "sessionId": sessionID, "expiresAt": exp.UTC()})
}

// bearer extracts the token from the Authorization header or, for WebSocket
// upgrades where browsers cannot set headers, from the token query parameter.
func bearer(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return c.Query("token")
}

// RequireSession rejects requests without a valid token and stores the
// caller's session id in the gin context.
func (h *Handler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c)
		if token == "" {
			h.abort(c, http.StatusUnauthorized, "error.unauthorized")
			return
		}
		sessionID, err := h.Sessions.Parse(token)
		if err != nil {
			h.abort(c, http.StatusUnauthorized, "error.unauthorized")
			return
		}
		c.Set(sessionKey, sessionID)
		c.Next()
	}
}

func session(c *gin.Context) string {
	return c.GetString(sessionKey)
}
