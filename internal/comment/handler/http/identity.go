package http

import (
	"context"
	"errors"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/service"
)

type ctxKey int

const (
	identityKey ctxKey = iota
	serviceKey
)

type claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator turns HS256 bearer tokens issued by the auth service into identities.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Parse(tokenString string) (model.Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return model.Identity{}, err
	}
	if !token.Valid || strings.TrimSpace(c.Subject) == "" {
		return model.Identity{}, jwt.ErrTokenInvalidClaims
	}

	username := c.Username
	if username == "" {
		username = c.Subject
	}
	return model.Identity{
		ID:       c.Subject,
		Username: username,
		Role:     model.NormalizeRole(c.Role),
	}, nil
}

// Sign issues a token for id. A zero ttl means no expiry.
func (a *Authenticator) Sign(id model.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Username: id.Username,
		Role:     string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
}

// Middleware requires a valid token in the Authorization header or, for
// browser websockets, in the access_token query parameter.
func (a *Authenticator) Middleware(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeJSON(w, stdhttp.StatusUnauthorized, map[string]any{"error": err.Error()})
			return
		}

		id, err := a.Parse(tokenString)
		if err != nil {
			writeJSON(w, stdhttp.StatusUnauthorized, map[string]any{"error": "invalid token"})
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

func bearerToken(r *stdhttp.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if t := r.URL.Query().Get("access_token"); t != "" {
			return t, nil
		}
		return "", errors.New("no authorization header")
	}

	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}

func identityFrom(r *stdhttp.Request) model.Identity {
	id, _ := r.Context().Value(identityKey).(model.Identity)
	return id
}

func serviceFrom(r *stdhttp.Request) service.CommentService {
	return r.Context().Value(serviceKey).(service.CommentService)
}
