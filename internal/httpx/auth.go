package httpx

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errUnauthenticated = errors.New("token de acceso inválido o ausente")

type userKey struct{}

// Authenticator checks HS256 bearer tokens whose subject is the numeric
// user id.
type Authenticator struct {
	Secret []byte
}

func (a Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.parse(r.Header.Get("Authorization"))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: errUnauthenticated.Error()})
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a Authenticator) parse(header string) (int64, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return 0, errUnauthenticated
	}
	tok, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, err
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(sub, 10, 64)
}

// UserID returns the authenticated user stored by Authenticator.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userKey{}).(int64)
	return id, ok
}

// SignToken issues a token for userID. It exists for tests and local tooling.
func SignToken(secret []byte, userID int64) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: strconv.FormatInt(userID, 10),
	}).SignedString(secret)
}
