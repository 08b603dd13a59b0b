package auth

import (
	"fmt"
	"strings"

	"github.com/foldstream/foldstream/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

type PrincipalKind string

const (
	PrincipalUser   PrincipalKind = "USER"
	PrincipalWorker PrincipalKind = "WORKER"
	PrincipalApp    PrincipalKind = "APP"
)

// Principal is the verified identity behind a socket or HTTP credential.
type Principal struct {
	Kind          PrincipalKind
	UserID        string
	WorkerKeyID   string
	AppIdentifier string
	Scopes        []string
}

func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scope,omitempty"`
}

// TokenVerifier validates the platform's HMAC-signed credentials. The token
// subject encodes the principal kind: USER:<id>, WORKER:<workerKeyId> or
// APP:<identifier>.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
	}
}

func (v *TokenVerifier) VerifyToken(tokenString string) (Principal, error) {
	var claims tokenClaims

	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Principal{}, domain.NewWorkerInvalidError("invalid token: %v", err)
	}
	if !token.Valid {
		return Principal{}, domain.NewWorkerInvalidError("invalid token")
	}

	kind, id, ok := strings.Cut(claims.Subject, ":")
	if !ok {
		return Principal{}, domain.NewWorkerInvalidError("malformed token subject")
	}

	principal := Principal{Scopes: claims.Scopes}

	switch PrincipalKind(kind) {
	case PrincipalUser:
		principal.Kind = PrincipalUser
		principal.UserID = id
	case PrincipalWorker:
		principal.Kind = PrincipalWorker
		principal.WorkerKeyID = id
	case PrincipalApp:
		principal.Kind = PrincipalApp
		principal.AppIdentifier = id
	default:
		return Principal{}, domain.NewWorkerInvalidError("unknown principal kind %s", kind)
	}

	if id == "" {
		return Principal{}, domain.NewWorkerInvalidError("empty principal id")
	}

	return principal, nil
}

// SocketConnectScope names the scope a user token needs to join a folder
// room.
func SocketConnectScope(folderID string) string {
	return "socket_connect:" + folderID
}
