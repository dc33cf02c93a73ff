package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
)

// Claims follows the hosted identity provider's token layout: the role sits
// in app_metadata, older tokens carry it at the top level.
type Claims struct {
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
	AppMetadata struct {
		Role string `json:"role,omitempty"`
	} `json:"app_metadata"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 tokens signed with the provider's shared secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTVerifier{secret: []byte(secret), parser: jwt.NewParser(opts...)}
}

func (v *JWTVerifier) Verify(tokenString string) (domain.Identity, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if !token.Valid || claims.Subject == "" {
		return domain.Identity{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}

	role := claims.AppMetadata.Role
	if role == "" {
		role = claims.Role
	}
	return domain.Identity{UserID: claims.Subject, Email: claims.Email, Role: role}, nil
}

// Sign issues a token for id. The server only verifies; this exists for
// local tooling and tests.
func (v *JWTVerifier) Sign(id domain.Identity, claims jwt.RegisteredClaims) (string, error) {
	c := Claims{Email: id.Email, RegisteredClaims: claims}
	c.Subject = id.UserID
	c.AppMetadata.Role = id.Role
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}
