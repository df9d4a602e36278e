package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const (
	// Issuer is the issuer of session tokens.
	Issuer = "lumichat"
	// KeyID is the key id placed in the token header.
	KeyID = "v1"
	// SessionAudienceName is the audience of session tokens.
	SessionAudienceName = "user.session"
	// DefaultSessionDuration is the lifetime of tokens minted by the CLI.
	DefaultSessionDuration = 7 * 24 * time.Hour
)

// ClaimsMessage is the payload of a session token. The subject is the user id.
type ClaimsMessage struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// GenerateSessionToken mints a session token for userID signed with secret.
// A zero expiresAt produces a token without expiry.
func GenerateSessionToken(userID, name string, expiresAt time.Time, secret []byte) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	registeredClaims := jwt.RegisteredClaims{
		Issuer:   Issuer,
		Audience: jwt.ClaimStrings{SessionAudienceName},
		IssuedAt: jwt.NewNumericDate(time.Now()),
		Subject:  userID,
	}
	if !expiresAt.IsZero() {
		registeredClaims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &ClaimsMessage{
		Name:             name,
		RegisteredClaims: registeredClaims,
	})
	token.Header["kid"] = KeyID

	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign session token")
	}
	return tokenString, nil
}

// ParseSessionToken verifies the signature, issuer, audience and expiry of a session token.
func ParseSessionToken(tokenString string, secret []byte) (*ClaimsMessage, error) {
	claims := &ClaimsMessage{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if kid, ok := t.Header["kid"].(string); ok && kid != KeyID {
			return nil, errors.Errorf("unexpected kid: %v", kid)
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(SessionAudienceName),
	)
	if err != nil {
		return nil, errors.Wrap(err, "invalid session token")
	}
	if claims.Subject == "" {
		return nil, errors.New("session token has no subject")
	}
	return claims, nil
}
