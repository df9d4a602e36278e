package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	secret := []byte("secret")
	token, err := GenerateSessionToken("user-1", "Ada", time.Now().Add(time.Hour), secret)
	require.NoError(t, err)

	claims, err := ParseSessionToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "Ada", claims.Name)
	assert.Equal(t, Issuer, claims.Issuer)
}

func TestParseSessionTokenRejects(t *testing.T) {
	secret := []byte("secret")

	expired, err := GenerateSessionToken("user-1", "", time.Now().Add(-time.Minute), secret)
	require.NoError(t, err)

	otherAudience := jwt.NewWithClaims(jwt.SigningMethodHS256, &ClaimsMessage{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   Issuer,
			Audience: jwt.ClaimStrings{"user.access-token"},
			Subject:  "user-1",
		},
	})
	otherAudienceToken, err := otherAudience.SignedString(secret)
	require.NoError(t, err)

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, &ClaimsMessage{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   Issuer,
			Audience: jwt.ClaimStrings{SessionAudienceName},
		},
	})
	noSubjectToken, err := noSubject.SignedString(secret)
	require.NoError(t, err)

	valid, err := GenerateSessionToken("user-1", "", time.Time{}, secret)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret []byte
	}{
		{"expired", expired, secret},
		{"wrong secret", valid, []byte("other")},
		{"wrong audience", otherAudienceToken, secret},
		{"no subject", noSubjectToken, secret},
		{"garbage", "not-a-token", secret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSessionToken(tt.token, tt.secret)
			assert.Error(t, err)
		})
	}
}

func TestGenerateSessionTokenRequiresUser(t *testing.T) {
	_, err := GenerateSessionToken("", "", time.Time{}, []byte("secret"))
	assert.Error(t, err)
}
