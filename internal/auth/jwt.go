package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims represents the claims in a caller identity token.
type IdentityClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"` // always "caller" for now
	jwt.RegisteredClaims
}

var jwtSecret = []byte("your-secret-key")

// SetSecret overrides the signing secret. Called once at startup from config.
func SetSecret(secret string) {
	if secret != "" {
		jwtSecret = []byte(secret)
	}
}

// GenerateIdentityToken generates a JWT identity token for a caller.
func GenerateIdentityToken(userID string) (string, error) {
	claims := &IdentityClaims{
		UserID: userID,
		Role:   "caller",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ValidateToken validates a JWT identity token and returns the claims.
func ValidateToken(tokenString string) (*IdentityClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		return jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*IdentityClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrInvalidKey
}
