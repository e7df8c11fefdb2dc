package utils

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
)

type JwtCustomClaim struct {
	ID      int    `json:"id"`
	Role    string `json:"role"`
	IsAdmin bool   `json:"is_admin"`
	jwt.StandardClaims
}

// FileClaim authorises one blob download for the local storage provider.
type FileClaim struct {
	Path        string `json:"path"`
	Disposition string `json:"disposition"`
	jwt.StandardClaims
}

func jwtSecret() []byte {
	secret := os.Getenv("API_SECRET")
	if secret == "" {
		return []byte("DocsBackend-Secret")
	}
	return []byte(secret)
}

// TokenLifespan reads TOKEN_HOUR_LIFESPAN (hours, default 24).
func TokenLifespan() time.Duration {
	hours, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil || hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// JwtGenerate returns the signed token and its session id (jti).
func JwtGenerate(userID int, role string, isAdmin bool) (string, string, time.Time, error) {
	sessionId := uuid.NewString()
	expiresAt := time.Now().Add(TokenLifespan())

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &JwtCustomClaim{
		ID:      userID,
		Role:    role,
		IsAdmin: isAdmin,
		StandardClaims: jwt.StandardClaims{
			Id:        sessionId,
			ExpiresAt: expiresAt.Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	})

	token, err := t.SignedString(jwtSecret())
	if err != nil {
		return "", "", time.Time{}, err
	}

	return token, sessionId, expiresAt, nil
}

func JwtValidate(token string) (*jwt.Token, error) {
	return jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return jwtSecret(), nil
	})
}

func SignFileToken(path, disposition string, expiry time.Duration) (string, time.Time, error) {
	expiresAt := time.Now().Add(expiry)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &FileClaim{
		Path:        path,
		Disposition: disposition,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expiresAt.Unix(),
		},
	})
	token, err := t.SignedString(jwtSecret())
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func ValidateFileToken(token string) (*FileClaim, error) {
	parsed, err := jwt.ParseWithClaims(token, &FileClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, err
	}
	claim, ok := parsed.Claims.(*FileClaim)
	if !ok || !parsed.Valid {
		return nil, ErrUnauthorized
	}
	return claim, nil
}
