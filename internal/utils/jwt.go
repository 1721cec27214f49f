package utils // package utils provides helpers for issuing signed tokens

import (
    "errors"
    "time"

    "github.com/golang-jwt/jwt/v5"
)

// Roles recognised by the HTTP layer.  Holders need no role; the payment
// watcher and operators are identified by theirs.
const (
    RolePaymentWatcher = "PAYMENT_WATCHER"
    RoleAdmin          = "ADMIN"
)

// AccessToken is a signed HS256 JWT along with its expiry.
type AccessToken struct {
    Token string    // the serialized JWT string
    Exp   time.Time // the UTC expiration time
}

// NewAccessToken signs a token for subject with an optional role claim.
// The subject becomes the holder id of any hold created with the token.
func NewAccessToken(secret, subject, role string, ttl time.Duration) (AccessToken, error) {
    if secret == "" {
        return AccessToken{}, errors.New("jwt secret is empty")
    }
    now := time.Now().UTC()
    exp := now.Add(ttl)
    claims := jwt.MapClaims{
        "sub": subject,
        "exp": exp.Unix(),
        "iat": now.Unix(),
    }
    if role != "" {
        claims["role"] = role
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies raw with secret and returns its claims.  An
// empty secret verifies nothing.
func ParseAccessToken(secret, raw string) (jwt.MapClaims, error) {
    if secret == "" {
        return nil, errors.New("jwt secret is empty")
    }
    claims := jwt.MapClaims{}
    _, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
        return []byte(secret), nil
    }, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
    if err != nil {
        return nil, err
    }
    return claims, nil
}
