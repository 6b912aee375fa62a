package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ChatRelay/tools/decode"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options 控制签名与TTL等参数。
type Options struct {
	Secret []byte        // HMAC key, from env/flags in production
	Alg    string        // HS256/HS384/HS512, default HS256
	TTL    time.Duration // token lifetime for Generate, default 2h
}

type JWTClaims struct {
	jwtlib.MapClaims
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Generate signs a token for userID. The auth layer issues the real tokens;
// the relay only needs this for tooling and tests.
func Generate(opts Options, userID int64, extra map[string]any) (string, time.Time, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"id":  userID,
		"sub": fmt.Sprint(userID),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}

	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func Verify(opts Options, token string) (*JWTClaims, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	}, jwtlib.WithValidMethods([]string{method.Alg()}))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("claims type mismatch")
	}
	return &JWTClaims{claims}, nil
}

// UserID returns the user the token was issued for: the "id" claim, or a
// numeric "sub".
func (c *JWTClaims) UserID() (int64, error) {
	if id, err := decode.ReadInt64(c.MapClaims, "id"); err == nil {
		return id, nil
	}
	id, err := decode.ReadInt64(c.MapClaims, "sub")
	if err != nil {
		return 0, errors.New("token carries no user id")
	}
	return id, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
