package api

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"ops-console/domain"
)

const defaultJWKSCacheTTL = 15 * time.Minute

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

// AuthConfig selects how tokens are verified and where roles are read from.
type AuthConfig struct {
	Audience string
	Issuer   string
	// TestSecret switches verification to HS256 with a shared secret.
	TestSecret        []byte
	RolesClaim        string
	RoleTemplateClaim string
	KeyCacheTTL       time.Duration
}

// Auth validates incoming JWT tokens and extracts the caller's roles.
type Auth struct {
	JWKS *keyfunc.JWKS
	cfg  AuthConfig

	parser   *jwt.Parser
	keyCache sync.Map
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates a new Auth instance. jwks may be nil in test mode.
func NewAuth(jwks *keyfunc.JWKS, cfg AuthConfig) *Auth {
	if cfg.RolesClaim == "" {
		cfg.RolesClaim = "roles"
	}
	if cfg.RoleTemplateClaim == "" {
		cfg.RoleTemplateClaim = "role_template"
	}
	if cfg.KeyCacheTTL == 0 {
		cfg.KeyCacheTTL = defaultJWKSCacheTTL
	}
	a := &Auth{JWKS: jwks, cfg: cfg}
	if len(cfg.TestSecret) > 0 {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a
}

// PrincipalFromAuthHeader resolves the caller from the Authorization header.
func (a *Auth) PrincipalFromAuthHeader(h string) (domain.Principal, error) {
	token, err := bearerToken(h)
	if err != nil {
		return domain.Principal{}, err
	}
	return a.PrincipalFromBearer(token)
}

// PrincipalFromBearer verifies a raw token and reads sub, roles and role template.
func (a *Auth) PrincipalFromBearer(token string) (domain.Principal, error) {
	if token == "" {
		return domain.Principal{}, errBadAuthorization
	}

	parsed, err := a.parser.Parse(token, a.keyFunc)
	if err != nil {
		return domain.Principal{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Principal{}, errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return domain.Principal{}, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return domain.Principal{}, errors.New("token not valid yet")
	}
	if a.cfg.Audience != "" && !claims.VerifyAudience(a.cfg.Audience, false) {
		return domain.Principal{}, errors.New("invalid audience")
	}
	if a.cfg.Issuer != "" && !claims.VerifyIssuer(a.cfg.Issuer, false) {
		return domain.Principal{}, errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return domain.Principal{}, errors.New("missing sub")
	}
	tpl, _ := claims[a.cfg.RoleTemplateClaim].(string)
	return domain.Principal{
		UserID:       sub,
		Roles:        rolesFromClaim(claims[a.cfg.RolesClaim]),
		RoleTemplate: tpl,
	}, nil
}

func (a *Auth) keyFunc(t *jwt.Token) (any, error) {
	if len(a.cfg.TestSecret) > 0 {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.cfg.TestSecret, nil
	}
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := t.Header["kid"].(string)
	if kid != "" && a.cfg.KeyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(t)
	if err != nil {
		return nil, err
	}
	if kid != "" && a.cfg.KeyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.cfg.KeyCacheTTL)})
	}
	return key, nil
}

// rolesFromClaim accepts a JSON array of strings or a space separated string.
func rolesFromClaim(v any) []string {
	switch roles := v.(type) {
	case []any:
		out := make([]string, 0, len(roles))
		for _, r := range roles {
			if s, ok := r.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return roles
	case string:
		return strings.Fields(roles)
	}
	return nil
}

func bearerToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok || token == "" {
		return "", errBadAuthorization
	}
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}
