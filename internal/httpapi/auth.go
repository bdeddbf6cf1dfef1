package httpapi

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidPIN = errors.New("invalid pin")

var pinPattern = regexp.MustCompile(`^\d{6}$`)

const (
	adminRole    = "admin"
	bcryptCost   = 12
	defaultTTL   = 8 * time.Hour
	tokenIssuer  = "melek"
	secretLength = 32
)

type AuthConfig struct {
	PIN     string
	PINHash string
	Secret  string
	TTL     time.Duration
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Auth guards the admin surface with a bcrypt-hashed PIN and short-lived
// HS256 session tokens.
type Auth struct {
	pinHash []byte
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewAuth builds the admin guard. A plain PIN is hashed at startup; without a
// secret a random one is drawn and sessions do not survive a restart.
func NewAuth(cfg AuthConfig) (*Auth, error) {
	auth := &Auth{ttl: cfg.TTL, now: time.Now}
	if auth.ttl <= 0 {
		auth.ttl = defaultTTL
	}
	switch {
	case cfg.PINHash != "":
		auth.pinHash = []byte(cfg.PINHash)
	case cfg.PIN != "":
		hash, err := HashPIN(cfg.PIN)
		if err != nil {
			return nil, err
		}
		auth.pinHash = []byte(hash)
	default:
		return nil, errors.New("admin pin not configured")
	}
	if cfg.Secret != "" {
		auth.secret = []byte(cfg.Secret)
	} else {
		auth.secret = make([]byte, secretLength)
		if _, err := rand.Read(auth.secret); err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
	}
	return auth, nil
}

// HashPIN returns the bcrypt hash to store in ADMIN_PIN_HASH.
func HashPIN(pin string) (string, error) {
	if !pinPattern.MatchString(pin) {
		return "", errors.New("admin pin must be 6 digits")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash admin pin: %w", err)
	}
	return string(hash), nil
}

// Login exchanges a PIN for a signed session token.
func (a *Auth) Login(pin string) (string, time.Time, error) {
	if !pinPattern.MatchString(pin) {
		return "", time.Time{}, ErrInvalidPIN
	}
	if err := bcrypt.CompareHashAndPassword(a.pinHash, []byte(pin)); err != nil {
		return "", time.Time{}, ErrInvalidPIN
	}
	now := a.now()
	expiresAt := now.Add(a.ttl)
	claims := Claims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   adminRole,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (a *Auth) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Role != adminRole {
		return nil, errors.New("token is not an admin session")
	}
	return claims, nil
}

func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		if _, err := a.Verify(token); err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type loginRequest struct {
	PIN string `json:"pin"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	token, expiresAt, err := h.auth.Login(req.PIN)
	if err != nil {
		if errors.Is(err, ErrInvalidPIN) {
			h.log.Warn().Str("ip", clientIP(r)).Msg("admin login rejected")
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}
