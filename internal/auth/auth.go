// Package auth guards the control API with basic credentials, static bearer
// tokens, and short-lived JWTs issued against those credentials.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNoCredentials      = errors.New("authentication required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

const issuer = "stackd"

// Config is the [server.auth] table. Users are "name:bcrypt-hash" lines as
// printed by `stackd auth hash-password`.
type Config struct {
	Enabled    bool          `mapstructure:"enabled"`
	Users      []string      `mapstructure:"users"`
	Tokens     []string      `mapstructure:"tokens"`
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

// Result describes an authenticated caller.
type Result struct {
	Subject string
	Method  string // basic, token or jwt
}

// Token is a signed JWT handed out by Login.
type Token struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service checks request credentials.
type Service struct {
	users    map[string][]byte
	tokens   [][]byte
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

// New validates c and builds a Service. A missing jwt_secret is replaced by
// a random one, so issued tokens do not survive a daemon restart.
func New(c Config) (*Service, error) {
	s := &Service{
		users:    make(map[string][]byte, len(c.Users)),
		tokenTTL: c.TokenTTL,
		now:      time.Now,
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = 12 * time.Hour
	}
	for _, line := range c.Users {
		name, hash, ok := strings.Cut(line, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("auth user %q: expected name:hash", line)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("auth user %s: %w", name, err)
		}
		if _, dup := s.users[name]; dup {
			return nil, fmt.Errorf("auth user %s: duplicate", name)
		}
		s.users[name] = []byte(hash)
	}
	for _, t := range c.Tokens {
		if t == "" {
			return nil, errors.New("auth token must not be empty")
		}
		s.tokens = append(s.tokens, []byte(t))
	}
	if len(s.users) == 0 && len(s.tokens) == 0 {
		return nil, errors.New("auth enabled without users or tokens")
	}
	if c.JWTSecret != "" {
		s.secret = []byte(c.JWTSecret)
	} else {
		s.secret = make([]byte, 32)
		if _, err := rand.Read(s.secret); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
	}
	return s, nil
}

// HashPassword returns the bcrypt hash of password. cost 0 means bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Login checks basic credentials and issues a JWT for the user.
func (s *Service) Login(username, password string) (*Token, error) {
	if err := s.checkPassword(username, password); err != nil {
		return nil, err
	}
	exp := s.now().Add(s.tokenTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(s.now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{Type: "Bearer", Value: signed, ExpiresAt: exp.UTC()}, nil
}

// Authenticate inspects the Authorization header of r.
func (s *Service) Authenticate(r *http.Request) (*Result, error) {
	if user, pass, ok := r.BasicAuth(); ok {
		if err := s.checkPassword(user, pass); err != nil {
			return nil, err
		}
		return &Result{Subject: user, Method: "basic"}, nil
	}
	h := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || raw == "" {
		return nil, ErrNoCredentials
	}
	for _, t := range s.tokens {
		if subtle.ConstantTimeCompare(t, []byte(raw)) == 1 {
			return &Result{Subject: "token", Method: "token"}, nil
		}
	}
	sub, err := s.verifyJWT(raw)
	if err != nil {
		return nil, err
	}
	return &Result{Subject: sub, Method: "jwt"}, nil
}

func (s *Service) checkPassword(username, password string) error {
	hash, ok := s.users[username]
	if !ok || password == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (s *Service) verifyJWT(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if _, ok := s.users[claims.Subject]; !ok {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
