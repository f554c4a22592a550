package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/domain"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/store"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAuthorizationDenied = errors.New("authorization denied")
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthManager issues and verifies access tokens and checks manager
// override passwords. Both the login password and the manager password
// are stored as per-user bcrypt hashes.
type AuthManager struct {
	repo     store.Repository
	secret   []byte
	tokenTTL time.Duration
}

func NewAuthManager(repo store.Repository, secret string, tokenTTL time.Duration) *AuthManager {
	if tokenTTL < time.Minute {
		tokenTTL = 12 * time.Hour
	}
	return &AuthManager{repo: repo, secret: []byte(secret), tokenTTL: tokenTTL}
}

func (a *AuthManager) Login(ctx context.Context, username string, password string) (*domain.LoginResponse, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := a.repo.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.Active {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	expiresAt := time.Now().Add(a.tokenTTL)
	claims := Claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, err
	}

	return &domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		ExpiresAt:   expiresAt.UTC().Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenString string) (*domain.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrAuthorizationDenied
	}
	if claims.Subject == "" {
		return nil, ErrAuthorizationDenied
	}
	return &domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

// VerifyManagerPassword checks a sensitive-operation override against
// the acting user's own manager password hash. Users without a manager
// password configured are always denied.
func (a *AuthManager) VerifyManagerPassword(ctx context.Context, username string, password string) (bool, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return false, nil
	}

	user, err := a.repo.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !user.Active || user.ManagerPassword == "" {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(user.ManagerPassword), []byte(password)) == nil, nil
}

// HashPassword wraps bcrypt for seeding and user management paths.
func HashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

const defaultAdminUsername = "admin"

// EnsureUsers prepares the credential store at startup: an empty store
// gets a default admin account, and any account still carrying a
// plaintext password (imported data) is upgraded to a bcrypt hash.
func EnsureUsers(ctx context.Context, repo store.Repository, adminPassword string, managerPassword string) error {
	users, err := repo.ListUsers(ctx)
	if err != nil {
		return err
	}

	if len(users) == 0 {
		password, err := HashPassword(adminPassword)
		if err != nil {
			return err
		}
		manager, err := HashPassword(managerPassword)
		if err != nil {
			return err
		}
		return repo.CreateUser(ctx, domain.UserAccount{
			Username:        defaultAdminUsername,
			Password:        password,
			ManagerPassword: manager,
			Role:            "admin",
			Active:          true,
		})
	}

	for _, user := range users {
		if strings.HasPrefix(user.Password, "$2") {
			continue
		}
		hashed, err := HashPassword(user.Password)
		if err != nil {
			return err
		}
		if err := repo.UpdateUserPassword(ctx, user.Username, hashed); err != nil {
			return err
		}
	}
	return nil
}
