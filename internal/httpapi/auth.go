package httpapi

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/store"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errInvalidToken       = errors.New("invalid or expired token")
)

const (
	tokenIssuer         = "storeledger"
	userRefreshInterval = 15 * time.Second
	minPasswordLength   = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLength = 72
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9._-]{4,32}$`)

// placeholderHash is compared against when the username is unknown, so a
// miss costs the same as a wrong password.
var placeholderHash = sync.OnceValue(func() []byte {
	hash, _ := bcrypt.GenerateFromPassword([]byte("storeledger-placeholder"), bcrypt.DefaultCost)
	return hash
})

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type accessClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// tokenSigner issues and verifies HS256 access tokens carrying a ledger role.
type tokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func (s tokenSigner) issue(username, role string) (string, time.Time, error) {
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(s.ttl)
	claims := accessClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(issuedAt),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s tokenSigner) parse(raw string) (domain.Actor, error) {
	claims := &accessClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, func(*jwtlib.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		return domain.Actor{}, errInvalidToken
	}
	if claims.Subject == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	if claims.Role != domain.RoleAdmin && claims.Role != domain.RoleAnalyst {
		return domain.Actor{}, fmt.Errorf("invalid token role %q", claims.Role)
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

type account struct {
	hash    string
	role    string
	active  bool
	created time.Time
}

// AuthManager authenticates ledger users against a periodically refreshed
// copy of the user store.
type AuthManager struct {
	signer tokenSigner
	users  UserStore
	logger logrus.FieldLogger

	mu          sync.RWMutex
	accounts    map[string]account
	refreshedAt time.Time
}

func NewAuthManager(secret string, tokenTTL time.Duration, users UserStore, logger logrus.FieldLogger) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	a := &AuthManager{
		signer:   tokenSigner{secret: []byte(secret), ttl: tokenTTL, now: time.Now},
		users:    users,
		logger:   logger.WithField("module", "auth"),
		accounts: make(map[string]account),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.refresh(ctx, true)
	return a
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.refresh(ctx, false)

	username := normalizeUsername(req.Username)
	acct, ok := a.lookup(username)
	if !ok {
		_ = bcrypt.CompareHashAndPassword(placeholderHash(), []byte(req.Password))
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !passwordMatches(acct.hash, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !acct.active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	token, expiresAt, err := a.signer.issue(username, acct.role)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        acct.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	return a.signer.parse(raw)
}

// CreateAnalyst registers a read-only account. Validation failures wrap
// store.ErrInvalidInput.
func (a *AuthManager) CreateAnalyst(ctx context.Context, req domain.AnalystCreateRequest) (domain.AnalystUser, error) {
	username := normalizeUsername(req.Username)
	if err := validateAnalyst(username, req.Password); err != nil {
		return domain.AnalystUser{}, err
	}

	a.refresh(ctx, true)
	if _, taken := a.lookup(username); taken {
		return domain.AnalystUser{}, fmt.Errorf("%w: username %s already exists", store.ErrInvalidInput, username)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.AnalystUser{}, fmt.Errorf("hash password: %w", err)
	}
	acct := account{hash: hash, role: domain.RoleAnalyst, active: true, created: a.signer.now().UTC()}

	if a.users != nil {
		if err := a.users.CreateUser(ctx, domain.UserAccount{
			Username:  username,
			Password:  acct.hash,
			Role:      acct.role,
			Active:    acct.active,
			CreatedAt: acct.created,
		}); err != nil {
			return domain.AnalystUser{}, err
		}
	}

	a.mu.Lock()
	a.accounts[username] = acct
	a.mu.Unlock()

	a.logger.WithField("username", username).Info("analyst created")
	return acct.analystUser(username), nil
}

func (a *AuthManager) ListAnalysts(ctx context.Context) []domain.AnalystUser {
	a.refresh(ctx, false)

	a.mu.RLock()
	out := make([]domain.AnalystUser, 0, len(a.accounts))
	for username, acct := range a.accounts {
		if acct.role == domain.RoleAnalyst {
			out = append(out, acct.analystUser(username))
		}
	}
	a.mu.RUnlock()

	slices.SortFunc(out, func(x, y domain.AnalystUser) int {
		return strings.Compare(x.Username, y.Username)
	})
	return out
}

func (a *AuthManager) lookup(username string) (account, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acct, ok := a.accounts[username]
	return acct, ok
}

// refresh reloads accounts from the user store at most once per
// userRefreshInterval unless forced. Stored plain-text passwords are
// replaced by bcrypt hashes on the way in.
func (a *AuthManager) refresh(ctx context.Context, force bool) {
	if a.users == nil {
		return
	}
	a.mu.RLock()
	fresh := !force && time.Since(a.refreshedAt) < userRefreshInterval
	a.mu.RUnlock()
	if fresh {
		return
	}

	users, err := a.users.ListUsers(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("load users")
		return
	}

	loaded := make(map[string]account, len(users))
	for _, u := range users {
		username := normalizeUsername(u.Username)
		if username == "" {
			continue
		}
		hash := u.Password
		if !isPasswordHash(hash) {
			hash = a.upgradePlainPassword(ctx, username, hash)
		}
		loaded[username] = account{hash: hash, role: u.Role, active: u.Active, created: u.CreatedAt}
	}

	a.mu.Lock()
	for username, acct := range loaded {
		a.accounts[username] = acct
	}
	a.refreshedAt = time.Now()
	a.mu.Unlock()
}

func (a *AuthManager) upgradePlainPassword(ctx context.Context, username, plain string) string {
	log := a.logger.WithField("username", username)
	hash, err := hashPassword(plain)
	if err != nil {
		log.WithError(err).Warn("hash stored password")
		return plain
	}
	if err := a.users.UpdateUserPassword(ctx, username, hash); err != nil {
		log.WithError(err).Warn("persist upgraded password hash")
	}
	return hash
}

func (acct account) analystUser(username string) domain.AnalystUser {
	return domain.AnalystUser{
		Username:  username,
		Role:      acct.role,
		Active:    acct.active,
		CreatedAt: acct.created,
	}
}

func validateAnalyst(username, password string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username must be 4-32 characters of a-z, 0-9, '.', '_' or '-'", store.ErrInvalidInput)
	}
	if strings.TrimSpace(password) == "" || len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", store.ErrInvalidInput, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d bytes", store.ErrInvalidInput, maxPasswordLength)
	}
	return nil
}

func normalizeUsername(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func passwordMatches(hash, input string) bool {
	if strings.TrimSpace(input) == "" || !isPasswordHash(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func isPasswordHash(value string) bool {
	_, err := bcrypt.Cost([]byte(value))
	return err == nil
}
