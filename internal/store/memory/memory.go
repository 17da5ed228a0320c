package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/store"
)

type monthKey struct {
	year  int
	month int
}

type snapshot struct {
	data    *domain.ImportedData
	savedAt time.Time
}

type Store struct {
	mu              sync.RWMutex
	snapshots       map[monthKey]snapshot
	lastSession     *domain.PersistedMeta
	settings        *domain.AppSettings
	usersByUsername map[string]domain.UserAccount
	now             func() time.Time
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_ANALYST_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning. These credentials are never used in production (the backend uses
// PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	analystPwd := envOr("SEED_ANALYST_PASSWORD", "analyst123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_ANALYST_PASSWORD") == "" {
		logrus.WithField("module", "memory-store").Warn("using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_ANALYST_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"analyst", analystPwd, domain.RoleAnalyst},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithField("module", "memory-store").Fatalf("failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		snapshots:       map[monthKey]snapshot{},
		usersByUsername: map[string]domain.UserAccount{},
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) SaveSnapshot(_ context.Context, year int, month int, data *domain.ImportedData) (domain.PersistedMeta, error) {
	if err := store.ValidMonth(year, month); err != nil {
		return domain.PersistedMeta{}, err
	}
	if data == nil {
		return domain.PersistedMeta{}, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	savedAt := s.now()
	s.snapshots[monthKey{year, month}] = snapshot{data: data.Clone(), savedAt: savedAt}
	meta := domain.PersistedMeta{Year: year, Month: month, SavedAt: savedAt}
	s.lastSession = &meta
	return meta, nil
}

func (s *Store) LoadSnapshot(_ context.Context, year int, month int) (*domain.ImportedData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[monthKey{year, month}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return snap.data.Clone(), nil
}

func (s *Store) LoadSlices(_ context.Context, year int, month int, types ...domain.DataType) (*domain.ImportedData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[monthKey{year, month}]
	if !ok {
		return nil, store.ErrNotFound
	}
	full, err := store.SplitSnapshot(snap.data)
	if err != nil {
		return nil, err
	}
	parts := make(map[domain.DataType][]byte, len(types))
	for _, dt := range types {
		if payload, ok := full[dt]; ok {
			parts[dt] = payload
		}
	}
	return store.JoinSnapshot(parts)
}

func (s *Store) ListSnapshots(_ context.Context) ([]domain.SnapshotInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SnapshotInfo, 0, len(s.snapshots))
	for key, snap := range s.snapshots {
		out = append(out, domain.SnapshotInfo{
			Year:      key.year,
			Month:     key.month,
			DataTypes: append([]domain.DataType(nil), domain.AllDataTypes...),
			SavedAt:   snap.savedAt,
		})
	}
	slices.SortFunc(out, func(a, b domain.SnapshotInfo) int {
		if a.Year != b.Year {
			return b.Year - a.Year
		}
		return b.Month - a.Month
	})
	return out, nil
}

func (s *Store) DeleteSnapshot(_ context.Context, year int, month int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := monthKey{year, month}
	if _, ok := s.snapshots[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.snapshots, key)
	if s.lastSession != nil && s.lastSession.Year == year && s.lastSession.Month == month {
		s.lastSession = nil
	}
	return nil
}

func (s *Store) DeleteAllSnapshots(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = map[monthKey]snapshot{}
	s.lastSession = nil
	return nil
}

func (s *Store) LastSession(_ context.Context) (*domain.PersistedMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastSession == nil {
		return nil, store.ErrNotFound
	}
	meta := *s.lastSession
	return &meta, nil
}

func (s *Store) GetSettings(_ context.Context) (*domain.AppSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings == nil {
		return nil, store.ErrNotFound
	}
	copied := cloneSettings(*s.settings)
	return &copied, nil
}

func (s *Store) SaveSettings(_ context.Context, settings domain.AppSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := cloneSettings(settings)
	s.settings = &copied
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("%w: user %s already exists", store.ErrInvalidInput, username)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleAnalyst
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSettings(src domain.AppSettings) domain.AppSettings {
	out := src
	if src.SupplierCategoryMap != nil {
		out.SupplierCategoryMap = make(map[string]domain.CategoryType, len(src.SupplierCategoryMap))
		for k, v := range src.SupplierCategoryMap {
			out.SupplierCategoryMap[k] = v
		}
	}
	out.CustomCategories = append([]string(nil), src.CustomCategories...)
	if src.DataEndDay != nil {
		v := *src.DataEndDay
		out.DataEndDay = &v
	}
	if src.PrevYearSourceYear != nil {
		v := *src.PrevYearSourceYear
		out.PrevYearSourceYear = &v
	}
	if src.PrevYearSourceMonth != nil {
		v := *src.PrevYearSourceMonth
		out.PrevYearSourceMonth = &v
	}
	if src.PrevYearDowOffset != nil {
		v := *src.PrevYearDowOffset
		out.PrevYearDowOffset = &v
	}
	return out
}
