package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"storeledger/backend/internal/aggregate"
	"storeledger/backend/internal/cache"
	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/lock"
	"storeledger/backend/internal/prevyear"
	"storeledger/backend/internal/reconcile"
	"storeledger/backend/internal/report"
	"storeledger/backend/internal/store"
	"storeledger/backend/internal/xid"
)

var (
	ErrNoStores              = errors.New("month has no stores")
	ErrImportInProgress      = errors.New("import already in progress")
	ErrPendingImportNotFound = errors.New("pending import not found")
	ErrForbidden             = errors.New("admin role required")
)

const pendingImportTTL = 30 * time.Minute

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Logger          logrus.FieldLogger
	Results         cache.ResultStore
	ResultTTL       time.Duration
	Latch           lock.Latch
	Runner          *aggregate.Runner
	CacheCapacity   int
	FingerprintMode cache.Mode
}

type Service struct {
	repo      store.Repository
	memo      *cache.ResultCache
	results   cache.ResultStore
	resultTTL time.Duration
	runner    *aggregate.Runner
	latch     lock.Latch
	logger    logrus.FieldLogger
	now       func() time.Time

	pendingMu sync.Mutex
	pending   map[string]*domain.PendingImport
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Results == nil {
		opts.Results = cache.NoopResultStore{}
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 10 * time.Minute
	}
	if opts.Latch == nil {
		opts.Latch = lock.NewLocalLatch()
	}
	if opts.Runner == nil {
		opts.Runner = aggregate.NewRunner(0, opts.Logger)
	}

	return &Service{
		repo:      repo,
		memo:      cache.NewResultCache(opts.CacheCapacity, opts.FingerprintMode),
		results:   opts.Results,
		resultTTL: opts.ResultTTL,
		runner:    opts.Runner,
		latch:     opts.Latch,
		logger:    opts.Logger.WithField("module", "service"),
		now:       func() time.Time { return time.Now().UTC() },
		pending:   map[string]*domain.PendingImport{},
	}
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func (s *Service) Settings(ctx context.Context) (domain.AppSettings, error) {
	settings, err := s.repo.GetSettings(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return domain.DefaultAppSettings(s.now()), nil
	}
	if err != nil {
		return domain.AppSettings{}, err
	}
	return *settings, nil
}

func (s *Service) UpdateSettings(ctx context.Context, settings domain.AppSettings) (domain.AppSettings, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.AppSettings{}, err
	}
	if err := validateSettings(settings); err != nil {
		return domain.AppSettings{}, err
	}
	if settings.SupplierCategoryMap == nil {
		settings.SupplierCategoryMap = map[string]domain.CategoryType{}
	}
	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return domain.AppSettings{}, err
	}
	s.logger.WithFields(logrus.Fields{
		"year":  settings.TargetYear,
		"month": settings.TargetMonth,
	}).Info("settings updated")
	return settings, nil
}

func validateSettings(settings domain.AppSettings) error {
	if err := store.ValidMonth(settings.TargetYear, settings.TargetMonth); err != nil {
		return err
	}
	rates := map[string]float64{
		"targetGrossProfitRate": settings.TargetGrossProfitRate,
		"warningThreshold":      settings.WarningThreshold,
		"flowerCostRate":        settings.FlowerCostRate,
		"directProduceCostRate": settings.DirectProduceCostRate,
		"defaultMarkupRate":     settings.DefaultMarkupRate,
	}
	for name, v := range rates {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be between 0 and 1", store.ErrInvalidInput, name)
		}
	}
	if math.IsNaN(settings.DefaultBudget) || settings.DefaultBudget < 0 {
		return fmt.Errorf("%w: defaultBudget must not be negative", store.ErrInvalidInput)
	}
	if settings.DataEndDay != nil && (*settings.DataEndDay < 1 || *settings.DataEndDay > 31) {
		return fmt.Errorf("%w: dataEndDay must be between 1 and 31", store.ErrInvalidInput)
	}
	if settings.PrevYearSourceMonth != nil && (*settings.PrevYearSourceMonth < 1 || *settings.PrevYearSourceMonth > 12) {
		return fmt.Errorf("%w: prevYearSourceMonth must be between 1 and 12", store.ErrInvalidInput)
	}
	return nil
}

// monthSettings pins the stored settings to the requested month so the
// fingerprint and the prior-year source follow it.
func (s *Service) monthSettings(ctx context.Context, year int, month int) (domain.AppSettings, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return domain.AppSettings{}, err
	}
	settings.TargetYear = year
	settings.TargetMonth = month
	return settings, nil
}

func (s *Service) loadMonth(ctx context.Context, year int, month int) (*domain.ImportedData, domain.AppSettings, error) {
	if err := store.ValidMonth(year, month); err != nil {
		return nil, domain.AppSettings{}, err
	}
	data, err := s.repo.LoadSnapshot(ctx, year, month)
	if err != nil {
		return nil, domain.AppSettings{}, err
	}
	settings, err := s.monthSettings(ctx, year, month)
	if err != nil {
		return nil, domain.AppSettings{}, err
	}
	return data, settings, nil
}

// MonthlyResults computes every store of the month, consulting the in-process
// memo, then the shared result store, then the aggregation runner.
func (s *Service) MonthlyResults(ctx context.Context, year int, month int) (*domain.StoreResults, error) {
	data, settings, err := s.loadMonth(ctx, year, month)
	if err != nil {
		return nil, err
	}
	return s.monthlyResults(ctx, data, settings)
}

func (s *Service) monthlyResults(ctx context.Context, data *domain.ImportedData, settings domain.AppSettings) (*domain.StoreResults, error) {
	days := prevyear.DaysInMonth(settings.TargetYear, settings.TargetMonth)
	if cached, ok := s.memo.GetGlobalResult(data, settings, days); ok {
		return cached, nil
	}

	log := s.logger.WithFields(logrus.Fields{"year": settings.TargetYear, "month": settings.TargetMonth})
	fingerprint := cache.GlobalFingerprint(data, settings, days, s.memo.Mode())
	shared, ok, err := s.results.Get(ctx, fingerprint)
	if err != nil {
		log.WithError(err).Warn("result store lookup failed")
	}
	if ok {
		s.memo.SetGlobalResult(data, settings, days, shared)
		return shared, nil
	}

	started := time.Now()
	results, err := s.runner.AggregateAll(ctx, data, settings, days)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"stores":  results.Len(),
		"latency": time.Since(started).String(),
	}).Debug("aggregated month")

	s.memo.SetGlobalResult(data, settings, days, results)
	if err := s.results.Set(ctx, fingerprint, results, s.resultTTL); err != nil {
		log.WithError(err).Warn("result store write failed")
	}
	return results, nil
}

func (s *Service) StoreResult(ctx context.Context, year int, month int, storeID string) (*domain.StoreResult, error) {
	data, settings, err := s.loadMonth(ctx, year, month)
	if err != nil {
		return nil, err
	}
	if !data.Stores.Has(storeID) {
		return nil, fmt.Errorf("%w: store %s", store.ErrNotFound, storeID)
	}

	days := prevyear.DaysInMonth(year, month)
	if cached, ok := s.memo.GetStoreResult(storeID, data, settings, days); ok {
		return cached, nil
	}
	result := aggregate.AggregateStore(storeID, data, settings, days)
	s.memo.SetStoreResult(storeID, data, settings, days, result)
	return result, nil
}

// AggregateResult rolls every store of the month into one result.
func (s *Service) AggregateResult(ctx context.Context, year int, month int) (*domain.StoreResult, error) {
	results, err := s.MonthlyResults(ctx, year, month)
	if err != nil {
		return nil, err
	}
	if results.Len() == 0 {
		return nil, ErrNoStores
	}
	return aggregate.AggregateMany(results.List(), prevyear.DaysInMonth(year, month))
}

// PrevYearComparison prefers prior-year data imported with the month. When
// there is none it falls back to the stored source month plus the head of
// the month after it.
func (s *Service) PrevYearComparison(ctx context.Context, year int, month int, storeIDs []string) (domain.PrevYearComparison, error) {
	if err := store.ValidMonth(year, month); err != nil {
		return domain.PrevYearComparison{}, err
	}
	settings, err := s.monthSettings(ctx, year, month)
	if err != nil {
		return domain.PrevYearComparison{}, err
	}
	src := prevyear.ResolveOffset(settings)
	days := prevyear.DaysInMonth(year, month)

	data, err := s.repo.LoadSlices(ctx, year, month,
		domain.DataStores, domain.DataPrevYearSales, domain.DataPrevYearDiscount, domain.DataPrevYearCategoryTimeSales)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.PrevYearComparison{}, err
	}
	if prevyear.HasPrevYear(data) {
		return prevyear.BuildComparison(data, storeIDs, src, days), nil
	}

	mirror, err := s.autoLoadPrevYear(ctx, src)
	if err != nil {
		return domain.PrevYearComparison{}, err
	}
	return prevyear.BuildComparison(mirror, storeIDs, src, days), nil
}

func (s *Service) autoLoadPrevYear(ctx context.Context, src prevyear.Source) (*domain.ImportedData, error) {
	types := []domain.DataType{domain.DataStores, domain.DataSales, domain.DataDiscount, domain.DataCategoryTimeSales}

	source, err := s.repo.LoadSlices(ctx, src.Year, src.Month, types...)
	if errors.Is(err, store.ErrNotFound) {
		return domain.NewImportedData(), nil
	}
	if err != nil {
		return nil, err
	}

	nextYear, nextMonth := prevyear.FollowingMonth(src.Year, src.Month)
	following, err := s.repo.LoadSlices(ctx, nextYear, nextMonth, types...)
	if errors.Is(err, store.ErrNotFound) {
		following = nil
	} else if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"year":  src.Year,
		"month": src.Month,
	}).Debug("auto-loaded prior-year snapshot")
	return prevyear.FromSnapshots(source, following, src.Year, src.Month), nil
}

func monthLockKey(year int, month int) string {
	return fmt.Sprintf("import:%04d-%02d", year, month)
}

// Import reconciles incoming data with the stored month. Pure inserts are
// saved straight away; anything that would change or remove stored values
// is parked as a pending import until ResolveImport decides it.
func (s *Service) Import(ctx context.Context, req domain.ImportRequest) (domain.ImportSummary, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.ImportSummary{}, err
	}
	if err := store.ValidMonth(req.Year, req.Month); err != nil {
		return domain.ImportSummary{}, err
	}
	if req.Data == nil {
		return domain.ImportSummary{}, fmt.Errorf("%w: data is required", store.ErrInvalidInput)
	}
	imported, err := importedTypeSet(req)
	if err != nil {
		return domain.ImportSummary{}, err
	}

	release, err := s.latch.TryAcquire(ctx, monthLockKey(req.Year, req.Month))
	if errors.Is(err, lock.ErrBusy) {
		return domain.ImportSummary{}, ErrImportInProgress
	}
	if err != nil {
		return domain.ImportSummary{}, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.logger.WithError(err).Warn("release import latch")
		}
	}()

	incoming := req.Data.Clone()
	log := s.logger.WithFields(logrus.Fields{"year": req.Year, "month": req.Month, "actor": actor.Username})

	existing, err := s.repo.LoadSnapshot(ctx, req.Year, req.Month)
	if errors.Is(err, store.ErrNotFound) {
		existing = domain.NewImportedData()
	} else if err != nil {
		return domain.ImportSummary{}, err
	}

	diff := reconcile.ComputeDiff(existing, incoming, imported)
	summary := reconcile.Summarize(diff)
	if !diff.NeedsConfirmation {
		merged := reconcile.MergeInsertsOnly(existing, incoming, imported)
		meta, err := s.repo.SaveSnapshot(ctx, req.Year, req.Month, merged)
		if err != nil {
			return domain.ImportSummary{}, err
		}
		s.resetCaches(ctx)
		log.WithField("inserts", summary.TotalInserts).Info("import applied")
		return appliedSummary(meta, merged, imported, &diff, &summary), nil
	}

	pending := &domain.PendingImport{
		ID:            xid.New("imp"),
		Year:          req.Year,
		Month:         req.Month,
		Existing:      existing,
		Incoming:      incoming,
		ImportedTypes: imported,
		Diff:          diff,
		CreatedAt:     s.now(),
		CreatedBy:     actor.Username,
	}
	s.putPending(pending)
	log.WithFields(logrus.Fields{
		"pending_id":    pending.ID,
		"modifications": summary.TotalModifications,
		"removals":      summary.TotalRemovals,
	}).Info("import awaiting confirmation")

	return domain.ImportSummary{
		Year:          req.Year,
		Month:         req.Month,
		Applied:       false,
		PendingID:     pending.ID,
		Diff:          &diff,
		DiffSummary:   &summary,
		ImportedTypes: sortedTypes(imported),
		StoreCount:    len(existing.Stores),
	}, nil
}

// ResolveImport applies the caller's decision to a pending import.
func (s *Service) ResolveImport(ctx context.Context, pendingID string, action domain.ImportAction) (domain.ImportSummary, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.ImportSummary{}, err
	}
	if !action.Valid() {
		return domain.ImportSummary{}, fmt.Errorf("%w: unknown action %q", store.ErrInvalidInput, action)
	}
	pending, ok := s.takePending(pendingID)
	if !ok {
		return domain.ImportSummary{}, ErrPendingImportNotFound
	}

	release, err := s.latch.TryAcquire(ctx, monthLockKey(pending.Year, pending.Month))
	if errors.Is(err, lock.ErrBusy) {
		s.putPending(pending)
		return domain.ImportSummary{}, ErrImportInProgress
	}
	if err != nil {
		s.putPending(pending)
		return domain.ImportSummary{}, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.logger.WithError(err).Warn("release import latch")
		}
	}()

	existing, err := s.repo.LoadSnapshot(ctx, pending.Year, pending.Month)
	if errors.Is(err, store.ErrNotFound) {
		existing = domain.NewImportedData()
	} else if err != nil {
		return domain.ImportSummary{}, err
	}

	merged, err := reconcile.ApplyDecision(action, existing, pending.Incoming, pending.ImportedTypes)
	if err != nil {
		return domain.ImportSummary{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	meta, err := s.repo.SaveSnapshot(ctx, pending.Year, pending.Month, merged)
	if err != nil {
		return domain.ImportSummary{}, err
	}
	s.resetCaches(ctx)

	s.logger.WithFields(logrus.Fields{
		"year":       pending.Year,
		"month":      pending.Month,
		"pending_id": pending.ID,
		"action":     string(action),
		"actor":      actor.Username,
	}).Info("import resolved")

	summary := reconcile.Summarize(pending.Diff)
	return appliedSummary(meta, merged, pending.ImportedTypes, &pending.Diff, &summary), nil
}

func appliedSummary(meta domain.PersistedMeta, merged *domain.ImportedData, imported domain.DataTypeSet, diff *domain.DiffResult, summary *domain.DiffSummary) domain.ImportSummary {
	savedAt := meta.SavedAt
	return domain.ImportSummary{
		Year:          meta.Year,
		Month:         meta.Month,
		Applied:       true,
		Diff:          diff,
		DiffSummary:   summary,
		ImportedTypes: sortedTypes(imported),
		StoreCount:    len(merged.Stores),
		SavedAt:       &savedAt,
	}
}

// importedTypeSet validates the requested types. Reference collections that
// arrive with the data are always part of the round.
func importedTypeSet(req domain.ImportRequest) (domain.DataTypeSet, error) {
	set := domain.NewDataTypeSet()
	for _, dt := range req.ImportedTypes {
		if !dt.Valid() {
			return nil, fmt.Errorf("%w: unknown data type %q", store.ErrInvalidInput, dt)
		}
		set[dt] = true
	}
	if len(req.Data.Stores) > 0 {
		set[domain.DataStores] = true
	}
	if len(req.Data.Suppliers) > 0 {
		set[domain.DataSuppliers] = true
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: importedTypes is required", store.ErrInvalidInput)
	}
	return set, nil
}

func sortedTypes(set domain.DataTypeSet) []domain.DataType {
	out := make([]domain.DataType, 0, len(set))
	for _, dt := range domain.AllDataTypes {
		if set.Has(dt) {
			out = append(out, dt)
		}
	}
	return out
}

func (s *Service) putPending(p *domain.PendingImport) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	cutoff := s.now().Add(-pendingImportTTL)
	for id, existing := range s.pending {
		if existing.CreatedAt.Before(cutoff) {
			delete(s.pending, id)
		}
	}
	s.pending[p.ID] = p
}

func (s *Service) takePending(id string) (*domain.PendingImport, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	p, ok := s.pending[id]
	if !ok {
		return nil, false
	}
	delete(s.pending, id)
	if p.CreatedAt.Before(s.now().Add(-pendingImportTTL)) {
		return nil, false
	}
	return p, true
}

func (s *Service) dropPending(match func(*domain.PendingImport) bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	for id, p := range s.pending {
		if match(p) {
			delete(s.pending, id)
		}
	}
}

func (s *Service) LastSession(ctx context.Context) (*domain.PersistedMeta, error) {
	return s.repo.LastSession(ctx)
}

func (s *Service) ListSnapshots(ctx context.Context) ([]domain.SnapshotInfo, error) {
	return s.repo.ListSnapshots(ctx)
}

func (s *Service) ClearMonth(ctx context.Context, year int, month int) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := store.ValidMonth(year, month); err != nil {
		return err
	}
	if err := s.repo.DeleteSnapshot(ctx, year, month); err != nil {
		return err
	}
	s.dropPending(func(p *domain.PendingImport) bool {
		return p.Year == year && p.Month == month
	})
	s.resetCaches(ctx)
	s.logger.WithFields(logrus.Fields{"year": year, "month": month}).Info("snapshot cleared")
	return nil
}

func (s *Service) ClearAll(ctx context.Context) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteAllSnapshots(ctx); err != nil {
		return err
	}
	s.dropPending(func(*domain.PendingImport) bool { return true })
	s.resetCaches(ctx)
	s.logger.Info("all snapshots cleared")
	return nil
}

func (s *Service) resetCaches(ctx context.Context) {
	s.memo.Clear()
	if err := s.results.Clear(ctx); err != nil {
		s.logger.WithError(err).Warn("clear result store")
	}
}

// ExportStore renders one store, or the aggregate rollup when storeID is
// domain.AggregateStoreID.
func (s *Service) ExportStore(ctx context.Context, year int, month int, storeID string, format report.Format) ([]byte, error) {
	var (
		result *domain.StoreResult
		name   string
		err    error
	)
	if storeID == domain.AggregateStoreID {
		result, err = s.AggregateResult(ctx, year, month)
		name = "All stores"
	} else {
		result, err = s.StoreResult(ctx, year, month, storeID)
		if err == nil {
			var data *domain.ImportedData
			data, err = s.repo.LoadSlices(ctx, year, month, domain.DataStores)
			if err == nil {
				name = data.Stores.Name(storeID)
			}
		}
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, format, result, name); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
