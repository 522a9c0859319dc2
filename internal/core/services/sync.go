package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
	"github.com/custodia-labs/fhir-bridge/internal/core/ports/driven"
	"github.com/custodia-labs/fhir-bridge/internal/core/ports/driving"
)

// Verify interface compliance
var _ driving.SyncEngine = (*SyncEngine)(nil)

const (
	// SyncLockName is the distributed lock held for the duration of a run
	SyncLockName = "fhir-sync"

	// DefaultDependency is the status dependency the engine reports under
	DefaultDependency = "FHIR Data Retrieval"

	// DefaultEntryConcurrency bounds entry fetch/write pairs in flight per page
	DefaultEntryConcurrency = 4

	defaultLockTTL = 10 * time.Minute
)

// CredentialSource hands out the current aggregator token
type CredentialSource interface {
	CurrentToken(ctx context.Context) (domain.CredentialSnapshot, error)
}

// SyncEngine walks every configured resource type page by page and mirrors
// each entry into the destination store.
//
// Resource types are processed strictly one after another, pages of a type
// sequentially, and entries of a page with bounded concurrency. A failure
// on one entry is logged and counted; a failure fetching a page, obtaining a
// token or writing a status ends the run as Incomplete.
type SyncEngine struct {
	credentials   CredentialSource
	source        driven.ResourceSource
	destination   driven.ResourceDestination
	notifier      driving.StatusNotifier
	lock          driven.DistributedLock
	resourceTypes []string
	dependency    string
	concurrency   int
	tokenWait     time.Duration
	lockTTL       time.Duration
	logger        *slog.Logger

	running atomic.Bool

	// background runs started by Trigger
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// SyncEngineConfig holds dependencies for SyncEngine.
type SyncEngineConfig struct {
	Credentials   CredentialSource
	Source        driven.ResourceSource
	Destination   driven.ResourceDestination
	Notifier      driving.StatusNotifier
	Lock          driven.DistributedLock // optional, guards runs across replicas
	ResourceTypes []string
	Dependency    string
	Concurrency   int
	TokenWait     time.Duration // zero waits for the handshake indefinitely
	LockTTL       time.Duration
	Logger        *slog.Logger
}

// NewSyncEngine creates a new sync engine.
func NewSyncEngine(cfg SyncEngineConfig) *SyncEngine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	types := cfg.ResourceTypes
	if len(types) == 0 {
		types = domain.DefaultResourceTypes
	}
	dependency := cfg.Dependency
	if dependency == "" {
		dependency = DefaultDependency
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultEntryConcurrency
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	return &SyncEngine{
		credentials:   cfg.Credentials,
		source:        cfg.Source,
		destination:   cfg.Destination,
		notifier:      cfg.Notifier,
		lock:          cfg.Lock,
		resourceTypes: append([]string(nil), types...),
		dependency:    dependency,
		concurrency:   concurrency,
		tokenWait:     cfg.TokenWait,
		lockTTL:       lockTTL,
		logger:        logger,
		baseCtx:       baseCtx,
		cancel:        cancel,
	}
}

// Run performs one full sync pass and waits for it.
func (e *SyncEngine) Run(ctx context.Context) (*domain.SyncResult, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	return e.run(ctx)
}

// Trigger claims the run guard and performs the pass in the background.
// The pass is cancelled only by Close.
func (e *SyncEngine) Trigger(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.release()
		_, _ = e.run(e.baseCtx)
	}()
	return nil
}

// Running reports whether a pass is in flight in this process.
func (e *SyncEngine) Running() bool {
	return e.running.Load()
}

// Close cancels background runs and waits for them to finish.
func (e *SyncEngine) Close() {
	e.cancel()
	e.wg.Wait()
}

func (e *SyncEngine) acquire(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return domain.ErrSyncInProgress
	}
	if e.lock == nil {
		return nil
	}

	acquired, err := e.lock.Acquire(ctx, SyncLockName, e.lockTTL)
	if err != nil {
		e.running.Store(false)
		return fmt.Errorf("acquire sync lock: %w", err)
	}
	if !acquired {
		e.running.Store(false)
		return domain.ErrSyncInProgress
	}
	return nil
}

func (e *SyncEngine) release() {
	if e.lock != nil {
		if err := e.lock.Release(context.Background(), SyncLockName); err != nil {
			e.logger.Warn("failed to release sync lock", "error", err)
		}
	}
	e.running.Store(false)
}

// keepLock extends the distributed lock until ctx is done.
func (e *SyncEngine) keepLock(ctx context.Context) {
	ticker := time.NewTicker(e.lockTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.lock.Extend(ctx, SyncLockName, e.lockTTL); err != nil {
				e.logger.Warn("failed to extend sync lock", "error", err)
			}
		}
	}
}

func (e *SyncEngine) run(ctx context.Context) (*domain.SyncResult, error) {
	job := domain.NewSyncJob(uuid.NewString(), time.Now())
	logger := e.logger.With("job_id", job.ID)

	if e.lock != nil {
		lockCtx, stop := context.WithCancel(ctx)
		defer stop()
		go e.keepLock(lockCtx)
	}

	logger.Info("starting sync", "resource_types", e.resourceTypes)

	if err := e.syncAll(ctx, job, logger); err != nil {
		logger.Error("sync failed", "error", err, "total", job.Total())

		// The run's context may be the reason it failed; still report it.
		notifyCtx := context.WithoutCancel(ctx)
		if nerr := e.notify(notifyCtx, domain.StatusIncomplete, "Data sync incomplete", err.Error()); nerr != nil {
			logger.Error("failed to report incomplete sync", "error", nerr)
		}
		return job.Result(time.Now(), err), err
	}

	result := job.Result(time.Now(), nil)
	logger.Info("sync completed",
		"total", result.Total,
		"written", result.Stats.Written,
		"failed", result.Stats.Failed,
		"duration", result.Duration,
	)
	return result, nil
}

func (e *SyncEngine) syncAll(ctx context.Context, job *domain.SyncJob, logger *slog.Logger) error {
	if err := e.notify(ctx, domain.StatusInProgress, "Data sync started", ""); err != nil {
		return err
	}

	if _, err := e.waitForToken(ctx); err != nil {
		return err
	}

	for _, resourceType := range e.resourceTypes {
		if err := e.notify(ctx, domain.StatusInProgress, fmt.Sprintf("Syncing %s resource", resourceType), ""); err != nil {
			return err
		}
		if err := e.syncResourceType(ctx, job, resourceType, logger); err != nil {
			return err
		}
	}

	return e.notify(ctx, domain.StatusComplete, fmt.Sprintf("Data sync complete: %d records synced", job.Total()), "")
}

func (e *SyncEngine) waitForToken(ctx context.Context) (domain.CredentialSnapshot, error) {
	if e.tokenWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.tokenWait)
		defer cancel()
	}
	return e.credentials.CurrentToken(ctx)
}

func (e *SyncEngine) syncResourceType(ctx context.Context, job *domain.SyncJob, resourceType string, logger *slog.Logger) error {
	// The token may rotate between pages; after the first wait this never blocks.
	snap, err := e.credentials.CurrentToken(ctx)
	if err != nil {
		return err
	}

	pageURL := fmt.Sprintf("%s/fhir/dstu2/%s", strings.TrimRight(snap.BaseURL, "/"), resourceType)
	fetched := make(map[string]bool)
	pages := 0

	for pageURL != "" {
		bundle, err := e.source.FetchBundle(ctx, snap.AccessToken, pageURL)
		if err != nil {
			return fmt.Errorf("%w: %s page %d: %w", domain.ErrFetch, resourceType, pages+1, err)
		}
		fetched[pageURL] = true
		pages++

		job.AddEntries(resourceType, len(bundle.Entry))
		e.syncEntries(ctx, job, snap.AccessToken, resourceType, bundle.Entry, logger)

		next := bundle.NextURL()
		if next != "" && fetched[next] {
			logger.Warn("next link points at a fetched page, stopping", "resource_type", resourceType, "url", next)
			break
		}
		pageURL = next

		if pageURL != "" {
			if snap, err = e.credentials.CurrentToken(ctx); err != nil {
				return err
			}
		}
	}

	logger.Info("resource type synced",
		"resource_type", resourceType,
		"pages", pages,
		"entries", job.Count(resourceType),
	)
	return nil
}

// syncEntries mirrors every entry of a page. Failures are isolated per entry.
func (e *SyncEngine) syncEntries(ctx context.Context, job *domain.SyncJob, accessToken, resourceType string, entries []domain.BundleEntry, logger *slog.Logger) {
	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for _, entry := range entries {
		g.Go(func() error {
			if err := e.syncEntry(ctx, accessToken, resourceType, entry); err != nil {
				job.RecordFailed()
				logger.Warn("failed to sync entry",
					"resource_type", resourceType,
					"full_url", entry.FullURL,
					"error", err,
				)
				return nil
			}
			job.RecordWritten()
			return nil
		})
	}

	_ = g.Wait()
}

func (e *SyncEngine) syncEntry(ctx context.Context, accessToken, resourceType string, entry domain.BundleEntry) error {
	if entry.FullURL == "" {
		return fmt.Errorf("%w: entry has no fullUrl", domain.ErrFetch)
	}

	resource, err := e.source.FetchResource(ctx, accessToken, entry.FullURL)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrFetch, err)
	}
	if resource.ID == "" {
		return fmt.Errorf("%w: resource at %s has no id", domain.ErrWrite, entry.FullURL)
	}

	if err := e.destination.Put(ctx, resourceType, resource); err != nil {
		return fmt.Errorf("%w: %s/%s: %w", domain.ErrWrite, resourceType, resource.ID, err)
	}
	return nil
}

func (e *SyncEngine) notify(ctx context.Context, status domain.StatusValue, description, errMsg string) error {
	return e.notifier.Notify(ctx, domain.StatusUpdate{
		Dependency:  e.dependency,
		Status:      status,
		Description: description,
		Error:       errMsg,
	})
}
