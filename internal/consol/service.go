package consol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/groupledger/groupledger/internal/consol/elim"
	"github.com/groupledger/groupledger/internal/consol/match"
	"github.com/groupledger/groupledger/internal/hierarchy"
	"github.com/groupledger/groupledger/internal/ledger"
	"github.com/groupledger/groupledger/internal/shared"
)

// Store describes the run persistence the service depends on.
type Store interface {
	InsertRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	ListRuns(ctx context.Context, projectID int64) ([]Run, error)
	SetStatus(ctx context.Context, id uuid.UUID, status RunStatus, failureReason string) error
	SaveWarnings(ctx context.Context, id uuid.UUID, warnings []shared.RunWarning) error
	SaveSummary(ctx context.Context, id uuid.UUID, summary Summary) error
	Approve(ctx context.Context, id uuid.UUID, approvedBy int64, at time.Time) error
	SaveEntries(ctx context.Context, runID uuid.UUID, entries []elim.Entry) error
	DeleteEntries(ctx context.Context, runID uuid.UUID) error
	ListEntries(ctx context.Context, runID uuid.UUID, f EntryFilter) ([]elim.Entry, error)
	SaveBalances(ctx context.Context, runID uuid.UUID, lines []AccountTotal) error
	ListBalances(ctx context.Context, runID uuid.UUID) ([]AccountTotal, error)
}

// TransactionStore is the matcher persistence used across runs.
type TransactionStore interface {
	SaveAll(ctx context.Context, txs []match.Transaction) error
	ListPinned(ctx context.Context, period string) ([]match.Transaction, error)
	ListForPeriod(ctx context.Context, period string) ([]match.Transaction, error)
	SetStatus(ctx context.Context, id int64, status match.Status) error
}

// HierarchySource loads the ownership graph a run resolves its scope from.
type HierarchySource interface {
	Graph(ctx context.Context, projectID int64) (*hierarchy.Graph, error)
}

// SnapshotSource materializes the ledger view a run reads.
type SnapshotSource interface {
	Take(ctx context.Context, period string, entityIDs []int64) (*ledger.Snapshot, error)
}

// EntryFilter narrows entry queries for workpaper cross-referencing.
type EntryFilter struct {
	Category   elim.Category
	InvestorID int64
	InvesteeID int64
}

// StartRunInput is the project layer's request for a new run.
type StartRunInput struct {
	ProjectID    int64      `json:"project_id"`
	RootEntityID int64      `json:"root_entity_id"`
	Period       string     `json:"period"`
	Mode         Mode       `json:"mode"`
	Overrides    []Override `json:"overrides"`
}

// Service orchestrates the run lifecycle: scope resolution, matching,
// elimination, aggregation, validation, approval. Each run carries its own
// configuration; the service holds only collaborators and defaults.
type Service struct {
	store     Store
	txStore   TransactionStore
	hier      HierarchySource
	snapshots SnapshotSource
	locker    Locker
	defaults  Config
	lockTTL   time.Duration
	logger    *slog.Logger
	auditor   Auditor
	now       func() time.Time
}

// NewService constructs the consolidation service.
func NewService(store Store, txStore TransactionStore, hier HierarchySource, snapshots SnapshotSource, locker Locker, defaults Config, lockTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		txStore:   txStore,
		hier:      hier,
		snapshots: snapshots,
		locker:    locker,
		defaults:  defaults,
		lockTTL:   lockTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Auditor records reviewer-facing actions.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// WithAuditor attaches an audit trail for approvals and sign-offs.
func (s *Service) WithAuditor(a Auditor) *Service {
	s.auditor = a
	return s
}

func (s *Service) audit(ctx context.Context, actorID int64, action string, runID uuid.UUID, meta map[string]any) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "consolidation_run",
		EntityID: runID.String(),
		Meta:     meta,
		At:       s.now().UTC(),
	})
	if err != nil {
		s.log().Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

// StartRun resolves the scope, stamps the snapshot version, and persists a
// draft run holding the (root, period) slot. Execution happens separately,
// usually on the worker.
func (s *Service) StartRun(ctx context.Context, in StartRunInput) (Run, error) {
	cfg := s.defaults
	if in.Mode != "" {
		cfg.Mode = in.Mode
	}
	if err := cfg.Validate(); err != nil {
		return Run{}, err
	}
	periodEnd, err := shared.PeriodEnd(in.Period)
	if err != nil {
		return Run{}, err
	}

	lockKey := shared.RunLockKey(in.RootEntityID, in.Period)
	ok, err := s.locker.Acquire(ctx, lockKey, s.lockTTL)
	if err != nil {
		return Run{}, err
	}
	if !ok {
		return Run{}, shared.ErrRunActive
	}

	run, err := s.prepareRun(ctx, in, cfg, periodEnd)
	if err != nil {
		if rerr := s.locker.Release(ctx, lockKey); rerr != nil {
			s.log().Error("release run lock after failed start", slog.String("error", rerr.Error()))
		}
		return Run{}, err
	}
	s.log().Info("run started",
		slog.String("run_id", run.ID.String()),
		slog.Int64("root_id", run.RootEntityID),
		slog.String("period", run.Period),
		slog.String("mode", string(run.Mode)))
	return run, nil
}

func (s *Service) prepareRun(ctx context.Context, in StartRunInput, cfg Config, periodEnd time.Time) (Run, error) {
	graph, err := s.hier.Graph(ctx, in.ProjectID)
	if err != nil {
		return Run{}, err
	}
	scope, err := ResolveScope(graph, in.RootEntityID, periodEnd, in.Overrides, cfg, s.log())
	if err != nil {
		return Run{}, err
	}
	snap, err := s.snapshots.Take(ctx, in.Period, scope.ConsolidatedIDs())
	if err != nil {
		return Run{}, err
	}

	run := Run{
		ID:              uuid.New(),
		ProjectID:       in.ProjectID,
		RootEntityID:    in.RootEntityID,
		Period:          in.Period,
		Mode:            cfg.Mode,
		Status:          StatusDraft,
		SnapshotVersion: snap.Version,
		Config:          cfg,
		Scope:           scope,
		CreatedAt:       s.now().UTC(),
		UpdatedAt:       s.now().UTC(),
	}
	if err := s.store.InsertRun(ctx, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Execute runs the pipeline for a draft run: match, generate, aggregate,
// validate. Cancellation is honored between steps, never mid-step; a
// cancelled run keeps prior approved runs untouched and discards its own
// entries. The run lock is released whatever the outcome.
func (s *Service) Execute(ctx context.Context, runID uuid.UUID) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != StatusDraft {
		return fmt.Errorf("%w: status %s", ErrRunNotExecutable, run.Status)
	}
	lockKey := shared.RunLockKey(run.RootEntityID, run.Period)
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lockKey); err != nil {
			s.log().Error("release run lock", slog.String("run_id", runID.String()), slog.String("error", err.Error()))
		}
	}()

	if err := s.store.SetStatus(ctx, runID, StatusInProgress, ""); err != nil {
		return err
	}
	if err := s.execute(ctx, run); err != nil {
		if errors.Is(err, context.Canceled) || run.cancelled(ctx, s.store) {
			s.discard(ctx, runID)
			return nil
		}
		reason := err.Error()
		if serr := s.store.SetStatus(context.WithoutCancel(ctx), runID, StatusFailed, reason); serr != nil {
			s.log().Error("mark run failed", slog.String("run_id", runID.String()), slog.String("error", serr.Error()))
		}
		s.log().Error("run failed", slog.String("run_id", runID.String()), slog.String("error", reason))
		return err
	}
	return nil
}

func (s *Service) execute(ctx context.Context, run Run) error {
	snap, err := s.snapshots.Take(ctx, run.Period, run.Scope.ConsolidatedIDs())
	if err != nil {
		return err
	}

	// Step: intercompany matching.
	pinned, err := s.txStore.ListPinned(ctx, run.Period)
	if err != nil {
		return err
	}
	matcher := match.NewMatcher(s.matchConfig(run.Config), s.logger)
	txs, err := matcher.Run(ctx, snap, run.Scope.ConsolidatedIDs(), pinned)
	if err != nil {
		return err
	}
	if err := s.txStore.SaveAll(ctx, txs); err != nil {
		return err
	}
	if err := s.checkpoint(ctx, run.ID); err != nil {
		return err
	}

	// Step: elimination entry generation.
	generator := elim.NewGenerator(run.Config.BalanceTolerance, s.logger).WithClock(s.now)
	entries, warnings, err := generator.Generate(elim.Input{
		RunID:        run.ID,
		Period:       run.Period,
		Snapshot:     snap,
		Holdings:     holdings(run.Scope),
		InScope:      run.Scope.InScopeSet(),
		Transactions: txs,
	})
	if err != nil {
		return err
	}
	if err := s.store.SaveEntries(ctx, run.ID, entries); err != nil {
		return err
	}
	if err := s.store.SaveWarnings(ctx, run.ID, warnings); err != nil {
		return err
	}
	if err := s.checkpoint(ctx, run.ID); err != nil {
		return err
	}

	// Step: aggregation.
	aggregator := NewAggregator(s.logger)
	result, err := aggregator.Aggregate(ctx, run.Mode, run.Scope, snap, entries)
	if err != nil {
		return err
	}
	if err := s.checkpoint(ctx, run.ID); err != nil {
		return err
	}

	// Step: validation. A violation blocks completed status.
	if err := ValidateResult(result, entries, run.Config.BalanceTolerance); err != nil {
		return err
	}
	if err := s.store.SaveBalances(ctx, run.ID, result.Lines()); err != nil {
		return err
	}
	if err := s.store.SaveSummary(ctx, run.ID, result.Summarize()); err != nil {
		return err
	}
	if err := s.store.SetStatus(ctx, run.ID, StatusCompleted, ""); err != nil {
		return err
	}
	s.log().Info("run completed",
		slog.String("run_id", run.ID.String()),
		slog.Int("entries", len(entries)),
		slog.Int("warnings", len(warnings)))
	return nil
}

// checkpoint honors cancellation between steps.
func (s *Service) checkpoint(ctx context.Context, runID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == StatusCancelled {
		return context.Canceled
	}
	return nil
}

// discard removes everything the cancelled run produced. Prior runs are
// untouched; their entries belong to their own run ids.
func (s *Service) discard(ctx context.Context, runID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.DeleteEntries(ctx, runID); err != nil {
		s.log().Error("discard cancelled run entries", slog.String("run_id", runID.String()), slog.String("error", err.Error()))
	}
	if err := s.store.SetStatus(ctx, runID, StatusCancelled, "cancelled between steps"); err != nil {
		s.log().Error("mark run cancelled", slog.String("run_id", runID.String()), slog.String("error", err.Error()))
	}
	s.log().Info("run cancelled, output discarded", slog.String("run_id", runID.String()))
}

// Cancel requests cancellation. The executor honors it at the next
// between-step checkpoint; a finished run cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, runID uuid.UUID) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	switch run.Status {
	case StatusDraft, StatusInProgress:
		if err := s.store.SetStatus(ctx, runID, StatusCancelled, "cancelled by request"); err != nil {
			return err
		}
		// The executor's deferred release covers an in-progress run. A
		// draft never enters the executor, so its slot is freed here.
		if run.Status == StatusDraft {
			lockKey := shared.RunLockKey(run.RootEntityID, run.Period)
			if err := s.locker.Release(context.WithoutCancel(ctx), lockKey); err != nil {
				s.log().Error("release run lock", slog.String("run_id", runID.String()), slog.String("error", err.Error()))
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: status %s", ErrRunNotExecutable, run.Status)
	}
}

// Approve freezes a completed run. Unacknowledged data-coverage warnings
// block approval until a reviewer has signed each one off.
func (s *Service) Approve(ctx context.Context, runID uuid.UUID, approvedBy int64) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Frozen() {
		return shared.ErrRunFrozen
	}
	if run.Status != StatusCompleted {
		return fmt.Errorf("%w: status %s", ErrRunNotCompleted, run.Status)
	}
	if n := run.UnacknowledgedWarnings(); n > 0 {
		return fmt.Errorf("%w: %d remaining", ErrUnacknowledgedWarnings, n)
	}
	if err := s.store.Approve(ctx, runID, approvedBy, s.now().UTC()); err != nil {
		return err
	}
	s.audit(ctx, approvedBy, "run.approve", runID, map[string]any{"period": run.Period})
	s.log().Info("run approved", slog.String("run_id", runID.String()), slog.Int64("approved_by", approvedBy))
	return nil
}

// AcknowledgeWarning records a reviewer sign-off on one warning.
func (s *Service) AcknowledgeWarning(ctx context.Context, runID uuid.UUID, index int, userID int64) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Frozen() {
		return shared.ErrRunFrozen
	}
	if index < 0 || index >= len(run.Warnings) {
		return ErrWarningIndex
	}
	run.Warnings[index].Acknowledged = true
	run.Warnings[index].AcknowledgedBy = userID
	if err := s.store.SaveWarnings(ctx, runID, run.Warnings); err != nil {
		return err
	}
	s.audit(ctx, userID, "run.warning_ack", runID, map[string]any{"index": index})
	return nil
}

// ConfirmTransaction records a reviewer decision on a suggested match.
func (s *Service) ConfirmTransaction(ctx context.Context, id int64, status match.Status) error {
	if !status.Pinned() {
		return fmt.Errorf("consol: reviewer may only set manual or confirmed, got %q", status)
	}
	return s.txStore.SetStatus(ctx, id, status)
}

// GetRun returns one run with scope and warnings.
func (s *Service) GetRun(ctx context.Context, runID uuid.UUID) (Run, error) {
	return s.store.GetRun(ctx, runID)
}

// ListRuns returns a project's runs, newest first.
func (s *Service) ListRuns(ctx context.Context, projectID int64) ([]Run, error) {
	return s.store.ListRuns(ctx, projectID)
}

// Balances returns the consolidated trial balance of a run.
func (s *Service) Balances(ctx context.Context, runID uuid.UUID) ([]AccountTotal, error) {
	return s.store.ListBalances(ctx, runID)
}

// Entries returns a run's elimination ledger, optionally filtered by
// category or entity pair for workpaper cross-referencing.
func (s *Service) Entries(ctx context.Context, runID uuid.UUID, f EntryFilter) ([]elim.Entry, error) {
	if f.Category != "" && !f.Category.Valid() {
		return nil, fmt.Errorf("consol: unknown elimination category %q", f.Category)
	}
	return s.store.ListEntries(ctx, runID, f)
}

// Transactions returns the intercompany transactions of a period.
func (s *Service) Transactions(ctx context.Context, period string) ([]match.Transaction, error) {
	return s.txStore.ListForPeriod(ctx, period)
}

// TransactionSummary reports a period's reconciliation progress.
func (s *Service) TransactionSummary(ctx context.Context, period string) (match.Summary, error) {
	txs, err := s.txStore.ListForPeriod(ctx, period)
	if err != nil {
		return match.Summary{}, err
	}
	return match.Summarize(txs), nil
}

func (s *Service) matchConfig(cfg Config) match.Config {
	return match.Config{
		WeightAmount:         cfg.WeightAmount,
		WeightCounterparty:   cfg.WeightCounterparty,
		WeightTemporal:       cfg.WeightTemporal,
		WeightFamily:         cfg.WeightFamily,
		ConfirmThreshold:     cfg.ConfirmThreshold,
		SuggestFloor:         cfg.SuggestFloor,
		AmountToleranceRatio: cfg.AmountToleranceRatio,
		TemporalWindow:       cfg.TemporalWindow,
	}
}

func holdings(scope Scope) []elim.Holding {
	out := make([]elim.Holding, 0, len(scope.Entries))
	for _, e := range scope.Entries {
		if e.Depth == 0 {
			continue
		}
		out = append(out, elim.Holding{
			InvestorID: e.ParentID,
			InvesteeID: e.EntityID,
			Ownership:  e.DirectOwnership,
			Effective:  e.EffectiveShare,
			Method:     string(e.Method),
		})
	}
	return out
}

func (r Run) cancelled(ctx context.Context, store Store) bool {
	current, err := store.GetRun(context.WithoutCancel(ctx), r.ID)
	return err == nil && current.Status == StatusCancelled
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "consol"))
	}
	return slog.Default().With(slog.String("component", "consol"))
}
