package match

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/asmith81/MJM-Special-WOs/internal/models"
	"github.com/asmith81/MJM-Special-WOs/internal/parser"
	"github.com/asmith81/MJM-Special-WOs/internal/reasoner"
	"github.com/asmith81/MJM-Special-WOs/internal/repository"
)

// Reasoner is the advisory proposal source. The deterministic pipeline never
// depends on it succeeding.
type Reasoner interface {
	Propose(ctx context.Context, items []models.ParsedLineItem, candidates []models.WorkOrder) ([]models.ReasonerProposal, error)
}

// Engine runs one end-to-end matching pass: parse, score, ask the reasoner,
// reconcile. The same input against the same snapshot always produces the
// same results; only the advisory reasoner call is non-deterministic, and its
// influence is bounded by the reconciliation rules.
type Engine struct {
	source   repository.Source
	reasoner Reasoner
	cfg      models.MatchingConfig
	timeout  time.Duration
	log      *slog.Logger
}

// NewEngine builds a matching engine. reasoner may be nil; the engine then
// always runs in deterministic-only mode.
func NewEngine(source repository.Source, r Reasoner, cfg models.MatchingConfig, reasonerTimeout time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if reasonerTimeout <= 0 {
		reasonerTimeout = 60 * time.Second
	}
	return &Engine{
		source:   source,
		reasoner: r,
		cfg:      cfg,
		timeout:  reasonerTimeout,
		log:      logger,
	}
}

// SessionResult is the outcome of one matching pass.
type SessionResult struct {
	Items      []models.ParsedLineItem `json:"items"`
	Validation parser.ValidationResult `json:"validation"`
	Results    []models.MatchResult    `json:"results"`
	Candidates int                     `json:"candidates"`
	SnapshotAt time.Time               `json:"snapshotAt"`
	Degraded   bool                    `json:"degraded"`
	Notes      []string                `json:"notes,omitempty"`
}

// Run parses the pasted email text, scores every line item against a
// snapshot of open work orders, folds in the reasoner's proposals, and
// returns the reconciled results. A reasoner failure or timeout degrades to
// deterministic-only results instead of failing the session.
func (e *Engine) Run(ctx context.Context, rawText string, expectedCount int, filter repository.Filter) (*SessionResult, error) {
	parsed, err := parser.Parse(rawText, expectedCount)
	if err != nil {
		return nil, err
	}

	snap, err := repository.Take(ctx, e.source, filter)
	noCandidates := errors.Is(err, repository.ErrNoCandidates)
	if err != nil && !noCandidates {
		return nil, err
	}
	candidates := snap.All()

	rankings := e.scoreAll(parsed.Items, candidates)

	res := &SessionResult{
		Items:      parsed.Items,
		Validation: parsed.Validation,
		Candidates: snap.Len(),
		SnapshotAt: snap.TakenAt,
	}

	if noCandidates {
		// Every item comes back unmatched rather than failing the session.
		res.Notes = append(res.Notes, "no open work orders matched the filter")
		res.Results = Reconcile(parsed.Items, rankings, nil, e.cfg)
		return res, nil
	}

	var proposals []models.ReasonerProposal
	if e.reasoner != nil {
		rctx, cancel := context.WithTimeout(ctx, e.timeout)
		proposals, err = e.reasoner.Propose(rctx, parsed.Items, candidates)
		cancel()
		if err != nil {
			res.Degraded = true
			switch {
			case errors.Is(err, reasoner.ErrUnavailable):
				res.Notes = append(res.Notes, "reasoner unavailable; deterministic scores only")
			case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
				res.Notes = append(res.Notes, "reasoner timed out; deterministic scores only")
			default:
				res.Notes = append(res.Notes, "reasoner failed; deterministic scores only")
			}
			e.log.Warn("match.session.degraded", "error", err)
			proposals = nil
		}
	}

	res.Results = Reconcile(parsed.Items, rankings, proposals, e.cfg)
	return res, nil
}

// scoreAll scores each line item against every candidate. Items are scored
// concurrently; the snapshot is immutable, so the workers share it without
// synchronization.
func (e *Engine) scoreAll(items []models.ParsedLineItem, candidates []models.WorkOrder) [][]models.MatchCandidate {
	rankings := make([][]models.MatchCandidate, len(items))

	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ranking := make([]models.MatchCandidate, 0, len(candidates))
			for _, wo := range candidates {
				ranking = append(ranking, Score(items[i], wo))
			}
			sortRanking(ranking)
			rankings[i] = ranking
		}(i)
	}
	wg.Wait()

	return rankings
}
