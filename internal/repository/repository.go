// Package repository presents a read-only, filtered view over work-order
// records. A matching session works against a Snapshot taken at session
// start, so concurrent edits in the record store never change identities
// mid-session.
package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/asmith81/MJM-Special-WOs/internal/models"
)

// ErrNoCandidates is returned by Take when the filtered query yields nothing.
// Callers treat it as non-fatal: every line item resolves to unmatched.
var ErrNoCandidates = errors.New("no candidate work orders")

// Filter restricts a work-order query. IDPattern is a SQL LIKE/regex-style
// prefix class; the default restricts to alpha-prefixed IDs (special-contract
// clients).
type Filter struct {
	IDPattern string
	From      time.Time
	To        time.Time
}

// DefaultFilter matches the alpha-numeric-leading identifier subset.
func DefaultFilter() Filter {
	return Filter{IDPattern: "^[A-Za-z]"}
}

// Source is a read-only view over the record store. Implementations must not
// expose any mutation capability.
type Source interface {
	Query(ctx context.Context, filter Filter) ([]models.WorkOrder, error)
}

// Snapshot is the immutable working set of one matching session.
type Snapshot struct {
	orders  []models.WorkOrder
	byID    map[string]models.WorkOrder
	TakenAt time.Time
}

// Take queries the source once and freezes the result. Records that are not
// alpha-numeric are dropped regardless of what the source returned.
func Take(ctx context.Context, src Source, filter Filter) (*Snapshot, error) {
	records, err := src.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{byID: make(map[string]models.WorkOrder), TakenAt: time.Now()}
	for _, wo := range records {
		if !wo.IsAlphaNumeric() {
			continue
		}
		if _, dup := snap.byID[wo.ID]; dup {
			continue
		}
		snap.byID[wo.ID] = wo
		snap.orders = append(snap.orders, wo)
	}
	sort.Slice(snap.orders, func(i, j int) bool { return snap.orders[i].ID < snap.orders[j].ID })
	if len(snap.orders) == 0 {
		return snap, ErrNoCandidates
	}
	return snap, nil
}

// All returns the snapshot's work orders in ID order. The returned slice is
// shared; callers must not modify it.
func (s *Snapshot) All() []models.WorkOrder {
	return s.orders
}

// Len reports how many work orders the snapshot holds.
func (s *Snapshot) Len() int {
	return len(s.orders)
}

// ByID looks a work order up by its identifier.
func (s *Snapshot) ByID(id string) (models.WorkOrder, bool) {
	wo, ok := s.byID[id]
	return wo, ok
}

// SearchByLocation returns work orders whose location or description contains
// the hint, case-insensitively.
func (s *Snapshot) SearchByLocation(hint string) []models.WorkOrder {
	hint = strings.ToLower(hint)
	var out []models.WorkOrder
	for _, wo := range s.orders {
		if strings.Contains(strings.ToLower(wo.Location), hint) ||
			strings.Contains(strings.ToLower(wo.Description), hint) {
			out = append(out, wo)
		}
	}
	return out
}

// WithinAmount returns work orders whose amount is within tolerancePct of
// the target.
func (s *Snapshot) WithinAmount(target decimal.Decimal, tolerancePct int) []models.WorkOrder {
	if target.IsZero() {
		return nil
	}
	limit := decimal.NewFromInt(int64(tolerancePct))
	var out []models.WorkOrder
	for _, wo := range s.orders {
		if wo.Amount.IsZero() {
			continue
		}
		diffPct := wo.Amount.Sub(target).Abs().Div(target.Abs()).Mul(decimal.NewFromInt(100))
		if diffPct.LessThanOrEqual(limit) {
			out = append(out, wo)
		}
	}
	return out
}

// Stats summarizes a snapshot for the health endpoint.
type Stats struct {
	Count      int             `json:"count"`
	TotalValue decimal.Decimal `json:"totalValue"`
	MinValue   decimal.Decimal `json:"minValue"`
	MaxValue   decimal.Decimal `json:"maxValue"`
}

// Summary computes aggregate statistics over the snapshot.
func (s *Snapshot) Summary() Stats {
	stats := Stats{Count: len(s.orders)}
	first := true
	for _, wo := range s.orders {
		if wo.Amount.IsZero() {
			continue
		}
		stats.TotalValue = stats.TotalValue.Add(wo.Amount)
		if first || wo.Amount.LessThan(stats.MinValue) {
			stats.MinValue = wo.Amount
		}
		if first || wo.Amount.GreaterThan(stats.MaxValue) {
			stats.MaxValue = wo.Amount
		}
		first = false
	}
	return stats
}
