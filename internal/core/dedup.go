package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/feedpipe/internal/dedup"
	"github.com/JonMunkholm/feedpipe/internal/logging"
	"github.com/JonMunkholm/feedpipe/internal/metrics"
	"github.com/JonMunkholm/feedpipe/internal/model"
	"github.com/JonMunkholm/feedpipe/internal/telemetry"
)

// RunDeduplication resolves the workspace's active mapped products with
// its first active rule and replaces the Final Product set with the
// winners.
//
// Passes over one workspace are serialized through the service locker; a
// pass started while another holds the lock fails with lock.ErrLocked.
func (s *Service) RunDeduplication(ctx context.Context, workspaceID string) (report DedupReport, err error) {
	if strings.TrimSpace(workspaceID) == "" {
		return DedupReport{}, fmt.Errorf("%w: missing workspace id", ErrInvalidRequest)
	}

	start := time.Now()
	log := logging.WithFields(ctx, "workspace_id", workspaceID)

	release, err := s.locker.Acquire(ctx, "dedup:"+workspaceID)
	if err != nil {
		return DedupReport{}, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.dedupTimeout)
	defer cancel()

	ctx, span := telemetry.Tracer().Start(ctx, "dedup.run")
	span.SetAttributes(attribute.String("workspace.id", workspaceID))
	defer func() {
		metrics.RecordDedup(len(report.Conflicts), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("deduplication failed", "error", err)
		}
		span.End()
	}()

	var records []model.MappedProduct
	var rules []model.DedupRule

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = s.store.ListActiveMappedProducts(gctx, workspaceID)
		if err != nil {
			return fmt.Errorf("load mapped products: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		rules, err = s.store.ListDedupRules(gctx, workspaceID)
		if err != nil {
			return fmt.Errorf("load dedup rules: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return DedupReport{}, err
	}

	rule := ActiveRule(rules)
	res := dedup.Resolve(records, rule)

	finals := make([]model.FinalProduct, 0, len(res.Winners))
	now := time.Now().UTC()
	for _, w := range res.Winners {
		finals = append(finals, model.FinalProduct{
			WorkspaceID: workspaceID,
			MatchValue:  w.MatchValue,
			SupplierID:  w.Record.SupplierID,
			UID:         w.Record.UID,
			Reason:      string(w.Reason),
			Fields:      w.Record.Fields,
			UpdatedAt:   now,
		})
	}

	if err := s.store.ReplaceFinalProducts(ctx, workspaceID, finals); err != nil {
		return DedupReport{}, fmt.Errorf("replace final products: %w", err)
	}

	report = DedupReport{
		WorkspaceID: workspaceID,
		Stats:       res.Stats,
		Conflicts:   res.Conflicts,
		DurationMs:  time.Since(start).Milliseconds(),
	}
	if report.Conflicts == nil {
		report.Conflicts = []dedup.Conflict{}
	}
	if rule != nil {
		report.RuleID = rule.ID
		report.MatchKey = rule.MatchKey
	}

	span.SetAttributes(
		attribute.Int("dedup.records", res.Stats.Records),
		attribute.Int("dedup.winners", res.Stats.Winners),
		attribute.Int("dedup.conflicts", res.Stats.Conflicts),
	)
	log.Info("deduplication finished",
		"rule_id", report.RuleID,
		"records", res.Stats.Records,
		"winners", res.Stats.Winners,
		"conflicts", res.Stats.Conflicts,
		"excluded", res.Stats.Excluded,
		"duration_ms", report.DurationMs,
	)
	return report, nil
}

// ActiveRule returns the rule a deduplication pass applies: the active rule
// with the highest priority, the oldest on ties. Other active rules are
// ignored, never combined. Returns nil when no rule is active.
func ActiveRule(rules []model.DedupRule) *model.DedupRule {
	active := make([]model.DedupRule, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return nil
	}

	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority > active[j].Priority
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return &active[0]
}
