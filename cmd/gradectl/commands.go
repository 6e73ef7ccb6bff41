package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mind-engage/mindengage-grading/internal/report"
	"github.com/mind-engage/mindengage-grading/internal/storage"
	syncx "github.com/mind-engage/mindengage-grading/internal/sync"
	"github.com/mind-engage/mindengage-grading/pkg/gradebook"
	"github.com/mind-engage/mindengage-grading/pkg/gradebook/sqlstore"
)

type app struct {
	store  *sqlstore.Store
	recalc *gradebook.Recalculator
	out    io.Writer
	now    func() time.Time
}

func (a *app) printJSON(v any) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// exitFor is 1 when any enrollment failed, so scripts can notice.
func exitFor(rep gradebook.RecalcReport) int {
	if len(rep.Failed) > 0 || rep.Canceled {
		return 1
	}
	return 0
}

func (a *app) recalcSection(ctx context.Context, sectionID string) (int, error) {
	rep, err := a.recalc.RecalculateSection(ctx, sectionID)
	if err != nil && rep.JobID == "" {
		return 1, err
	}
	a.printJSON(rep)
	if err != nil {
		return 1, err
	}
	return exitFor(rep), nil
}

func (a *app) recalcEnrollment(ctx context.Context, sectionID, enrollmentID string) (int, error) {
	g, err := a.recalc.RecalculateEnrollment(ctx, enrollmentID, sectionID)
	if err != nil {
		if gradebook.IsInvalid(err) {
			a.printJSON(map[string]string{"enrollment_id": enrollmentID, "reason": gradebook.ReasonOf(err), "detail": err.Error()})
			return 1, nil
		}
		return 1, err
	}
	a.printJSON(g)
	return 0, nil
}

type allSummary struct {
	Sections  int                      `json:"sections"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
	Blocked   []string                 `json:"blocked_by_weights"`
	Reports   []gradebook.RecalcReport `json:"reports"`
}

// recalcAll runs sections one after another; each run fans out internally.
func (a *app) recalcAll(ctx context.Context) (int, error) {
	ids, err := a.store.ListSections(ctx)
	if err != nil {
		return 1, err
	}
	sum := allSummary{Blocked: []string{}, Reports: []gradebook.RecalcReport{}}
	for _, id := range ids {
		rep, err := a.recalc.RecalculateSection(ctx, id)
		if err != nil && ctx.Err() == nil {
			return 1, fmt.Errorf("section %s: %w", id, err)
		}
		sum.Sections++
		sum.Succeeded += len(rep.Succeeded)
		sum.Failed += len(rep.Failed)
		if rep.WeightsError != nil {
			sum.Blocked = append(sum.Blocked, id)
		}
		sum.Reports = append(sum.Reports, rep)
		if ctx.Err() != nil {
			a.printJSON(sum)
			return 1, ctx.Err()
		}
	}
	a.printJSON(sum)
	if sum.Failed > 0 {
		return 1, nil
	}
	return 0, nil
}

func (a *app) checkWeights(ctx context.Context) (int, error) {
	tables, err := a.store.AllWeightTables(ctx)
	if err != nil {
		return 1, err
	}
	diags := gradebook.Diagnose(tables)
	if len(diags) == 0 {
		fmt.Fprintf(a.out, "%d sections checked, all weights sum to 100\n", len(tables))
		return 0, nil
	}
	for _, d := range diags {
		fmt.Fprintf(a.out, "%s\t%s\tsum=%.2f\tdeviation=%+.2f\n", d.SectionID, d.Reason, d.Sum, d.Deviation)
	}
	return 1, nil
}

func (a *app) export(ctx context.Context, blobs storage.BlobStore, sectionID string) (int, error) {
	weights, err := a.store.WeightsFor(ctx, sectionID)
	if err != nil {
		return 1, err
	}
	grades, err := a.store.ListFinalGrades(ctx, sectionID)
	if err != nil {
		return 1, err
	}
	b, err := report.SectionWorkbook(report.SectionData{SectionID: sectionID, Weights: weights, Grades: grades})
	if err != nil {
		return 1, err
	}
	key, err := blobs.Put(ctx, report.Key(sectionID, a.now()), bytes.NewReader(b))
	if err != nil {
		return 1, err
	}
	u, err := blobs.URL(key)
	if err != nil {
		return 1, err
	}
	fmt.Fprintln(a.out, u)
	return 0, nil
}

func (a *app) publish(ctx context.Context, pub *syncx.Publisher) (int, error) {
	n, err := pub.Drain(ctx)
	cur, cerr := pub.Cursor(ctx)
	if cerr != nil {
		return 1, cerr
	}
	fmt.Fprintf(a.out, "sent=%d cursor=%d\n", n, cur)
	if err != nil {
		return 1, err
	}
	return 0, nil
}
