package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/crm-dedup/internal/model"
)

func finishedAt(t time.Time) *time.Time { return &t }

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:         "abc12345-6789-0000-0000-000000000000",
			DatabaseID: "db0123456789",
			Status:     model.RunStatusComplete,
			Summary:    &model.RunSummary{Fetched: 1200, Applied: 37},
			StartedAt:  now,
			FinishedAt: finishedAt(now.Add(2 * time.Minute)),
		},
		{
			ID:         "def12345-6789-0000-0000-000000000000",
			DatabaseID: "db0123456789",
			Status:     model.RunStatusRunning,
			StartedAt:  now.Add(-1 * time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "DATABASE")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "db012345")
	assert.Contains(t, output, "1200")
	assert.Contains(t, output, "37")
	assert.Contains(t, output, "2m0s")
}

func TestFormatRunsList_PartialRun(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:         "abc12345-6789-0000-0000-000000000000",
			DatabaseID: "db",
			Status:     model.RunStatusPartial,
			Summary:    &model.RunSummary{Fetched: 10, Applied: 2, Failed: 3},
			Failures: []model.ArchiveFailure{
				{RecordID: "page-1", Action: model.ActionArchive, Error: "notion: 409 conflict"},
			},
			StartedAt:  now,
			FinishedAt: finishedAt(now.Add(30 * time.Second)),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "partial")
	assert.Contains(t, output, "30s")
}

func TestFilterRuns(t *testing.T) {
	runs := []model.Run{
		{ID: "1", Status: model.RunStatusComplete},
		{ID: "2", Status: model.RunStatusFailed},
		{ID: "3", Status: model.RunStatusComplete},
	}

	assert.Len(t, filterRuns(runs, ""), 3)

	got := filterRuns(runs, model.RunStatusComplete)
	assert.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
	assert.Len(t, runs, 3, "input is not modified")

	assert.Empty(t, filterRuns(runs, model.RunStatusDeclined))
}

func TestRunsStats(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	runs := []model.Run{
		{
			ID:         "1",
			Status:     model.RunStatusComplete,
			Summary:    &model.RunSummary{Applied: 4},
			StartedAt:  now,
			FinishedAt: finishedAt(now.Add(2 * time.Minute)),
		},
		{
			ID:         "2",
			Status:     model.RunStatusPartial,
			Summary:    &model.RunSummary{Applied: 1, Failed: 2},
			StartedAt:  now.Add(5 * time.Minute),
			FinishedAt: finishedAt(now.Add(8 * time.Minute)),
		},
		{
			ID:        "3",
			Status:    model.RunStatusFailed,
			Error:     "dedup: fetch rejected",
			StartedAt: now.Add(10 * time.Minute),
		},
		{
			ID:         "4",
			Status:     model.RunStatusDryRun,
			StartedAt:  now.Add(15 * time.Minute),
			FinishedAt: finishedAt(now.Add(16 * time.Minute)),
		},
	}

	stats := computeRunStats(runs)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.Complete)
	assert.Equal(t, 1, stats.Partial)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Other)
	assert.Equal(t, 5, stats.Archived)
	// (120s + 180s + 60s) / 3 finished runs.
	assert.InDelta(t, 120.0, stats.AvgDurSecs, 0.1)

	var buf bytes.Buffer
	formatRunStats(&buf, stats)

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "Partial:")
	assert.Contains(t, output, "Records archived:")
	assert.Contains(t, output, "120.0s")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}
