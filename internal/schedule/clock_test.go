package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// monday returns 2025-06-02 (a Monday) at the given local business time.
func monday(hour, min int) time.Time {
	return time.Date(2025, time.June, 2, hour, min, 0, 0, businessTZ)
}

func TestWindowContains(t *testing.T) {
	w := DefaultWindow
	require.False(t, w.Contains(monday(9, 29)))
	require.True(t, w.Contains(monday(9, 30)))
	require.True(t, w.Contains(monday(15, 0)))
	require.True(t, w.Contains(monday(21, 0)))
	require.False(t, w.Contains(monday(21, 1)))
	require.False(t, w.Contains(monday(2, 0)))
}

func TestWindowContains_ConvertsToBusinessTime(t *testing.T) {
	// 06:31 UTC is 09:31 MSK.
	utc := time.Date(2025, time.June, 2, 6, 31, 0, 0, time.UTC)
	require.True(t, DefaultWindow.Contains(utc))
}

func TestComputeNext_InWindowUnchanged(t *testing.T) {
	anchor := monday(8, 0)
	got := DefaultWindow.ComputeNext(anchor.Unix(), 2*time.Hour)
	require.Equal(t, monday(10, 0).Unix(), got)
}

func TestComputeNext_AfterCloseSnapsToNextDay(t *testing.T) {
	anchor := monday(20, 0)
	got := DefaultWindow.ComputeNext(anchor.Unix(), 2*time.Hour)
	tuesday := monday(9, 30).AddDate(0, 0, 1)
	require.Equal(t, tuesday.Unix(), got)
}

func TestComputeNext_BeforeOpenSnapsToSameDay(t *testing.T) {
	anchor := monday(5, 0)
	got := DefaultWindow.ComputeNext(anchor.Unix(), 2*time.Hour)
	require.Equal(t, monday(9, 30).Unix(), got)
}

func TestComputeNext_ZeroIntervalIdempotent(t *testing.T) {
	anchors := []time.Time{monday(5, 0), monday(12, 17), monday(20, 59), monday(23, 45)}
	for _, anchor := range anchors {
		first := DefaultWindow.ComputeNext(anchor.Unix(), 2*time.Hour)
		require.Equal(t, first, DefaultWindow.ComputeNext(first, 0), "anchor=%s", anchor)
	}
}

func TestComputeNext_LadderFromFixedAnchor(t *testing.T) {
	anchor := monday(18, 0).Unix()
	stages := []LadderStage{Ladder2h, Ladder16h, Ladder2d, Ladder4d}

	var prev int64
	for i, stage := range stages {
		due := DefaultWindow.ComputeNext(anchor, ladderIntervals[stage])
		require.True(t, DefaultWindow.Contains(time.Unix(due, 0)), "stage %s due time outside window", stage)
		if i > 0 {
			require.Greater(t, due, prev, "stage %s must be after the previous stage", stage)
		}
		prev = due
	}
}
