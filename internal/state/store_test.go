package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriberBubbling(t *testing.T) {
	s := NewStore(10)
	s.PutRun(RunRecord{RunID: "r-1", Status: StatusPending})

	var runsHits, exactHits, wildHits, otherHits int
	s.Subscribe("runs", func(string) { runsHits++ })
	s.Subscribe("runs.r-1.status", func(string) { exactHits++ })
	s.Subscribe("*", func(string) { wildHits++ })
	s.Subscribe("timeline", func(string) { otherHits++ })

	status := StatusPlanning
	s.UpdateRun("r-1", RunPatch{Status: &status})

	assert.Equal(t, 1, runsHits, "prefix subscriber fires exactly once per update")
	assert.Equal(t, 1, exactHits)
	assert.Equal(t, 1, wildHits)
	assert.Equal(t, 0, otherHits)
}

func TestSubscriberPrefixIsSegmentAware(t *testing.T) {
	s := NewStore(10)
	s.PutRun(RunRecord{RunID: "r-1"})

	var hits int
	s.Subscribe("runs.r-1", func(string) { hits++ })

	// "runs.r-10" must not match a subscriber on "runs.r-1".
	s.PutRun(RunRecord{RunID: "r-10"})
	assert.Equal(t, 0, hits)

	status := StatusCoding
	s.UpdateRun("r-1", RunPatch{Status: &status})
	assert.Equal(t, 1, hits)
}

func TestUpdateRunMultiFieldNotifiesOnce(t *testing.T) {
	s := NewStore(10)
	s.PutRun(RunRecord{RunID: "r-1"})

	var paths []string
	s.Subscribe("runs", func(p string) { paths = append(paths, p) })

	status := StatusTesting
	iter := 2
	s.UpdateRun("r-1", RunPatch{Status: &status, Iteration: &iter})

	require.Len(t, paths, 1)
	assert.Equal(t, "runs.r-1", paths[0])
}

func TestUnsubscribe(t *testing.T) {
	s := NewStore(10)
	var hits int
	id := s.Subscribe("*", func(string) { hits++ })
	s.PutRun(RunRecord{RunID: "r-1"})
	s.Unsubscribe(id)
	s.PutRun(RunRecord{RunID: "r-2"})
	assert.Equal(t, 1, hits)
}

func TestStubReconciliation(t *testing.T) {
	s := NewStore(10)
	s.PutRun(RunRecord{
		RunID:           "ISSUE-42",
		IssueIdentifier: "ISSUE-42",
		Status:          StatusPending,
		ApprovalMode:    ApprovalAlwaysGate,
		IsStub:          true,
	})
	s.Select("ISSUE-42")

	s.ReconcileRun("ISSUE-42", RunRecord{
		RunID:           "r-99",
		IssueIdentifier: "ISSUE-42",
		Status:          StatusPlanning,
		ApprovalMode:    ApprovalAuto,
	})

	_, ok := s.GetRun("ISSUE-42")
	assert.False(t, ok, "stub must be gone")

	rec, ok := s.GetRun("r-99")
	require.True(t, ok)
	assert.Equal(t, ApprovalAlwaysGate, rec.ApprovalMode, "stub approval mode reapplied")
	assert.False(t, rec.IsStub)
	assert.Equal(t, "r-99", s.Selected(), "selection follows the stub")
}

func TestReconcileWithoutStubInserts(t *testing.T) {
	s := NewStore(10)
	s.ReconcileRun("ISSUE-7", RunRecord{RunID: "r-1", IssueIdentifier: "ISSUE-7", ApprovalMode: ApprovalAuto})
	rec, ok := s.GetRun("r-1")
	require.True(t, ok)
	assert.Equal(t, ApprovalAuto, rec.ApprovalMode)
	assert.Equal(t, "", s.Selected())
}

func TestReconcileIsAtomicForSubscribers(t *testing.T) {
	s := NewStore(10)
	s.PutRun(RunRecord{RunID: "ISSUE-1", IssueIdentifier: "ISSUE-1", IsStub: true})

	var notifications int
	s.Subscribe("runs", func(string) {
		notifications++
		// At notification time the swap must already be complete.
		_, stubThere := s.GetRun("ISSUE-1")
		_, realThere := s.GetRun("r-5")
		assert.False(t, stubThere)
		assert.True(t, realThere)
	})

	s.ReconcileRun("ISSUE-1", RunRecord{RunID: "r-5", IssueIdentifier: "ISSUE-1"})
	assert.Equal(t, 1, notifications)
}

func TestCursorMonotonicity(t *testing.T) {
	s := NewStore(10)
	assert.True(t, s.ApplyCursor("r1", 1))
	assert.True(t, s.ApplyCursor("r1", 2))
	assert.False(t, s.ApplyCursor("r1", 2), "duplicate cursor is rejected")
	assert.True(t, s.ApplyCursor("r1", 3))
	assert.False(t, s.ApplyCursor("r1", 1), "stale cursor is rejected")
	assert.Equal(t, "r1:3", s.ReplayCursor())
}

func TestReplayCursorIsStable(t *testing.T) {
	s := NewStore(10)
	s.SeedCursor("r2", 7)
	s.SeedCursor("r1", 4)
	s.SeedCursor("r2", 3) // seeding never lowers
	assert.Equal(t, "r1:4,r2:7", s.ReplayCursor())
}

func TestUpsertPreservesPosition(t *testing.T) {
	s := NewStore(10)
	s.AppendTimelineEntry(TimelineEntry{ID: "a", RunID: "r-1", Kind: KindPhase, Title: "Planning"})
	s.AppendTimelineEntry(TimelineEntry{ID: "b", RunID: "r-1", Kind: KindOutput, Title: "step 1", Payload: OutputPayload{Text: "first"}})
	s.AppendTimelineEntry(TimelineEntry{ID: "c", RunID: "r-1", Kind: KindMilestone, Title: "Plan approved"})

	s.UpsertTimelineEntry(TimelineEntry{ID: "b", RunID: "r-1", Kind: KindOutput, Title: "step 1 (updated)", Payload: OutputPayload{Text: "second"}})

	log := s.Timeline("r-1")
	require.Len(t, log, 3)
	assert.Equal(t, "b", log[1].ID)
	assert.Equal(t, "step 1 (updated)", log[1].Title)
	assert.Equal(t, OutputPayload{Text: "second"}, log[1].Payload)
}

func TestAppendDuplicateIdentityIsIdempotent(t *testing.T) {
	s := NewStore(10)
	e := TimelineEntry{ID: "x", RunID: "r-1", Kind: KindMilestone, Title: "done", TS: time.Now()}
	s.AppendTimelineEntry(e)
	s.AppendTimelineEntry(e)
	assert.Equal(t, 1, s.TimelineLen("r-1"))
}

func TestPhaseOutputStepMerge(t *testing.T) {
	s := NewStore(10)
	id := "r-1:planning:0"
	s.UpsertTimelineEntry(TimelineEntry{
		ID: id, RunID: "r-1", Kind: KindPhaseOutput, Phase: "planning",
		Payload: PhaseOutputPayload{Steps: []OutputStep{{Step: "draft", Text: "v1"}}},
	})
	s.UpsertTimelineEntry(TimelineEntry{
		ID: id, RunID: "r-1", Kind: KindPhaseOutput, Phase: "planning",
		Payload: PhaseOutputPayload{Steps: []OutputStep{{Step: "draft", Text: "v2"}, {Step: "review", Text: "ok"}}},
	})

	log := s.Timeline("r-1")
	require.Len(t, log, 1)
	payload, ok := log[0].Payload.(PhaseOutputPayload)
	require.True(t, ok)
	require.Len(t, payload.Steps, 2)
	assert.Equal(t, "v2", payload.Steps[0].Text, "known step text replaced in place")
	assert.Equal(t, "review", payload.Steps[1].Step, "new step appended")
}

func TestOutputBufferCap(t *testing.T) {
	b := NewOutputBuffer(3)
	for _, l := range []string{"1", "2", "3", "4", "5"} {
		b.Append(l)
	}
	assert.Equal(t, []string{"3", "4", "5"}, b.Lines())
	assert.Equal(t, 3, b.Len())
}

func TestCollapseStateSurvivesByID(t *testing.T) {
	s := NewStore(10)
	assert.False(t, s.IsCollapsed("e-1"))
	assert.True(t, s.ToggleCollapsed("e-1"))
	assert.True(t, s.IsCollapsed("e-1"))

	s.SetCollapsedAll([]string{"e-1", "e-2"}, false)
	assert.False(t, s.IsCollapsed("e-1"))
	assert.False(t, s.IsCollapsed("e-2"))
}

func TestDeleteRunClearsDerivedState(t *testing.T) {
	s := NewStore(10)
	s.PutRun(RunRecord{RunID: "r-1"})
	s.Select("r-1")
	s.AppendTimelineEntry(TimelineEntry{ID: "a", RunID: "r-1", Kind: KindSystem})
	s.AppendOutputLine("r-1", "hello")

	s.DeleteRun("r-1")

	assert.Equal(t, "", s.Selected())
	assert.Equal(t, 0, s.TimelineLen("r-1"))
	assert.Empty(t, s.OutputLines("r-1"))
}

func TestReplaceRunsKeepsSurvivingTimelines(t *testing.T) {
	s := NewStore(10)
	s.PutRun(RunRecord{RunID: "r-1"})
	s.PutRun(RunRecord{RunID: "r-2"})
	s.AppendTimelineEntry(TimelineEntry{ID: "a", RunID: "r-1", Kind: KindSystem})
	s.AppendTimelineEntry(TimelineEntry{ID: "b", RunID: "r-2", Kind: KindSystem})

	s.ReplaceRuns([]RunRecord{{RunID: "r-2", Status: StatusRunning}})

	assert.Equal(t, 0, s.TimelineLen("r-1"))
	assert.Equal(t, 1, s.TimelineLen("r-2"))
	runs := s.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, StatusRunning, runs[0].Status)
}

func TestDeleteRunNotifiesClearedSelection(t *testing.T) {
	s := NewStore(10)
	s.PutRun(RunRecord{RunID: "r-1"})
	s.PutRun(RunRecord{RunID: "r-2"})
	s.Select("r-1")

	var paths []string
	s.Subscribe("selected", func(path string) { paths = append(paths, path) })

	s.DeleteRun("r-2")
	assert.Empty(t, paths, "deleting an unselected run leaves the selection alone")

	s.DeleteRun("r-1")
	assert.Equal(t, "", s.Selected())
	assert.Equal(t, []string{"selected"}, paths)
}

func TestReplaceRunsNotifiesClearedSelection(t *testing.T) {
	s := NewStore(10)
	s.PutRun(RunRecord{RunID: "r-1"})
	s.PutRun(RunRecord{RunID: "r-2"})
	s.Select("r-1")

	var paths []string
	s.Subscribe("selected", func(path string) { paths = append(paths, path) })

	s.ReplaceRuns([]RunRecord{{RunID: "r-1"}, {RunID: "r-2"}})
	assert.Empty(t, paths, "a surviving selection stays put")

	s.ReplaceRuns([]RunRecord{{RunID: "r-2"}})
	assert.Equal(t, "", s.Selected())
	assert.Equal(t, []string{"selected"}, paths)
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "plan_gate", StatusPlanGate.Label())
	assert.Equal(t, "unknown", RunStatus("refining").Label())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusCoding.Terminal())
}
