package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRunPlan_WavesRespectDependencies(t *testing.T) {
	tasks := []Record{
		{ID: "task_001", Status: Pending},
		{ID: "task_002", Status: Pending, DependsOn: []string{"task_001"}},
		{ID: "task_003", Status: Pending, DependsOn: []string{"task_002"}},
	}
	plan := BuildRunPlan(tasks)
	require.Len(t, plan.Waves, 3)
	assert.Equal(t, "task_001", plan.Waves[0][0].ID)
	assert.Equal(t, "task_002", plan.Waves[1][0].ID)
	assert.Equal(t, "task_003", plan.Waves[2][0].ID)
	assert.Empty(t, plan.Blocked)
}

func TestBuildRunPlan_ConflictingResourceKeysSplitAcrossSubwaves(t *testing.T) {
	tasks := []Record{
		{ID: "task_001", Status: Pending, ResourceKeys: []string{"repo:write"}},
		{ID: "task_002", Status: Pending, ResourceKeys: []string{"repo:write"}},
	}
	plan := BuildRunPlan(tasks)
	require.Len(t, plan.Waves, 2, "two write-locking tasks on the same resource must not share a wave")
	seen := map[string]bool{}
	for _, wave := range plan.Waves {
		require.Len(t, wave, 1)
		seen[wave[0].ID] = true
	}
	assert.True(t, seen["task_001"])
	assert.True(t, seen["task_002"])
}

func TestBuildRunPlan_ReadReadDoNotConflict(t *testing.T) {
	tasks := []Record{
		{ID: "task_001", Status: Pending, ResourceKeys: []string{"repo:read"}},
		{ID: "task_002", Status: Pending, ResourceKeys: []string{"repo:read"}},
	}
	plan := BuildRunPlan(tasks)
	require.Len(t, plan.Waves, 1)
	assert.Len(t, plan.Waves[0], 2)
}

func TestBuildRunPlan_CycleReportsBlockedNotDropped(t *testing.T) {
	tasks := []Record{
		{ID: "task_001", Status: Pending, DependsOn: []string{"task_002"}},
		{ID: "task_002", Status: Pending, DependsOn: []string{"task_001"}},
	}
	plan := BuildRunPlan(tasks)
	assert.Empty(t, plan.Waves)
	require.Len(t, plan.Blocked, 2)
}

func TestBuildRunPlan_FallsBackToParentID(t *testing.T) {
	tasks := []Record{
		{ID: "task_001", Status: Pending},
		{ID: "task_002", Status: Pending, ParentID: "task_001"},
	}
	plan := BuildRunPlan(tasks)
	require.Len(t, plan.Waves, 2)
	assert.Equal(t, "task_001", plan.Waves[0][0].ID)
	assert.Equal(t, "task_002", plan.Waves[1][0].ID)
}

func TestBackoffForAttempt_CapsAtMax(t *testing.T) {
	assert.Equal(t, int64(250), BackoffForAttempt(1).Milliseconds())
	assert.Equal(t, int64(500), BackoffForAttempt(2).Milliseconds())
	assert.Equal(t, int64(1000), BackoffForAttempt(3).Milliseconds())
	assert.Equal(t, int64(2000), BackoffForAttempt(4).Milliseconds())
	assert.Equal(t, int64(2000), BackoffForAttempt(10).Milliseconds(), "must cap at MaxBackoff")
}

func TestClassifyFailure(t *testing.T) {
	truth, falsy := true, false
	assert.Equal(t, BlockedByPolicy, ClassifyFailure(&truth, nil))
	assert.Equal(t, Retryable, ClassifyFailure(&falsy, &truth))
	assert.Equal(t, NonRetryable, ClassifyFailure(&falsy, &falsy))
	assert.Equal(t, NonRetryable, ClassifyFailure(nil, nil))
}

func TestStoreAddAndList(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir + "/tasks.json")

	t1, err := store.Add(Record{Command: "next"})
	require.NoError(t, err)
	assert.Equal(t, "task_001", t1.ID)
	assert.Equal(t, Pending, t1.Status)

	t2, err := store.Add(Record{Command: "diffsum"})
	require.NoError(t, err)
	assert.Equal(t, "task_002", t2.ID)

	all, err := store.List()
	require.NoError(t, err)
	require.Len(t, all, 2)

	updated, err := store.Update(t1.ID, func(r *Record) { r.Status = Done })
	require.NoError(t, err)
	assert.Equal(t, Done, updated.Status)
}
