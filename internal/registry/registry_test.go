package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tripwire/internal/compiler"
	"github.com/roach88/tripwire/internal/ir"
)

var fixedNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func newTestRegistry() *Registry {
	return New(WithNow(func() time.Time { return fixedNow }))
}

func sensorInput() ir.Input {
	return ir.Input{Name: "Sensor", Attributes: []string{"sensorId", "temp"}}
}

func tempModel(threshold string) ir.DetectorModel {
	return ir.DetectorModel{
		Name: "temperature",
		Key:  "sensorId",
		Definition: ir.Definition{
			InitialStateName: "Init",
			States: []ir.State{
				{
					Name: "Init",
					OnInput: ir.OnInput{TransitionEvents: []ir.TransitionEvent{{
						Name:      "hot",
						Condition: "$input.Sensor.temp > " + threshold,
						NextState: "Alarmed",
					}}},
				},
				{
					Name: "Alarmed",
					OnInput: ir.OnInput{TransitionEvents: []ir.TransitionEvent{{
						Name:      "cool",
						Condition: "$input.Sensor.temp <= " + threshold,
						NextState: "Init",
					}}},
				},
			},
		},
	}
}

func TestCreateModel(t *testing.T) {
	r := newTestRegistry()

	v, err := r.CreateModel(tempModel("100"))
	require.NoError(t, err)
	assert.Equal(t, "1", v.Version)
	assert.Equal(t, ir.StatusActive, v.Status)
	assert.Equal(t, ir.EvaluationSerial, v.EvaluationMethod())
	assert.Equal(t, fixedNow, v.CreatedAt)

	active, ok := r.Active("temperature")
	require.True(t, ok)
	assert.Equal(t, v.Hash(), active.Hash())
}

func TestCreateModelRejectsInvalid(t *testing.T) {
	r := newTestRegistry()
	m := tempModel("100")
	m.Definition.InitialStateName = "Nowhere"

	_, err := r.CreateModel(m)
	require.Error(t, err)
	assert.True(t, compiler.IsDefinitionError(err))
	assert.Empty(t, r.ListModels(), "nothing stored on validation failure")
}

func TestCreateModelConflict(t *testing.T) {
	r := newTestRegistry()
	_, err := r.CreateModel(tempModel("100"))
	require.NoError(t, err)

	_, err = r.CreateModel(tempModel("100"))
	assert.True(t, IsConflict(err))
}

func TestUpdateModelVersions(t *testing.T) {
	r := newTestRegistry()
	_, err := r.CreateModel(tempModel("100"))
	require.NoError(t, err)

	v2, err := r.UpdateModel(tempModel("90"))
	require.NoError(t, err)
	assert.Equal(t, "2", v2.Version)
	assert.Equal(t, ir.StatusActive, v2.Status)

	versions, err := r.ListVersions("temperature")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "2", versions[0].Version)
	assert.Equal(t, ir.StatusInactive, versions[1].Status)

	v1, err := r.DescribeModel("temperature", "1")
	require.NoError(t, err)
	assert.NotEqual(t, v1.Hash(), v2.Hash())

	latest, err := r.DescribeModel("temperature", "")
	require.NoError(t, err)
	assert.Equal(t, "2", latest.Version)

	_, err = r.DescribeModel("temperature", "7")
	assert.True(t, IsNotFound(err))
}

func TestUpdateModelNotFound(t *testing.T) {
	r := newTestRegistry()
	_, err := r.UpdateModel(tempModel("100"))
	assert.True(t, IsNotFound(err))
}

func TestUpdateModelInvalidKeepsActive(t *testing.T) {
	r := newTestRegistry()
	_, err := r.CreateModel(tempModel("100"))
	require.NoError(t, err)

	_, err = r.UpdateModel(tempModel("("))
	require.Error(t, err)

	active, ok := r.Active("temperature")
	require.True(t, ok)
	assert.Equal(t, "1", active.Version)
}

func TestPauseAndResume(t *testing.T) {
	r := newTestRegistry()
	_, err := r.CreateModel(tempModel("100"))
	require.NoError(t, err)

	_, err = r.SetModelStatus("temperature", ir.StatusPaused)
	require.NoError(t, err)
	_, ok := r.Active("temperature")
	assert.False(t, ok, "paused models do not accept input")
	assert.Empty(t, r.ActiveModels())

	_, err = r.SetModelStatus("temperature", ir.StatusActive)
	require.NoError(t, err)
	_, ok = r.Active("temperature")
	assert.True(t, ok)

	_, err = r.SetModelStatus("temperature", ir.StatusDraft)
	assert.True(t, IsStatusError(err))
}

func TestDeleteModelNotifiesWhileDeleting(t *testing.T) {
	r := newTestRegistry()
	_, err := r.CreateModel(tempModel("100"))
	require.NoError(t, err)
	_, err = r.UpdateModel(tempModel("90"))
	require.NoError(t, err)

	var statusDuringDelete []ir.ModelStatus
	r.OnChange(func(c Change) {
		if c.Kind != ModelDeleted {
			return
		}
		versions, err := r.ListVersions(c.Name)
		require.NoError(t, err)
		for _, v := range versions {
			statusDuringDelete = append(statusDuringDelete, v.Status)
		}
		_, ok := r.Active(c.Name)
		assert.False(t, ok)
	})

	require.NoError(t, r.DeleteModel("temperature"))
	assert.Equal(t, []ir.ModelStatus{ir.StatusDeleting, ir.StatusDeleting}, statusDuringDelete)

	_, err = r.DescribeModel("temperature", "")
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(r.DeleteModel("temperature")))
}

func TestObserverOrder(t *testing.T) {
	r := newTestRegistry()
	var kinds []ChangeKind
	r.OnChange(func(c Change) { kinds = append(kinds, c.Kind) })

	_, err := r.CreateInput(sensorInput())
	require.NoError(t, err)
	_, err = r.CreateModel(tempModel("100"))
	require.NoError(t, err)
	_, err = r.UpdateModel(tempModel("90"))
	require.NoError(t, err)
	require.NoError(t, r.DeleteModel("temperature"))
	require.NoError(t, r.DeleteInput("Sensor"))

	assert.Equal(t, []ChangeKind{
		InputChanged,
		ModelActivated,
		ModelStatusChanged,
		ModelActivated,
		ModelDeleted,
		InputDeleted,
	}, kinds)
}

func TestInputs(t *testing.T) {
	r := newTestRegistry()

	rec, err := r.CreateInput(sensorInput())
	require.NoError(t, err)
	assert.Equal(t, ir.InputActive, rec.Status)
	assert.True(t, r.HasInput("Sensor"))

	_, err = r.CreateInput(sensorInput())
	assert.True(t, IsConflict(err))

	_, err = r.CreateInput(ir.Input{Name: "Bad"})
	assert.True(t, compiler.IsDefinitionError(err))

	rec, err = r.UpdateInput(ir.Input{Name: "Sensor", Attributes: []string{"sensorId"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"sensorId"}, rec.Input.Attributes)

	_, err = r.CreateInput(ir.Input{Name: "Alpha", Attributes: []string{"x"}})
	require.NoError(t, err)
	names := []string{}
	for _, in := range r.ListInputs() {
		names = append(names, in.Input.Name)
	}
	assert.Equal(t, []string{"Alpha", "Sensor"}, names)

	require.NoError(t, r.DeleteInput("Sensor"))
	assert.False(t, r.HasInput("Sensor"))
	_, err = r.DescribeInput("Sensor")
	assert.True(t, IsNotFound(err))
}

func TestModelWarningsUseDeclaredInputs(t *testing.T) {
	r := newTestRegistry()
	_, err := r.CreateInput(ir.Input{Name: "Sensor", Attributes: []string{"sensorId"}})
	require.NoError(t, err)

	v, err := r.CreateModel(tempModel("100"))
	require.NoError(t, err)
	require.Len(t, v.Program.Warnings, 1)
	assert.Equal(t, compiler.WarnUnknownAttribute, v.Program.Warnings[0].Code)
}

func TestLoadCollectsErrors(t *testing.T) {
	r := newTestRegistry()
	bad := tempModel("100")
	bad.Name = "broken"
	bad.Definition.InitialStateName = ""

	err := r.Load([]ir.Input{sensorInput()}, []ir.DetectorModel{tempModel("100"), bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `detector model "broken"`)
	assert.Len(t, r.ListModels(), 1)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition("", ir.StatusActivating))
	assert.True(t, CanTransition(ir.StatusActivating, ir.StatusActive))
	assert.True(t, CanTransition(ir.StatusActive, ir.StatusDeleting))
	assert.False(t, CanTransition(ir.StatusDeleting, ir.StatusActive))
	assert.False(t, CanTransition(ir.StatusInactive, ir.StatusActive))
	assert.False(t, CanTransition("", ir.StatusActive))
}

func TestMemoryInstances(t *testing.T) {
	s := NewMemoryInstances[*int]()
	k := InstanceKey{Model: "m", Version: "1", Key: "a"}

	var wg sync.WaitGroup
	results := make([]*int, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = s.LoadOrCreate(k, func() *int { n := i; return &n })
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Same(t, results[0], r, "racing creators share one instance")
	}

	s.LoadOrCreate(InstanceKey{Model: "m", Version: "2", Key: "b"}, func() *int { return new(int) })
	s.LoadOrCreate(InstanceKey{Model: "other", Version: "1", Key: "a"}, func() *int { return new(int) })

	found, _, ok := s.Find("m", "b")
	require.True(t, ok)
	assert.Equal(t, "2", found.Version)

	assert.Equal(t, []InstanceKey{
		{Model: "m", Version: "1", Key: "a"},
		{Model: "m", Version: "2", Key: "b"},
		{Model: "other", Version: "1", Key: "a"},
	}, s.Keys())

	removed := s.DeleteModel("m")
	assert.Len(t, removed, 2)
	assert.Len(t, s.Keys(), 1)
}

func TestMemoryInstancesFindFollowsDeletes(t *testing.T) {
	s := NewMemoryInstances[string]()
	v1 := InstanceKey{Model: "m", Version: "1", Key: "a"}
	v2 := InstanceKey{Model: "m", Version: "2", Key: "a"}

	s.LoadOrCreate(v1, func() string { return "one" })
	s.LoadOrCreate(v2, func() string { return "two" })

	found, val, ok := s.Find("m", "a")
	require.True(t, ok)
	assert.Equal(t, v1, found)
	assert.Equal(t, "one", val)

	_, ok = s.Delete(v1)
	require.True(t, ok)
	found, val, ok = s.Find("m", "a")
	require.True(t, ok)
	assert.Equal(t, v2, found)
	assert.Equal(t, "two", val)

	_, ok = s.Delete(v1)
	assert.False(t, ok, "second delete is a no-op")

	s.DeleteModel("m")
	_, _, ok = s.Find("m", "a")
	assert.False(t, ok)

	_, _, ok = s.Find("m", "missing")
	assert.False(t, ok)
}
