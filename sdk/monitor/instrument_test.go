package monitor

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stepAgent exposes the step callback hook point.
type stepAgent struct {
	cb StepCallback
}

func (a *stepAgent) StepCallback() StepCallback      { return a.cb }
func (a *stepAgent) SetStepCallback(cb StepCallback) { a.cb = cb }

// actionAgent exposes only the per-action hook point.
type actionAgent struct {
	hook ActionHook
}

func (a *actionAgent) ActionHook() ActionHook     { return a.hook }
func (a *actionAgent) SetActionHook(h ActionHook) { a.hook = h }

func eventTypes(evs []Event) []string {
	types := make([]string, len(evs))
	for i, ev := range evs {
		types[i] = ev.Type
	}
	return types
}

func TestStepInstrumentation(t *testing.T) {
	rec := newRecorder(t, false)
	m := startMonitor(t, rec)
	defer m.End(t.Context(), "completed")

	agent := &stepAgent{}
	inst := Attach(agent, m)
	defer inst.Detach()

	agent.cb(Step{
		Number:     1,
		Evaluation: "page loaded",
		NextGoal:   "open the product",
		Actions: []Action{
			{Kind: "navigate", URL: "https://shop.example/item"},
			{Kind: "click", Selector: "#add-to-cart"},
		},
	})

	evs := rec.waitForEvents(t, 4)
	want := []string{"step_start", "step_reasoning", "action", "action"}
	for i, typ := range eventTypes(evs) {
		if typ != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, typ, want[i])
		}
	}
}

func TestStepStartEmittedOncePerStep(t *testing.T) {
	rec := newRecorder(t, false)
	m := startMonitor(t, rec)
	defer m.End(t.Context(), "completed")

	agent := &stepAgent{}
	inst := Attach(agent, m)
	defer inst.Detach()

	agent.cb(Step{Number: 1})
	agent.cb(Step{Number: 1}) // same step revisited
	agent.cb(Step{Number: 2})

	evs := rec.waitForEvents(t, 5)
	starts := 0
	for _, ev := range evs {
		if ev.Type == "step_start" {
			starts++
		}
	}
	if starts != 2 {
		t.Errorf("step_start count = %d, want 2", starts)
	}
}

func TestActionURLSticky(t *testing.T) {
	rec := newRecorder(t, false)
	m := startMonitor(t, rec)
	defer m.End(t.Context(), "completed")

	agent := &actionAgent{}
	inst := Attach(agent, m)
	defer inst.Detach()

	agent.hook(Action{Kind: "navigate", URL: "https://shop.example"})
	agent.hook(Action{Kind: "click", Selector: "#buy"}) // no URL of its own

	evs := rec.waitForEvents(t, 2)
	got, ok := evs[1].Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T", evs[1].Payload)
	}
	if got["url"] != "https://shop.example" {
		t.Errorf("url = %v, want sticky https://shop.example", got["url"])
	}
}

// fullAgent exposes both hook points, like an agent whose executor
// invokes the action hook per action and the step callback once the
// step completes.
type fullAgent struct {
	stepAgent
	actionAgent
}

// runStep drives the agent the way its host loop would: each action
// through the action hook, then the completed step through the step
// callback.
func (a *fullAgent) runStep(s Step) {
	for _, act := range s.Actions {
		if a.hook != nil {
			a.hook(act)
		}
	}
	if a.cb != nil {
		a.cb(s)
	}
}

func TestAttachWrapsBothHookPoints(t *testing.T) {
	rec := newRecorder(t, false)
	m := startMonitor(t, rec)
	defer m.End(t.Context(), "completed")

	agent := &fullAgent{}
	inst := Attach(agent, m)
	defer inst.Detach()

	if inst.cap != capBoth {
		t.Fatalf("capability = %d, want capBoth", inst.cap)
	}
	if agent.cb == nil || agent.hook == nil {
		t.Fatal("both hook points must be wrapped")
	}

	agent.runStep(Step{
		Number:     1,
		Evaluation: "page loaded",
		Actions: []Action{
			{Kind: "navigate", URL: "https://shop.example/item"},
			{Kind: "click", Selector: "#add-to-cart"},
		},
	})

	evs := rec.waitForEvents(t, 4)
	want := []string{"action", "action", "step_start", "step_reasoning"}
	for i, typ := range eventTypes(evs) {
		if typ != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, typ, want[i])
		}
	}

	// Each action flows through the action hook exactly once; the step
	// callback must not re-emit them.
	time.Sleep(50 * time.Millisecond)
	actions := 0
	for _, ev := range rec.snapshot() {
		if ev.Type == "action" {
			actions++
		}
	}
	if actions != 2 {
		t.Errorf("action count = %d, want 2", actions)
	}
}

func TestDetachRestoresBothHookPoints(t *testing.T) {
	rec := newRecorder(t, false)
	m := startMonitor(t, rec)
	defer m.End(t.Context(), "completed")

	agent := &fullAgent{}
	inst := Attach(agent, m)
	inst.Detach()

	if agent.cb != nil {
		t.Error("detach should restore the nil step callback")
	}
	if agent.hook != nil {
		t.Error("detach should restore the nil action hook")
	}
}

func TestDetachRestoresPreviousHook(t *testing.T) {
	rec := newRecorder(t, false)
	m := startMonitor(t, rec)
	defer m.End(t.Context(), "completed")

	var calls []string
	agent := &stepAgent{cb: func(Step) { calls = append(calls, "original") }}

	first := Attach(agent, m)
	second := Attach(agent, m)

	// LIFO teardown restores the chain exactly.
	second.Detach()
	first.Detach()

	agent.cb(Step{Number: 1})
	if len(calls) != 1 || calls[0] != "original" {
		t.Errorf("calls after detach = %v, want [original]", calls)
	}

	time.Sleep(50 * time.Millisecond)
	for _, ev := range rec.snapshot() {
		if ev.Type == "step_start" {
			t.Error("detached instrumentation still emitting")
		}
	}
}

func TestDetachRestoresNilHook(t *testing.T) {
	rec := newRecorder(t, false)
	m := startMonitor(t, rec)
	defer m.End(t.Context(), "completed")

	agent := &stepAgent{}
	inst := Attach(agent, m)
	inst.Detach()

	if agent.cb != nil {
		t.Error("detach should restore the nil hook")
	}
	inst.Detach() // second detach is a no-op
}

func TestAttachWithoutCapabilityIsNoop(t *testing.T) {
	rec := newRecorder(t, false)
	m := startMonitor(t, rec)
	defer m.End(t.Context(), "completed")

	inst := Attach(struct{}{}, m)
	if inst.cap != capNone {
		t.Errorf("capability = %d, want capNone", inst.cap)
	}
	inst.Detach()
}
