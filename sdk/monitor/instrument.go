package monitor

import "sync"

// Action is one decided browser action.
type Action struct {
	Kind     string `json:"kind"`
	Selector string `json:"selector,omitempty"`
	URL      string `json:"url,omitempty"`
	Value    string `json:"value,omitempty"`
}

// Step is one agent planning step with its decided actions.
type Step struct {
	Number     int
	Evaluation string
	Memory     string
	NextGoal   string
	Actions    []Action
}

// ActionHook receives each decided action.
type ActionHook func(Action)

// StepCallback receives each completed planning step.
type StepCallback func(Step)

// ActionHookCarrier is implemented by agents that expose a per-action
// hook point.
type ActionHookCarrier interface {
	ActionHook() ActionHook
	SetActionHook(ActionHook)
}

// StepCallbackCarrier is implemented by agents that expose a
// per-planning-step callback. Steps carry reasoning that per-action
// hooks cannot see.
type StepCallbackCarrier interface {
	StepCallback() StepCallback
	SetStepCallback(StepCallback)
}

type capability int

const (
	capNone capability = iota
	capAction
	capStep
	capBoth
)

type stepStartPayload struct {
	StepNumber int `json:"step_number"`
}

type stepReasoningPayload struct {
	StepNumber int    `json:"step_number"`
	Evaluation string `json:"evaluation,omitempty"`
	Memory     string `json:"memory,omitempty"`
	NextGoal   string `json:"next_goal,omitempty"`
}

// Instrumentation taps an agent's hook points and emits telemetry
// through a Monitor. The agent's capability is probed once at attach
// time; agents exposing neither interface are monitored as a no-op.
type Instrumentation struct {
	mon *Monitor
	cap capability

	mu         sync.Mutex
	lastStep   int
	currentURL string

	restore func()
}

// Attach wraps each hook point the agent exposes with one that emits
// telemetry before invoking whatever hook was installed previously.
// Agents exposing both interfaces get both wrappers: actions are then
// emitted from the action hook and steps contribute only step_start and
// step_reasoning. Detach restores the previous hooks, so decorators
// attached after this one must be detached first.
func Attach(agent any, mon *Monitor) *Instrumentation {
	inst := &Instrumentation{mon: mon}

	sc, hasStep := agent.(StepCallbackCarrier)
	ac, hasAction := agent.(ActionHookCarrier)

	var restores []func()
	if hasStep {
		prev := sc.StepCallback()
		sc.SetStepCallback(func(s Step) {
			inst.onStep(s)
			if prev != nil {
				prev(s)
			}
		})
		restores = append(restores, func() { sc.SetStepCallback(prev) })
	}
	if hasAction {
		prev := ac.ActionHook()
		ac.SetActionHook(func(a Action) {
			inst.onAction(a)
			if prev != nil {
				prev(a)
			}
		})
		restores = append(restores, func() { ac.SetActionHook(prev) })
	}

	switch {
	case hasStep && hasAction:
		inst.cap = capBoth
	case hasStep:
		inst.cap = capStep
	case hasAction:
		inst.cap = capAction
	default:
		inst.cap = capNone
	}
	if len(restores) > 0 {
		inst.restore = func() {
			for i := len(restores) - 1; i >= 0; i-- {
				restores[i]()
			}
		}
	}
	return inst
}

// Detach restores the hook that was installed before Attach, including
// a nil one.
func (inst *Instrumentation) Detach() {
	if inst.restore != nil {
		inst.restore()
		inst.restore = nil
	}
}

// onStep emits step_start on the first sight of a step number, the
// step's reasoning, and one action event per decided action.
func (inst *Instrumentation) onStep(s Step) {
	inst.mu.Lock()
	newStep := s.Number > inst.lastStep
	if newStep {
		inst.lastStep = s.Number
	}
	inst.mu.Unlock()

	if newStep {
		inst.mon.Emit("step_start", stepStartPayload{StepNumber: s.Number})
	}
	inst.mon.Emit("step_reasoning", stepReasoningPayload{
		StepNumber: s.Number,
		Evaluation: s.Evaluation,
		Memory:     s.Memory,
		NextGoal:   s.NextGoal,
	})

	// When the agent also exposes an action hook, every action reaches
	// us through it; emitting the step's actions here would duplicate
	// each one.
	if inst.cap == capBoth {
		return
	}
	for _, a := range s.Actions {
		inst.onAction(a)
	}
}

// onAction emits one action event, carrying the last seen URL forward
// when the action itself has none.
func (inst *Instrumentation) onAction(a Action) {
	inst.mu.Lock()
	if a.URL != "" {
		inst.currentURL = a.URL
	} else {
		a.URL = inst.currentURL
	}
	inst.mu.Unlock()

	inst.mon.Emit("action", a)
}
