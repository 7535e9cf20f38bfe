package react

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/harun/nara/pkg/capability"
	"github.com/harun/nara/pkg/decision"
)

// run is the per-request state: the scratchpad, the repetition guard and
// the result bookkeeping. It lives for exactly one Controller.Run call.
type run struct {
	ctrl   *Controller
	req    Request
	pad    *Scratchpad
	logger zerolog.Logger

	lastSig  string
	sigCount int

	completed []string
	lastData  map[string]any
	skipped   int
}

// stepResult is the controller-side view of one executor call.
type stepResult struct {
	ok        bool
	cancelled bool
	message   string
	data      map[string]any
}

// singleShot decides once and executes, bypassing the loop.
func (r *run) singleShot(ctx context.Context) Outcome {
	r.pad.NextIteration()

	plan, err := r.decide(ctx, "")
	if err != nil {
		return r.failErr(err)
	}
	if plan.IsClarification() {
		return r.clarification(plan)
	}
	if fatal := r.actObserve(ctx, plan); fatal != nil {
		return *fatal
	}
	return r.success()
}

// loop runs reason-act-observe cycles until the plan is final, a budget
// runs out or something fails beyond repair.
func (r *run) loop(ctx context.Context) Outcome {
	for r.pad.Iteration() < r.ctrl.maxIterations {
		if fatal := r.expired(ctx); fatal != nil {
			return *fatal
		}
		r.pad.NextIteration()

		plan, err := r.decide(ctx, "")
		if err != nil {
			return r.failErr(err)
		}
		if plan.IsClarification() {
			return r.clarification(plan)
		}
		if fatal := r.guardRepetition(plan); fatal != nil {
			return *fatal
		}
		if fatal := r.actObserve(ctx, plan); fatal != nil {
			return *fatal
		}
		if plan.Final {
			return r.success()
		}
		r.logger.Debug().Int("iteration", r.pad.Iteration()).Msg("Plan asks for another pass")
	}
	return r.budget("iterations")
}

// planning decomposes the request into sub-goals first, then works through
// them in dependency order, one reason-act cycle per goal. Decomposition
// failure degrades to the plain loop.
func (r *run) planning(ctx context.Context) Outcome {
	if r.ctrl.planner == nil {
		return r.loop(ctx)
	}

	outline, err := r.ctrl.planner.Decompose(ctx, r.req.Text, r.ctrl.registry.List())
	if err != nil {
		r.logger.Warn().Err(err).Msg("Decomposition failed, falling back to the loop")
		return r.loop(ctx)
	}
	levels, err := r.ctrl.planner.Levels(outline)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Outline ordering failed, falling back to the loop")
		return r.loop(ctx)
	}

	descriptions := make([]string, 0, len(outline.Goals))
	for _, g := range outline.Goals {
		descriptions = append(descriptions, g.Description)
	}
	r.pad.Thought("Outline: " + strings.Join(descriptions, "; "))

	for _, level := range levels {
		for _, goal := range level {
			if r.pad.Iteration() >= r.ctrl.maxIterations {
				return r.budget("iterations")
			}
			if fatal := r.expired(ctx); fatal != nil {
				return *fatal
			}
			r.pad.NextIteration()

			plan, err := r.decide(ctx, goal.Description)
			if err != nil {
				return r.failErr(err)
			}
			if plan.IsClarification() {
				return r.clarification(plan)
			}
			if fatal := r.guardRepetition(plan); fatal != nil {
				return *fatal
			}
			if fatal := r.actObserve(ctx, plan); fatal != nil {
				return *fatal
			}
		}
	}
	return r.success()
}

// decide calls the decision engine with the scratchpad appended and records
// the plan's reasoning as a thought. A non-empty focus narrows the request
// to one sub-goal.
func (r *run) decide(ctx context.Context, focus string) (decision.Plan, error) {
	dctx := decision.Context{
		Request:   r.req.Text,
		SessionID: r.req.SessionID,
		Summary:   r.req.Summary,
		History:   r.pad.Lines(),
		Catalog:   r.ctrl.registry.List(),
	}
	if focus != "" {
		dctx.Request = focus
		overall := "Overall goal: " + r.req.Text
		if dctx.Summary == "" {
			dctx.Summary = overall
		} else {
			dctx.Summary += "\n" + overall
		}
	}

	plan, err := r.ctrl.engine.Decide(ctx, dctx)
	if err != nil {
		return decision.Plan{}, err
	}
	if plan.Reasoning != "" {
		r.pad.Thought(plan.Reasoning)
	}
	return plan, nil
}

// actObserve safety-checks the plan, then executes its steps in order.
// Consecutive steps marked independent fan out concurrently and join
// before their observations are recorded. A non-nil return aborts the run.
func (r *run) actObserve(ctx context.Context, plan decision.Plan) *Outcome {
	if r.ctrl.gate != nil {
		if err := r.ctrl.gate.CheckPlan(plan.Steps); err != nil {
			r.pad.Observation("plan rejected: " + err.Error())
			out := r.fail(err.Error(), err)
			return &out
		}
	}

	steps := plan.Steps
	for i := 0; i < len(steps); {
		j := i + 1
		if steps[i].Independent {
			for j < len(steps) && steps[j].Independent {
				j++
			}
		}

		if j-i > 1 {
			if fatal := r.fanOut(ctx, steps[i:j]); fatal != nil {
				return fatal
			}
		} else {
			if fatal := r.actOne(ctx, steps[i]); fatal != nil {
				return fatal
			}
		}
		i = j
	}
	return nil
}

func (r *run) actOne(ctx context.Context, inv capability.Invocation) *Outcome {
	inv = r.normalize(inv)
	r.pad.Action(invocationLine(inv))

	res := r.callExecutor(ctx, inv)
	r.observe(inv, res)

	if res.ok {
		return nil
	}
	if res.cancelled {
		return r.deadline()
	}
	return r.repair(ctx, inv, res.message)
}

// fanOut executes a group of independent steps concurrently and joins
// before observing. Repairs for any failures still run sequentially.
func (r *run) fanOut(ctx context.Context, steps []capability.Invocation) *Outcome {
	normed := make([]capability.Invocation, len(steps))
	for i, s := range steps {
		normed[i] = r.normalize(s)
		r.pad.Action(invocationLine(normed[i]))
	}

	results := make([]stepResult, len(normed))
	var wg sync.WaitGroup
	for i := range normed {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.callExecutor(ctx, normed[i])
		}(i)
	}
	wg.Wait()

	for i := range normed {
		r.observe(normed[i], results[i])
	}
	for i := range normed {
		if results[i].ok {
			continue
		}
		if results[i].cancelled {
			return r.deadline()
		}
		if fatal := r.repair(ctx, normed[i], results[i].message); fatal != nil {
			return fatal
		}
	}
	return nil
}

// callExecutor runs one invocation and folds every failure shape into a
// stepResult. It never writes shared run state; fan-out calls it from
// multiple goroutines.
func (r *run) callExecutor(ctx context.Context, inv capability.Invocation) stepResult {
	result, err := r.ctrl.exec.Execute(ctx, inv)
	if err != nil {
		return stepResult{
			message:   err.Error(),
			cancelled: ctx.Err() != nil,
		}
	}
	if !result.OK() {
		return stepResult{message: result.Error, data: result.Data}
	}
	return stepResult{ok: true, data: result.Data}
}

func (r *run) observe(inv capability.Invocation, res stepResult) {
	name := invName(inv)
	if res.ok {
		r.pad.Observation(fmt.Sprintf("%s succeeded: %s", name, compactJSON(res.data)))
		r.completed = append(r.completed, name)
		if len(res.data) > 0 {
			r.lastData = res.data
		}
		return
	}
	r.pad.Observation(fmt.Sprintf("%s failed: %s", name, res.message))
}

// repair feeds the failure back to the decision engine and re-executes the
// corrected invocation, at most maxRepairAttempts times. Exhaustion fails
// the request for essential steps and records a skip otherwise.
func (r *run) repair(ctx context.Context, inv capability.Invocation, failure string) *Outcome {
	current := inv

	for attempt := 1; attempt <= r.ctrl.maxRepairAttempts; attempt++ {
		if fatal := r.expired(ctx); fatal != nil {
			return fatal
		}

		rep, err := r.ctrl.engine.Repair(ctx, decision.RepairRequest{
			Original: current,
			Action:   r.actionSpec(current),
			Failure:  failure,
			Attempt:  attempt,
			Catalog:  r.ctrl.registry.List(),
		})
		if err != nil {
			r.logger.Warn().Err(err).Msg("Repair reasoning unavailable")
			break
		}
		if rep.Reasoning != "" {
			r.pad.Thought(fmt.Sprintf("Repair %d for %s: %s", attempt, invName(current), rep.Reasoning))
		}

		switch rep.Strategy {
		case decision.RepairAbort:
			out := r.fail(fmt.Sprintf("%s failed and cannot be repaired: %s", invName(current), failure), nil)
			return &out
		case decision.RepairSkip:
			if current.Essential {
				out := r.fail(fmt.Sprintf("essential step %s failed: %s", invName(current), failure), nil)
				return &out
			}
			r.skipped++
			r.pad.Observation(fmt.Sprintf("%s skipped after failure", invName(current)))
			return nil
		case decision.RepairAlternative, decision.RepairAdjust:
			if rep.Invocation != nil {
				next := *rep.Invocation
				next.StepID = current.StepID
				next.Essential = current.Essential
				current = next
			}
		}

		if r.ctrl.gate != nil {
			if err := r.ctrl.gate.CheckPlan([]capability.Invocation{current}); err != nil {
				out := r.fail(err.Error(), err)
				return &out
			}
		}

		current = r.normalize(current)
		r.pad.Action(invocationLine(current))
		res := r.callExecutor(ctx, current)
		r.observe(current, res)
		if res.ok {
			return nil
		}
		if res.cancelled {
			return r.deadline()
		}
		failure = res.message
	}

	if inv.Essential {
		out := r.fail(fmt.Sprintf("essential step %s failed after %d repair attempt(s): %s",
			invName(inv), r.ctrl.maxRepairAttempts, failure), nil)
		return &out
	}
	r.skipped++
	r.pad.Observation(fmt.Sprintf("%s abandoned after %d repair attempt(s)", invName(inv), r.ctrl.maxRepairAttempts))
	return nil
}

// guardRepetition aborts when the same invocation keeps being proposed.
func (r *run) guardRepetition(plan decision.Plan) *Outcome {
	for _, inv := range plan.Steps {
		sig := invSignature(inv)
		if sig == r.lastSig {
			r.sigCount++
		} else {
			r.lastSig = sig
			r.sigCount = 1
		}
		if r.sigCount >= r.ctrl.maxRepeats {
			out := r.fail(fmt.Sprintf("aborted: %s proposed %d times in a row", invName(inv), r.sigCount), nil)
			return &out
		}
	}
	return nil
}

func (r *run) normalize(inv capability.Invocation) capability.Invocation {
	if r.ctrl.normalizer == nil {
		return inv
	}
	spec, ok := r.lookupAction(inv)
	if !ok {
		return inv
	}
	normed, notes := r.ctrl.normalizer.Apply(inv, spec)
	for _, note := range notes {
		r.logger.Debug().Str("step", inv.StepID).Msg("Normalized: " + note)
	}
	return normed
}

func (r *run) actionSpec(inv capability.Invocation) capability.ActionSpec {
	spec, _ := r.lookupAction(inv)
	return spec
}

func (r *run) lookupAction(inv capability.Invocation) (capability.ActionSpec, bool) {
	desc, err := r.ctrl.registry.Resolve(inv.Capability)
	if err != nil {
		return capability.ActionSpec{}, false
	}
	return desc.Action(inv.Action)
}

func (r *run) expired(ctx context.Context) *Outcome {
	if ctx.Err() == nil && !r.pad.Expired() {
		return nil
	}
	return r.deadline()
}

func (r *run) deadline() *Outcome {
	out := r.budget("deadline")
	return &out
}

func (r *run) budget(kind string) Outcome {
	err := &BudgetExhaustedError{
		Kind:       kind,
		Iterations: r.pad.Iteration(),
		Elapsed:    r.pad.Elapsed(),
	}
	r.logger.Warn().Str("budget", kind).Int("iterations", r.pad.Iteration()).Msg("Budget exhausted")
	return Outcome{
		Status:  StatusFailed,
		Message: r.partialMessage(kind),
		Err:     err,
	}
}

func (r *run) partialMessage(kind string) string {
	what := "time"
	if kind == "iterations" {
		what = "steps"
	}
	if len(r.completed) == 0 {
		return fmt.Sprintf("I ran out of %s before completing anything.", what)
	}
	return fmt.Sprintf("I ran out of %s. Completed so far: %s.", what, strings.Join(r.completed, ", "))
}

func (r *run) fail(message string, err error) Outcome {
	return Outcome{Status: StatusFailed, Message: message, Err: err}
}

func (r *run) failErr(err error) Outcome {
	return Outcome{Status: StatusFailed, Message: "reasoning failed: " + err.Error(), Err: err}
}

func (r *run) clarification(plan decision.Plan) Outcome {
	question := plan.Question
	if question == "" {
		question = "I need a little more detail to act on that."
	}
	return Outcome{Status: StatusClarification, Message: question}
}

func (r *run) success() Outcome {
	return Outcome{Status: StatusSuccess, Message: r.successMessage()}
}

func (r *run) successMessage() string {
	if msg, ok := r.lastData["message"].(string); ok && msg != "" {
		return msg
	}
	switch len(r.completed) {
	case 0:
		return "All done."
	case 1:
		return fmt.Sprintf("Done: %s completed.", r.completed[0])
	default:
		return fmt.Sprintf("Done: %d actions completed (%s).", len(r.completed), strings.Join(r.completed, ", "))
	}
}

func invName(inv capability.Invocation) string {
	if inv.Action == "" {
		return inv.Capability
	}
	return inv.Capability + "." + inv.Action
}

func invocationLine(inv capability.Invocation) string {
	if len(inv.Params) == 0 {
		return invName(inv)
	}
	return invName(inv) + " " + compactJSON(inv.Params)
}

// invSignature identifies an invocation by capability, action and params.
// Map marshalling sorts keys, so equal params give equal signatures.
func invSignature(inv capability.Invocation) string {
	params, err := json.Marshal(inv.Params)
	if err != nil {
		params = []byte(fmt.Sprintf("%v", inv.Params))
	}
	return inv.Capability + "\x00" + inv.Action + "\x00" + string(params)
}

func compactJSON(data map[string]any) string {
	if len(data) == 0 {
		return "(no data)"
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	s := string(b)
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}
