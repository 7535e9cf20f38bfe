package decision

import (
	"fmt"
	"strings"

	"github.com/harun/nara/pkg/capability"
)

const decisionSystem = `You are the planning core of a personal task assistant.
You never answer the user directly. You decide which capabilities to invoke,
or ask one clarifying question when the request cannot be acted on.
Respond with a single JSON object and nothing else.`

const planFormat = `Respond with exactly one of these JSON shapes.

To act:
{"kind": "plan", "confidence": 0.0-1.0, "reasoning": "why these steps", "needs_input": false, "final": true, "steps": [{"capability": "name", "action": "name", "params": {}, "essential": true, "independent": false, "note": "optional"}]}

To ask the user for more input:
{"kind": "clarification", "question": "one question", "reasoning": "why you cannot act"}

Rules:
- Use only capabilities and actions from the catalog.
- Mark a step "essential": false only if the request still succeeds without it.
- Mark "independent": true only if the step needs no output from earlier steps.
- Set "final": false only when you will need another round of reasoning after seeing these results.
- Set needs_input true with zero steps when you must ask instead of act.`

const repairFormat = `Respond with exactly this JSON shape:
{"kind": "repair", "strategy": "retry|alternative|skip|adjust|abort", "invocation": {"capability": "name", "action": "name", "params": {}}, "reasoning": "why"}

Strategies:
- retry: run the same invocation again (invocation optional).
- adjust: run it again with corrected params (invocation required).
- alternative: use a different capability (invocation required).
- skip: drop this step and continue without it.
- abort: the whole request cannot succeed.`

// buildCatalog renders descriptors for the prompt, one capability per
// block with its actions and parameter schemas
func buildCatalog(catalog []capability.Descriptor) string {
	if len(catalog) == 0 {
		return "(no capabilities available)"
	}

	var b strings.Builder
	for _, desc := range catalog {
		fmt.Fprintf(&b, "- %s (%s): %s\n", desc.Name, desc.Category, desc.Description)
		for _, action := range desc.Actions {
			fmt.Fprintf(&b, "  - action %q: %s\n", action.Name, action.Description)
			for _, p := range action.Parameters {
				required := ""
				if p.Required {
					required = ", required"
				}
				enum := ""
				if len(p.Enum) > 0 {
					enum = fmt.Sprintf(", one of [%s]", strings.Join(p.Enum, ", "))
				}
				fmt.Fprintf(&b, "    - %s (%s%s%s): %s\n", p.Name, p.Type, required, enum, p.Description)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func decisionPrompt(dctx Context, snippets []string) string {
	var b strings.Builder

	b.WriteString("# Capabilities\n\n")
	b.WriteString(buildCatalog(dctx.Catalog))
	b.WriteString("\n")

	if dctx.Summary != "" {
		b.WriteString("\n# Conversation so far\n\n")
		b.WriteString(dctx.Summary)
		b.WriteString("\n")
	}

	if len(snippets) > 0 {
		b.WriteString("\n# Possibly relevant past interactions\n\n")
		for _, s := range snippets {
			fmt.Fprintf(&b, "- %s\n", strings.ReplaceAll(s, "\n", " "))
		}
	}

	if len(dctx.History) > 0 {
		b.WriteString("\n# Progress this request\n\n")
		for _, entry := range dctx.History {
			fmt.Fprintf(&b, "%s\n", entry)
		}
	}

	b.WriteString("\n# Task\n\n")
	fmt.Fprintf(&b, "User request: %s\n\n", dctx.Request)
	b.WriteString(planFormat)

	return b.String()
}

func repairPrompt(req RepairRequest) string {
	var b strings.Builder

	b.WriteString("# Failed step\n\n")
	fmt.Fprintf(&b, "Invocation: %s.%s\n", req.Original.Capability, req.Original.Action)
	fmt.Fprintf(&b, "Parameters: %v\n", req.Original.Params)
	fmt.Fprintf(&b, "Failure: %s\n", req.Failure)
	fmt.Fprintf(&b, "Repair attempt: %d\n", req.Attempt)

	b.WriteString("\n# Expected parameters for this action\n\n")
	b.WriteString(buildCatalog([]capability.Descriptor{{
		Name:        req.Original.Capability,
		Category:    "target",
		Description: "the capability that failed",
		Actions:     []capability.ActionSpec{req.Action},
	}}))
	b.WriteString("\n")

	if len(req.Catalog) > 0 {
		b.WriteString("\n# Other capabilities, if an alternative fits\n\n")
		b.WriteString(buildCatalog(req.Catalog))
		b.WriteString("\n")
	}

	b.WriteString("\n# Task\n\nDecide how to recover from this failure.\n\n")
	b.WriteString(repairFormat)

	return b.String()
}

func complexityPrompt(request string) string {
	var b strings.Builder

	b.WriteString("Rate the complexity of fulfilling this request for a tool-using assistant.\n\n")
	fmt.Fprintf(&b, "User request: %s\n\n", request)
	b.WriteString(`Scale:
1-3: one obvious capability call.
4-6: a few dependent steps or some ambiguity.
7-10: many steps, dependencies, or up-front decomposition needed.

Respond with a single integer from 1 to 10 and nothing else.`)

	return b.String()
}
