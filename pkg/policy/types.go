package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/launchpad/pkg/engine"
	"github.com/openfroyo/launchpad/pkg/launch"
)

// Severity grades a violation. Only error and critical deny a launch.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity denies the launch.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one admission rule. Its Rego module must define a deny set in
// which every element is a violation: a string message, or an object with a
// message and optionally a severity.
type Policy struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rego        string   `json:"rego"`
	Severity    Severity `json:"severity"`
	Enabled     bool     `json:"enabled"`

	// Builtin policies ship with the driver and are restored by
	// ReplacePolicies unless overridden by name.
	Builtin bool     `json:"builtin,omitempty"`
	Tags    []string `json:"tags,omitempty"`

	// Metadata records where a loaded policy came from (source file,
	// bundle name and version).
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyViolation is one element of a policy's deny set.
type PolicyViolation struct {
	Policy    string                 `json:"policy"`
	Evaluator string                 `json:"evaluator,omitempty"`
	Message   string                 `json:"message"`
	Severity  Severity               `json:"severity"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// PolicyResult is the outcome of one admission decision. Violations holds
// the blocking findings and Warnings the rest.
type PolicyResult struct {
	Allowed           bool              `json:"allowed"`
	Violations        []PolicyViolation `json:"violations,omitempty"`
	Warnings          []PolicyViolation `json:"warnings,omitempty"`
	EvaluatedAt       time.Time         `json:"evaluated_at"`
	EvaluatedPolicies []string          `json:"evaluated_policies"`
	Duration          time.Duration     `json:"duration"`
}

// Err returns a POLICY_DENIED error naming every blocking violation, or nil
// when the launch is allowed.
func (r *PolicyResult) Err(evaluatorID string) error {
	if r.Allowed {
		return nil
	}

	var msg strings.Builder
	policies := make([]string, 0, len(r.Violations))
	for i, v := range r.Violations {
		if i > 0 {
			msg.WriteString("; ")
		}
		fmt.Fprintf(&msg, "%s: %s", v.Policy, v.Message)
		policies = append(policies, v.Policy)
	}

	return engine.NewPermanentError("launch denied by policy: "+msg.String(), nil).
		WithCode(engine.ErrCodePolicyDenied).
		WithResource(evaluatorID).
		WithOperation("admission").
		WithDetail("policies", policies)
}

// PolicyInput is the input document every policy sees.
type PolicyInput struct {
	Descriptor *launch.Descriptor `json:"descriptor"`
	Context    *PolicyContext     `json:"context"`
}

// PolicyContext carries the circumstances of a decision, exposed to Rego as
// input.context.
type PolicyContext struct {
	Environment string                 `json:"environment,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Operation   string                 `json:"operation,omitempty"`
	DryRun      bool                   `json:"dry_run"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// PolicyBundle is a versioned set of policies loaded from one file.
type PolicyBundle struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Policies    []Policy  `json:"policies"`
	CreatedAt   time.Time `json:"created_at"`
}
