// Package router implements weighted traffic splitting with sticky
// per-user assignment.
package router

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
)

const weightTolerance = 0.01

// VariantWeight is one (variant, weight) pair of a routing rule. Weights
// across a rule must sum to 1.
type VariantWeight struct {
	VariantID string  `json:"variant_id"`
	Weight    float64 `json:"weight"`
}

type rule struct {
	variants []VariantWeight
	sticky   map[string]string // user id -> variant id
}

// Router holds routing rules keyed by endpoint (an experiment id, a
// canary rollout id, or any caller-chosen key).
type Router struct {
	mu    sync.Mutex
	rules map[string]*rule
	randf func() float64
}

func New() *Router {
	return &Router{rules: make(map[string]*rule), randf: rand.Float64}
}

// NewWithRand injects the uniform draw source, for deterministic tests.
func NewWithRand(randf func() float64) *Router {
	r := New()
	if randf != nil {
		r.randf = randf
	}
	return r
}

// invalidWeightsError signals a rule whose weights do not sum to 1.
type invalidWeightsError struct{ sum float64 }

func (e invalidWeightsError) Error() string {
	return fmt.Sprintf("variant weights must sum to 1.0, got %.4f", e.sum)
}

// IsInvalidWeights reports whether err indicates a rejected rule.
func IsInvalidWeights(err error) bool {
	_, ok := err.(invalidWeightsError)
	return ok
}

// AddRule installs (or replaces) the rule for an endpoint. The variant
// weights must sum to 1.0 within tolerance. Replacing a rule clears its
// sticky assignments.
func (r *Router) AddRule(endpoint string, variants []VariantWeight) error {
	if len(variants) == 0 {
		return fmt.Errorf("rule %s: no variants", endpoint)
	}
	sum := 0.0
	for _, v := range variants {
		sum += v.Weight
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return invalidWeightsError{sum: sum}
	}
	cp := make([]VariantWeight, len(variants))
	copy(cp, variants)
	r.mu.Lock()
	r.rules[endpoint] = &rule{variants: cp, sticky: make(map[string]string)}
	r.mu.Unlock()
	return nil
}

// RemoveRule clears the routing rule for an endpoint. Prior sticky
// assignments die with the rule and simply become inert.
func (r *Router) RemoveRule(endpoint string) {
	r.mu.Lock()
	delete(r.rules, endpoint)
	r.mu.Unlock()
}

// HasRule reports whether a rule exists for the endpoint.
func (r *Router) HasRule(endpoint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rules[endpoint]
	return ok
}

// Route picks a variant for the endpoint. A non-empty userID is assigned
// stickily: the first draw is remembered and returned on every later
// call while the rule lives and the variant remains valid.
func (r *Router) Route(endpoint, userID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rl, ok := r.rules[endpoint]
	if !ok {
		return "", fmt.Errorf("no routing rule for %s", endpoint)
	}
	if userID != "" {
		if variant, ok := rl.sticky[userID]; ok && rl.hasVariant(variant) {
			return variant, nil
		}
	}

	draw := r.randf()
	cum := 0.0
	chosen := rl.variants[0].VariantID
	for _, v := range rl.variants {
		cum += v.Weight
		if draw < cum {
			chosen = v.VariantID
			break
		}
	}
	// Rounding can leave draw >= final cum; the first-variant default
	// above covers that.
	if userID != "" {
		rl.sticky[userID] = chosen
	}
	return chosen, nil
}

func (rl *rule) hasVariant(id string) bool {
	for _, v := range rl.variants {
		if v.VariantID == id {
			return true
		}
	}
	return false
}
