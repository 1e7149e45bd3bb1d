package render

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
)

// Node is one processing step in a job graph. Input slots map named
// parameters to either literal values or [nodeKey, outputIndex] references
// to another node's output; the distinction only matters to the render
// host, so inputs are kept as raw JSON values.
type Node struct {
	Inputs    map[string]any `json:"inputs"`
	ClassType string         `json:"class_type"`
}

// Graph is a concrete, submittable job graph keyed by stable node key.
type Graph map[string]*Node

// Slots names the template nodes whose inputs the orchestrator rewrites
// per item. Each entry is a stable node key; the input key rewritten in
// that node is fixed by convention (image / image / seed / filename_prefix).
type Slots struct {
	ModelImage     string // LoadImage node for the shared model image
	PoseImage      string // LoadImage node for the per-item pose image
	Seed           string // sampler node carrying the random seed
	FilenamePrefix string // save node carrying the output name prefix
}

// DefaultSlots matches the embedded pose-transfer workflow.
var DefaultSlots = Slots{
	ModelImage:     "78",
	PoseImage:      "179",
	Seed:           "74",
	FilenamePrefix: "94",
}

// slotInputs maps each slot to the input key it rewrites.
const (
	inputImage  = "image"
	inputSeed   = "seed"
	inputPrefix = "filename_prefix"
)

// Bindings are the per-item values substituted into a template.
type Bindings struct {
	ModelImage     string
	PoseImage      string
	Seed           int64
	FilenamePrefix string
}

// Template is a reusable job graph with validated parameter slots.
// Slot presence is checked once at load time; a missing slot is a
// configuration error, not a per-item failure.
type Template struct {
	raw   []byte
	slots Slots
}

// LoadTemplate parses a job graph template and verifies that every
// parameter slot exists and carries the expected input key.
func LoadTemplate(raw []byte, slots Slots) (*Template, error) {
	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("template is not valid JSON: %v", err)}
	}

	checks := []struct {
		node  string
		input string
	}{
		{slots.ModelImage, inputImage},
		{slots.PoseImage, inputImage},
		{slots.Seed, inputSeed},
		{slots.FilenamePrefix, inputPrefix},
	}
	for _, c := range checks {
		node, ok := g[c.node]
		if !ok {
			return nil, &ConfigError{Slot: c.node, Msg: "node not present in template"}
		}
		if _, ok := node.Inputs[c.input]; !ok {
			return nil, &ConfigError{Slot: c.node, Msg: fmt.Sprintf("node has no %q input", c.input)}
		}
	}

	return &Template{raw: append([]byte(nil), raw...), slots: slots}, nil
}

// Instantiate produces an independent, submittable graph with the given
// bindings applied. Each call decodes the template afresh, so concurrent
// or repeated instantiations share no mutable structure: binding one graph
// can never corrupt another.
func (t *Template) Instantiate(b Bindings) (Graph, error) {
	var g Graph
	if err := json.Unmarshal(t.raw, &g); err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("template decode: %v", err)}
	}

	set := func(nodeKey, inputKey string, value any) error {
		node, ok := g[nodeKey]
		if !ok {
			return &ConfigError{Slot: nodeKey, Msg: "node not present in template"}
		}
		if _, ok := node.Inputs[inputKey]; !ok {
			return &ConfigError{Slot: nodeKey, Msg: fmt.Sprintf("node has no %q input", inputKey)}
		}
		node.Inputs[inputKey] = value
		return nil
	}

	if err := set(t.slots.ModelImage, inputImage, b.ModelImage); err != nil {
		return nil, err
	}
	if err := set(t.slots.PoseImage, inputImage, b.PoseImage); err != nil {
		return nil, err
	}
	if err := set(t.slots.Seed, inputSeed, b.Seed); err != nil {
		return nil, err
	}
	if err := set(t.slots.FilenamePrefix, inputPrefix, b.FilenamePrefix); err != nil {
		return nil, err
	}

	return g, nil
}

// NewSeed returns a fresh 13-digit random seed. Uniqueness across items is
// what matters here (the render backend dedupes identical seeds), not
// cryptographic strength.
func NewSeed() int64 {
	return rand.Int64N(9_000_000_000_000) + 1_000_000_000_000
}
