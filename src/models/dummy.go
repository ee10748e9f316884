package models

import (
	"context"
	"strings"
)

// DummyModel is a canned-response model for local runs and tests.
// Responses are served in order and the last one repeats.
type DummyModel struct {
	Responses []string
	calls     int
}

func NewDummyModel(responses ...string) *DummyModel {
	if len(responses) == 0 {
		responses = []string{"{}"}
	}
	return &DummyModel{Responses: responses}
}

func (d *DummyModel) Complete(_ context.Context, prompt string, _ Options) (string, error) {
	idx := d.calls
	if idx >= len(d.Responses) {
		idx = len(d.Responses) - 1
	}
	d.calls++
	resp := d.Responses[idx]
	if resp == "" {
		resp = strings.TrimSpace(prompt)
	}
	return resp, nil
}

var _ Model = (*DummyModel)(nil)
