// Package message defines the payloads carried by pipeline messages and
// their JSON codecs. A task is an ordered sequence of numbers; a result is
// a tagged variant holding either the final sum or a failure reason. The
// two variants share the result routing path but are always distinguishable.
package message

import (
	"encoding/json"
	"fmt"
)

// Task is the payload of a message on the task routing key. The numbers
// shrink by exactly one element per reduction step until at most one remains.
type Task struct {
	Numbers []float64 `json:"numbers"`
}

// Result is the payload of a message on the result routing key. Exactly one
// of Sum or Error is set.
type Result struct {
	Sum   *float64 `json:"sum,omitempty"`
	Error string   `json:"error,omitempty"`
}

// Ok builds a successful result.
func Ok(sum float64) Result {
	return Result{Sum: &sum}
}

// Err builds a failed result carrying the failure reason.
func Err(reason string) Result {
	return Result{Error: reason}
}

// Failed reports whether r is the error variant.
func (r Result) Failed() bool {
	return r.Sum == nil
}

// EncodeTask serializes a task payload.
func EncodeTask(t Task) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("message: encode task: %w", err)
	}
	return data, nil
}

// DecodeTask parses a task payload.
func DecodeTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("message: decode task: %w", err)
	}
	return t, nil
}

// EncodeResult serializes a result payload.
func EncodeResult(r Result) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("message: encode result: %w", err)
	}
	return data, nil
}

// DecodeResult parses a result payload. A payload that sets neither variant
// is rejected.
func DecodeResult(data []byte) (Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return Result{}, fmt.Errorf("message: decode result: %w", err)
	}
	if r.Sum == nil && r.Error == "" {
		return Result{}, fmt.Errorf("message: result payload sets neither sum nor error")
	}
	return r, nil
}
