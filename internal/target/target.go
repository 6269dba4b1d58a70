// Package target runs Prompts against the configured execution target: a
// Dify workflow endpoint, a generic gRPC LLM service, or an in-process
// example stub. The Executor fans a batch of test cases out over a bounded
// number of workers and reports per-case output, latency, and error without
// letting one failing case abort the batch.
package target

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// Credentials carries the decrypted secrets a Client needs. BaseURL doubles
// as the gRPC address for the generic target.
type Credentials struct {
	APIKey  string
	BaseURL string
}

// Client is the flat generate-text contract every execution target
// implements. input carries the test case's flattened input variables and
// may be nil for inputless calls (the teacher-model judge path).
type Client interface {
	Generate(ctx context.Context, prompt string, input map[string]string) (string, error)
}

// CaseOutput is one test case's execution outcome. Err is set when the
// target call failed; Output is empty in that case.
type CaseOutput struct {
	TestCaseID string
	Output     string
	LatencyMS  int64
	Err        error
}

const (
	defaultConcurrency = 4
	maxConcurrency     = 64
)

// Executor runs a prompt over batches of test cases with bounded fan-out.
type Executor struct {
	client      Client
	concurrency int
}

// NewExecutor clamps concurrency into [1, 64], defaulting to 4 when the
// caller passes zero or a negative value.
func NewExecutor(client Client, concurrency int) *Executor {
	switch {
	case concurrency <= 0:
		concurrency = defaultConcurrency
	case concurrency > maxConcurrency:
		concurrency = maxConcurrency
	}
	return &Executor{client: client, concurrency: concurrency}
}

// RunBatch executes prompt against every case and returns outputs in the
// same order as cases. A cancelled ctx surfaces as per-case errors rather
// than a short write.
func (e *Executor) RunBatch(ctx context.Context, prompt string, cases []model.TestCase) []CaseOutput {
	outputs := make([]CaseOutput, len(cases))
	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	for i, tc := range cases {
		wg.Add(1)
		go func(i int, tc model.TestCase) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outputs[i] = CaseOutput{TestCaseID: tc.ID, Err: ctx.Err()}
				return
			}

			start := time.Now()
			out, err := e.client.Generate(ctx, prompt, renderInput(tc.Input))
			outputs[i] = CaseOutput{
				TestCaseID: tc.ID,
				Output:     out,
				LatencyMS:  time.Since(start).Milliseconds(),
				Err:        err,
			}
		}(i, tc)
	}
	wg.Wait()
	return outputs
}

// renderInput renders a test case's structured input into the flat
// string map the Client contract takes. JSON strings are unquoted; every
// other value keeps its raw JSON text.
func renderInput(in map[string]json.RawMessage) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out
}
