package target

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

func caseWith(id string, input map[string]json.RawMessage) model.TestCase {
	return model.TestCase{ID: id, Input: input, Reference: model.ExactReference{Expected: "x"}}
}

func TestRunBatchPreservesCaseOrder(t *testing.T) {
	client := &ExampleClient{Respond: func(_ string, input map[string]string) string {
		return input["n"]
	}}
	cases := make([]model.TestCase, 8)
	for i := range cases {
		cases[i] = caseWith(fmt.Sprintf("c%d", i), map[string]json.RawMessage{
			"n": json.RawMessage(fmt.Sprintf("%q", fmt.Sprintf("out-%d", i))),
		})
	}

	outputs := NewExecutor(client, 3).RunBatch(context.Background(), "p", cases)
	require.Len(t, outputs, len(cases))
	for i, out := range outputs {
		assert.Equal(t, fmt.Sprintf("c%d", i), out.TestCaseID)
		assert.Equal(t, fmt.Sprintf("out-%d", i), out.Output)
		assert.NoError(t, out.Err)
	}
}

type failingClient struct {
	failID string
}

func (c *failingClient) Generate(_ context.Context, _ string, input map[string]string) (string, error) {
	if input["id"] == c.failID {
		return "", errors.New("boom")
	}
	return "ok", nil
}

func TestRunBatchIsolatesPerCaseFailure(t *testing.T) {
	cases := []model.TestCase{
		caseWith("a", map[string]json.RawMessage{"id": json.RawMessage(`"a"`)}),
		caseWith("b", map[string]json.RawMessage{"id": json.RawMessage(`"b"`)}),
		caseWith("c", map[string]json.RawMessage{"id": json.RawMessage(`"c"`)}),
	}

	outputs := NewExecutor(&failingClient{failID: "b"}, 2).RunBatch(context.Background(), "p", cases)
	require.Len(t, outputs, 3)
	assert.NoError(t, outputs[0].Err)
	assert.Error(t, outputs[1].Err)
	assert.Empty(t, outputs[1].Output)
	assert.NoError(t, outputs[2].Err)
}

type countingClient struct {
	mu      sync.Mutex
	current int32
	peak    int32
}

func (c *countingClient) Generate(_ context.Context, _ string, _ map[string]string) (string, error) {
	n := atomic.AddInt32(&c.current, 1)
	c.mu.Lock()
	if n > c.peak {
		c.peak = n
	}
	c.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&c.current, -1)
	return "ok", nil
}

func TestRunBatchBoundsConcurrency(t *testing.T) {
	client := &countingClient{}
	cases := make([]model.TestCase, 12)
	for i := range cases {
		cases[i] = caseWith(fmt.Sprintf("c%d", i), nil)
	}

	NewExecutor(client, 2).RunBatch(context.Background(), "p", cases)
	assert.LessOrEqual(t, client.peak, int32(2))
}

func TestNewExecutorClampsConcurrency(t *testing.T) {
	assert.Equal(t, defaultConcurrency, NewExecutor(nil, 0).concurrency)
	assert.Equal(t, defaultConcurrency, NewExecutor(nil, -3).concurrency)
	assert.Equal(t, maxConcurrency, NewExecutor(nil, 200).concurrency)
	assert.Equal(t, 7, NewExecutor(nil, 7).concurrency)
}

func TestRenderInputUnquotesStringsKeepsRawJSON(t *testing.T) {
	got := renderInput(map[string]json.RawMessage{
		"s":   json.RawMessage(`"hello"`),
		"n":   json.RawMessage(`42`),
		"obj": json.RawMessage(`{"k":1}`),
	})
	assert.Equal(t, "hello", got["s"])
	assert.Equal(t, "42", got["n"])
	assert.Equal(t, `{"k":1}`, got["obj"])
	assert.Nil(t, renderInput(nil))
}

func TestResolveExampleNeedsNoCredentials(t *testing.T) {
	client, err := Resolve(model.TargetConfig{Kind: model.TargetExample}, Credentials{}, time.Second)
	require.NoError(t, err)
	assert.IsType(t, &ExampleClient{}, client)
}

func TestResolveRejectsUnknownKind(t *testing.T) {
	_, err := Resolve(model.TargetConfig{Kind: "mystery"}, Credentials{}, time.Second)
	require.Error(t, err)
	var me *model.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, model.KindValidation, me.Kind)
}

func TestResolveDifyEnforcesURLPolicy(t *testing.T) {
	defer SetURLPolicy(URLPolicy{})

	SetURLPolicy(URLPolicy{})
	_, err := Resolve(model.TargetConfig{Kind: model.TargetDify}, Credentials{BaseURL: "http://dify.example.com"}, time.Second)
	assert.Error(t, err, "plain http rejected by default")

	_, err = Resolve(model.TargetConfig{Kind: model.TargetDify}, Credentials{BaseURL: "https://localhost:8080"}, time.Second)
	assert.Error(t, err, "localhost rejected by default")

	SetURLPolicy(URLPolicy{AllowHTTP: true, AllowLocalhost: true})
	_, err = Resolve(model.TargetConfig{Kind: model.TargetDify}, Credentials{BaseURL: "http://localhost:8080"}, time.Second)
	assert.NoError(t, err)
}

func TestDifyClientGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat-messages", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req difyChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "blocking", req.ResponseMode)
		assert.Equal(t, "the prompt", req.Inputs["prompt"])
		assert.Equal(t, "v1", req.Inputs["var"])

		json.NewEncoder(w).Encode(difyChatResponse{Answer: "the answer"})
	}))
	defer srv.Close()

	client := newDifyClient(Credentials{BaseURL: srv.URL, APIKey: "sk-test"}, "prompt", time.Second)
	out, err := client.Generate(context.Background(), "the prompt", map[string]string{"var": "v1"})
	require.NoError(t, err)
	assert.Equal(t, "the answer", out)
}

func TestDifyClientReportsHTTPErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("secret prompt echoed back"))
	}))
	defer srv.Close()

	client := newDifyClient(Credentials{BaseURL: srv.URL}, "prompt", time.Second)
	_, err := client.Generate(context.Background(), "p", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.NotContains(t, err.Error(), "secret prompt")
}
