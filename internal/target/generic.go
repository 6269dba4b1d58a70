package target

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// generateMethod is the fully-qualified gRPC method of the sidecar LLM
// service. Request and response are both StringValue wrappers: the request
// carries a JSON envelope, the response the generated text. Invoking the
// method directly keeps this module free of generated stubs for a service
// whose schema the sidecar owns.
const generateMethod = "/llm.v1.LLMService/Generate"

// genericClient implements Client over the generic gRPC LLM service.
// Uses insecure (plaintext) transport — the LLM service is expected to run
// as a sidecar or on localhost. If the service is ever deployed across a
// network boundary, this must be upgraded to TLS.
type genericClient struct {
	conn      *grpc.ClientConn
	modelName string
	timeout   time.Duration
}

func newGenericClient(addr, modelName string, timeout time.Duration) (*genericClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client for %s: %w", addr, err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &genericClient{conn: conn, modelName: modelName, timeout: timeout}, nil
}

// generateEnvelope is the JSON payload carried inside the request
// StringValue.
type generateEnvelope struct {
	Model  string            `json:"model"`
	Prompt string            `json:"prompt"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

func (c *genericClient) Generate(ctx context.Context, prompt string, input map[string]string) (string, error) {
	payload, err := json.Marshal(generateEnvelope{Model: c.modelName, Prompt: prompt, Inputs: input})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp wrapperspb.StringValue
	if err := c.conn.Invoke(callCtx, generateMethod, wrapperspb.String(string(payload)), &resp); err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return "", model.Wrap(model.KindTimeout, err, "generate call exceeded %s", c.timeout)
		}
		return "", model.Wrap(model.KindModelFailure, err, "gRPC Generate call failed")
	}
	return resp.GetValue(), nil
}

// Close releases the gRPC connection.
func (c *genericClient) Close() error {
	return c.conn.Close()
}
