package target

import (
	"context"
	"sort"
)

// ExampleClient is the in-process stub target. It needs no credentials and
// never leaves the process, which makes it the default for tests and for
// tasks created without a real execution target. Respond, when set, decides
// the output per call; otherwise the first input value (or a fixed string)
// is echoed back.
type ExampleClient struct {
	Respond func(prompt string, input map[string]string) string
}

func (c *ExampleClient) Generate(_ context.Context, prompt string, input map[string]string) (string, error) {
	if c.Respond != nil {
		return c.Respond(prompt, input), nil
	}
	if len(input) > 0 {
		keys := make([]string, 0, len(input))
		for k := range input {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return input[keys[0]], nil
	}
	return "example output", nil
}
