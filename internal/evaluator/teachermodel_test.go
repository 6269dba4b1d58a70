package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTeacherModel struct {
	responses []string
	calls     int
	delay     time.Duration
}

func (f *fakeTeacherModel) Generate(ctx context.Context, prompt string) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	resp := f.responses[f.calls%len(f.responses)]
	f.calls++
	return resp, nil
}

func TestParseJudgeResponseStrictJSON(t *testing.T) {
	jr, err := parseJudgeResponse(`{"passed":true,"score":0.9}`)
	require.NoError(t, err)
	assert.True(t, jr.Passed)
	assert.Equal(t, 0.9, jr.Score)
}

func TestParseJudgeResponseFencedFallback(t *testing.T) {
	raw := "Sure thing:\n```json\n{\"passed\":true,\"score\":1,\"confidence\":1}\n```\n"
	jr, err := parseJudgeResponse(raw)
	require.NoError(t, err)
	assert.True(t, jr.Passed)
}

func TestParseJudgeResponseRejectsGarbage(t *testing.T) {
	_, err := parseJudgeResponse("not json at all, no braces")
	require.Error(t, err)
}

func TestEvaluateTeacherModelMajorityVoteAndVariance(t *testing.T) {
	tm := &fakeTeacherModel{responses: []string{
		`{"passed":true,"score":0.9}`,
		`{"passed":true,"score":0.7}`,
		`{"passed":false,"score":0.3}`,
	}}
	res, err := evaluateTeacherModel(context.Background(), tm, time.Second, 3, "tc1", model.ExactReference{Expected: "x"}, "output", "")
	require.NoError(t, err)
	assert.True(t, res.Passed) // 2 of 3 passed
	assert.InDelta(t, 0.6333333, res.Score, 1e-6)
	require.NotNil(t, res.Confidence)
}

func TestEvaluateTeacherModelTimesOut(t *testing.T) {
	tm := &fakeTeacherModel{responses: []string{`{"passed":true,"score":1}`}, delay: 50 * time.Millisecond}
	_, err := evaluateTeacherModel(context.Background(), tm, 5*time.Millisecond, 1, "tc1", model.ExactReference{Expected: "x"}, "output", "")
	require.Error(t, err)
	var engineErr *model.Error
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, model.KindTimeout, engineErr.Kind)
}
