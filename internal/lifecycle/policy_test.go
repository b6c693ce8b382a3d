package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideRetryPolicy(t *testing.T) {
	pending := []string{"a"}
	tests := []struct {
		name       string
		unresolved []string
		round      int
		want       Decision
	}{
		{"nothing pending", nil, 1, Stop},
		{"first round polls", pending, 1, RetryPoll},
		{"second round re-issues", pending, 2, RetryIssue},
		{"third round polls", pending, 3, RetryPoll},
		{"last allowed round", pending, 4, RetryIssue},
		{"past the ceiling", pending, 5, Stop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecideRetryPolicy(tt.unresolved, tt.round, 4))
		})
	}
}

func TestScriptedPolicy(t *testing.T) {
	p := ScriptedPolicy(RetryIssue, RetryPoll)
	assert.Equal(t, RetryIssue, p.Decide([]string{"a"}, 1))
	assert.Equal(t, RetryPoll, p.Decide([]string{"a"}, 2))
	assert.Equal(t, Stop, p.Decide([]string{"a"}, 3))
}

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("poll", 2)
	require.NoError(t, err)
	assert.Equal(t, RetryPoll, p.Decide([]string{"a"}, 2))
	assert.Equal(t, Stop, p.Decide([]string{"a"}, 3))

	p, err = PolicyByName("skip", 2)
	require.NoError(t, err)
	assert.Equal(t, Stop, p.Decide([]string{"a"}, 1))

	p, err = PolicyByName("", 2)
	require.NoError(t, err)
	assert.Equal(t, RetryPoll, p.Decide([]string{"a"}, 1))

	_, err = PolicyByName("ask-me", 2)
	assert.Error(t, err)

	assert.Equal(t, "retry-issue", RetryIssue.String())
}
