// internal/lifecycle/policy.go
package lifecycle

import (
	"fmt"
	"strings"
	"sync"
)

// Decision - что делать с аккаунтами, чье состояние еще не сошлось.
type Decision int

const (
	// Stop сдается и отдает оставшиеся аккаунты как unresolved.
	Stop Decision = iota
	// RetryPoll перечитывает сеть, ничего не отправляя.
	RetryPoll
	// RetryIssue повторно отправляет операцию оставшимся аккаунтам и перечитывает.
	RetryIssue
)

func (d Decision) String() string {
	switch d {
	case Stop:
		return "stop"
	case RetryPoll:
		return "retry-poll"
	case RetryIssue:
		return "retry-issue"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// RetryPolicy принимает решение на каждый раунд. Раунды нумеруются с 1.
type RetryPolicy interface {
	Decide(unresolved []string, round int) Decision
}

// PolicyFunc адаптирует функцию к RetryPolicy.
type PolicyFunc func(unresolved []string, round int) Decision

// Decide вызывает f.
func (f PolicyFunc) Decide(unresolved []string, round int) Decision {
	return f(unresolved, round)
}

// DecideRetryPolicy is the unattended policy. Odd rounds re-poll to give lagging
// reads a chance, even rounds re-issue. Nothing is retried past maxRounds.
func DecideRetryPolicy(unresolved []string, round, maxRounds int) Decision {
	if len(unresolved) == 0 || round > maxRounds {
		return Stop
	}
	if round%2 == 1 {
		return RetryPoll
	}
	return RetryIssue
}

// AutoPolicy wraps DecideRetryPolicy.
func AutoPolicy(maxRounds int) RetryPolicy {
	return PolicyFunc(func(unresolved []string, round int) Decision {
		return DecideRetryPolicy(unresolved, round, maxRounds)
	})
}

// PollOnlyPolicy никогда не отправляет повторно.
func PollOnlyPolicy(maxRounds int) RetryPolicy {
	return PolicyFunc(func(unresolved []string, round int) Decision {
		if len(unresolved) == 0 || round > maxRounds {
			return Stop
		}
		return RetryPoll
	})
}

// NoRetryPolicy отдает unresolved сразу после первой проверки.
func NoRetryPolicy() RetryPolicy {
	return PolicyFunc(func([]string, int) Decision { return Stop })
}

// ScriptedPolicy проигрывает решения по порядку и останавливается, когда они кончаются.
func ScriptedPolicy(decisions ...Decision) RetryPolicy {
	var mu sync.Mutex
	next := 0
	return PolicyFunc(func([]string, int) Decision {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(decisions) {
			return Stop
		}
		d := decisions[next]
		next++
		return d
	})
}

// PolicyByName сопоставляет настройку retry_mode с политикой.
func PolicyByName(name string, maxRounds int) (RetryPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return AutoPolicy(maxRounds), nil
	case "poll":
		return PollOnlyPolicy(maxRounds), nil
	case "skip", "none":
		return NoRetryPolicy(), nil
	default:
		return nil, fmt.Errorf("unknown retry mode %q", name)
	}
}
