// internal/blockchain/solbc/error_analyzer.go
package solbc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"
)

// AnchorError represents an error from Anchor framework
type AnchorError struct {
	Code int
	Name string
	Msg  string
	Err  error
}

func (e *AnchorError) Error() string {
	return fmt.Sprintf("program error %s (%d): %s", e.Name, e.Code, e.Msg)
}

func (e *AnchorError) Unwrap() error { return e.Err }

// ErrorAnalyzer turns RPC and simulation failures into typed program errors.
type ErrorAnalyzer struct {
	logger *zap.Logger
}

// NewErrorAnalyzer creates a new ErrorAnalyzer instance
func NewErrorAnalyzer(logger *zap.Logger) *ErrorAnalyzer {
	return &ErrorAnalyzer{
		logger: logger.Named("error-analyzer"),
	}
}

// Explain wraps err into an *AnchorError when its program logs carry one.
// Otherwise err is returned unchanged.
func (ea *ErrorAnalyzer) Explain(err error) error {
	if err == nil {
		return nil
	}

	anchor, ok := anchorFromLogs(logsOf(err))
	if !ok {
		return err
	}
	anchor.Err = err

	ea.logger.Warn("Anchor error detected",
		zap.Int("code", anchor.Code),
		zap.String("name", anchor.Name),
		zap.String("message", anchor.Msg))
	return anchor
}

// logsOf extracts program logs from a preflight RPC error or a simulation error.
func logsOf(err error) []string {
	var sim *SimulationError
	if errors.As(err, &sim) {
		return sim.Logs
	}

	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Data == nil {
		return nil
	}
	dataMap, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := dataMap["logs"].([]interface{})
	if !ok {
		return nil
	}
	logs := make([]string, 0, len(raw))
	for _, l := range raw {
		if s, ok := l.(string); ok {
			logs = append(logs, s)
		}
	}
	return logs
}

func anchorFromLogs(logs []string) (*AnchorError, bool) {
	for _, l := range logs {
		if strings.Contains(l, "AnchorError") {
			a := parseAnchorErrorLog(l)
			return &a, true
		}
	}
	return nil, false
}

// parseAnchorErrorLog parses an Anchor error log string
// Example: "Program log: AnchorError occurred. Error Code: ExceededBinSlippageTolerance. Error Number: 6004. Error Message: Exceeded bin slippage tolerance."
func parseAnchorErrorLog(logStr string) AnchorError {
	result := AnchorError{}

	if v, ok := field(logStr, "Error Number:"); ok {
		result.Code, _ = strconv.Atoi(v)
	}
	if v, ok := field(logStr, "Error Code:"); ok {
		result.Name = v
	}
	if _, after, ok := strings.Cut(logStr, "Error Message:"); ok {
		result.Msg = strings.TrimSuffix(strings.TrimSpace(after), ".")
	}

	return result
}

// field returns the text between label and the next dot.
func field(s, label string) (string, bool) {
	_, after, ok := strings.Cut(s, label)
	if !ok {
		return "", false
	}
	v, _, _ := strings.Cut(after, ".")
	return strings.TrimSpace(v), true
}
