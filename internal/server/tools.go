package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"

	"github.com/bobmcallan/pfreturns/internal/clients/calculator"
	"github.com/bobmcallan/pfreturns/internal/models"
)

// weightTolerance is the allowed distance of the weight sum from one.
var weightTolerance = decimal.RequireFromString("0.01")

// requiredArgs are the tools/call arguments that must be present, in schema order.
var requiredArgs = []string{"assets", "weights", "startDate", "endDate"}

const calculateDescription = "Calculates historical total returns for a portfolio of ETFs with specified " +
	"asset allocation over a given time period. Returns total return, annualized " +
	"return, volatility, and Sharpe ratio. Use when users ask about portfolio " +
	"performance or want to compare asset allocations. " +
	"Available assets: SPY (S&P 500), AGG (US Bonds), VTI (Total US Stock), " +
	"VXUS (International), BND (Bonds), GLD (Gold), VNQ (Real Estate), " +
	"QQQ (Nasdaq), EEM (Emerging Markets), TLT (Long Treasury), and more."

// dateFormat marks a string property as an ISO date.
func dateFormat() mcp.PropertyOption {
	return func(schema map[string]any) {
		schema["format"] = "date"
	}
}

// integer narrows a number property to whole numbers.
func integer() mcp.PropertyOption {
	return func(schema map[string]any) {
		schema["type"] = "integer"
	}
}

// CalculateTool returns the definition of the portfolio calculation tool.
func CalculateTool() mcp.Tool {
	return mcp.NewTool(models.ToolName,
		mcp.WithDescription(calculateDescription),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithArray("assets",
			mcp.Required(),
			mcp.WithStringItems(),
			mcp.MinItems(1),
			mcp.MaxItems(10),
			mcp.Description("Array of ETF tickers (e.g., ['SPY', 'AGG'])"),
		),
		mcp.WithArray("weights",
			mcp.Required(),
			mcp.WithNumberItems(mcp.Min(0), mcp.Max(1)),
			mcp.MinItems(1),
			mcp.MaxItems(10),
			mcp.Description("Weights in decimal format summing to 1.0 (e.g., [0.6, 0.4])"),
		),
		mcp.WithString("startDate",
			mcp.Required(),
			dateFormat(),
			mcp.Description("Start date in YYYY-MM-DD format (e.g., '2020-01-01')"),
		),
		mcp.WithString("endDate",
			mcp.Required(),
			dateFormat(),
			mcp.Description("End date in YYYY-MM-DD format (e.g., '2023-12-31')"),
		),
		mcp.WithNumber("rebalanceMonths",
			integer(),
			mcp.Min(-1),
			mcp.Max(12),
			mcp.DefaultNumber(-1),
			mcp.Description("Rebalancing frequency in months (-1 for never, 12 for annual)"),
		),
	)
}

// listedTool renders a tool for the REST listing with the server version attached.
func listedTool(tool mcp.Tool, version string) (map[string]interface{}, error) {
	data, err := json.Marshal(tool)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	out["version"] = version
	return out, nil
}

// CalculationArgs are the decoded tools/call arguments.
type CalculationArgs struct {
	Assets          []string
	Weights         []decimal.Decimal
	StartDate       string
	EndDate         string
	RebalanceMonths int
}

// Request converts the arguments to the calculator request body.
func (a *CalculationArgs) Request() *models.CalculationRequest {
	weights := make([]float64, len(a.Weights))
	for i, w := range a.Weights {
		weights[i] = w.InexactFloat64()
	}
	return &models.CalculationRequest{
		Assets:          a.Assets,
		Weights:         weights,
		StartDate:       a.StartDate,
		EndDate:         a.EndDate,
		RebalanceMonths: a.RebalanceMonths,
	}
}

func invalidParams(format string, args ...interface{}) *RPCError {
	return &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// ParseCalculationArgs checks presence, shape and weight sum of the arguments.
func ParseCalculationArgs(raw map[string]json.RawMessage) (*CalculationArgs, *RPCError) {
	var missing []string
	for _, name := range requiredArgs {
		if _, ok := raw[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, invalidParams("Missing required parameters: %s", strings.Join(missing, ", "))
	}

	args := &CalculationArgs{RebalanceMonths: -1}
	if err := json.Unmarshal(raw["assets"], &args.Assets); err != nil {
		return nil, invalidParams("Invalid params: assets must be an array of strings")
	}
	if err := json.Unmarshal(raw["weights"], &args.Weights); err != nil {
		return nil, invalidParams("Invalid params: weights must be an array of numbers")
	}
	if err := json.Unmarshal(raw["startDate"], &args.StartDate); err != nil {
		return nil, invalidParams("Invalid params: startDate must be a string")
	}
	if err := json.Unmarshal(raw["endDate"], &args.EndDate); err != nil {
		return nil, invalidParams("Invalid params: endDate must be a string")
	}
	if rm, ok := raw["rebalanceMonths"]; ok && string(rm) != "null" {
		if err := json.Unmarshal(rm, &args.RebalanceMonths); err != nil {
			return nil, invalidParams("Invalid params: rebalanceMonths must be an integer")
		}
	}

	if len(args.Assets) != len(args.Weights) {
		return nil, invalidParams("Assets and weights arrays must have the same length")
	}

	sum := decimal.Sum(decimal.Zero, args.Weights...)
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(weightTolerance) {
		return nil, invalidParams("Weights must sum to 1.0 (currently %s)", sum.StringFixed(3))
	}
	return args, nil
}

// toolFailure is the text payload returned when a calculation cannot be completed.
type toolFailure struct {
	Success          bool        `json:"success"`
	Error            string      `json:"error"`
	OriginalError    interface{} `json:"originalError,omitempty"`
	TechnicalDetails string      `json:"technicalDetails,omitempty"`
}

// textResult wraps v as pretty-printed JSON in a tool text content block.
func textResult(v interface{}) (*mcp.CallToolResult, *RPCError) {
	text, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, &RPCError{Code: CodeInternalError, Message: "Internal server error: " + err.Error()}
	}
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(string(text))}}, nil
}

// handleToolCall validates a tools/call request and proxies it to the calculator.
// Upstream failures become text results, not JSON-RPC errors.
func (s *Server) handleToolCall(ctx context.Context, params json.RawMessage) (*mcp.CallToolResult, *RPCError) {
	var call struct {
		Name      string                     `json:"name"`
		Arguments map[string]json.RawMessage `json:"arguments"`
	}
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &call); err != nil {
			return nil, invalidParams("Invalid params: %v", err)
		}
	}
	if call.Name != models.ToolName {
		return nil, &RPCError{Code: CodeMethodNotFound, Message: "Unknown tool: " + call.Name}
	}
	s.logger.Info().Str("tool", call.Name).Msg("Tool call")

	args, rpcErr := ParseCalculationArgs(call.Arguments)
	if rpcErr != nil {
		return nil, rpcErr
	}

	start := time.Now()
	result, err := s.app.Calculator.Calculate(ctx, args.Request())
	if err != nil {
		return textResult(s.transportFailure(err, args, time.Since(start)))
	}

	if success, ok := result["success"].(bool); ok && !success {
		s.app.Metrics.RecordUpstream("failed", time.Since(start))
		original := result["error"]
		technical, _ := original.(string)
		if technical == "" {
			technical = "Unknown error"
		}
		s.logger.Warn().Str("error", technical).Msg("Portfolio calculation returned error")
		return textResult(toolFailure{
			Error:         FriendlyUpstreamMessage(technical, args),
			OriginalError: original,
		})
	}

	s.app.Metrics.RecordUpstream("success", time.Since(start))
	if note, ok := result["userMessage"].(string); ok && note != "" {
		result["_note"] = note
		s.logger.Info().Str("note", note).Msg("Portfolio calculation used fallbacks")
	}
	return textResult(result)
}

// transportFailure maps a calculator client error to a friendly failure payload.
func (s *Server) transportFailure(err error, args *CalculationArgs, elapsed time.Duration) toolFailure {
	endpoint := s.app.Calculator.Endpoint()

	var upstream *calculator.UpstreamError
	if !errors.As(err, &upstream) {
		s.app.Metrics.RecordUpstream("error", elapsed)
		s.logger.Error().Err(err).Msg("Unexpected error in tool call")
		return toolFailure{Error: unexpectedErrorMessage, TechnicalDetails: err.Error()}
	}

	s.app.Metrics.RecordUpstream(upstream.Kind.String(), elapsed)
	details := err.Error()
	if upstream.Err != nil {
		details = upstream.Err.Error()
	}
	switch upstream.Kind {
	case calculator.KindTimeout:
		s.logger.Error().Str("endpoint", endpoint).Msg("Calculator request timeout")
		return toolFailure{Error: FriendlyUpstreamMessage("Request timeout", args)}
	case calculator.KindInvalidResponse:
		s.logger.Error().Str("endpoint", endpoint).Str("error", details).Msg("Failed to parse calculator response")
		return toolFailure{Error: invalidResponseMessage}
	default:
		s.logger.Error().Str("endpoint", endpoint).Str("error", details).Msg("Calculator request failed")
		return toolFailure{Error: connectionErrorMessage, TechnicalDetails: details}
	}
}
