package server

import (
	"fmt"
	"strings"
)

const (
	connectionErrorMessage = "I apologize, but I'm having trouble connecting to the portfolio calculator right now. " +
		"This might be a temporary network issue. Please try again in a moment."
	invalidResponseMessage = "I apologize, but I encountered a technical error while trying to calculate the portfolio returns. " +
		"The server returned an invalid response. Please try again, or try with a different date range or asset combination."
	unexpectedErrorMessage = "I apologize, but I'm having trouble processing your request right now. " +
		"This might be a temporary issue. Please try again in a moment."
)

// UpstreamErrorKind classifies a calculator error message.
type UpstreamErrorKind int

const (
	UpstreamGeneric UpstreamErrorKind = iota
	UpstreamNoData
	UpstreamWeights
	UpstreamMissingFields
	UpstreamBackend
	UpstreamTimeout
	UpstreamUnknownAsset
)

func (k UpstreamErrorKind) String() string {
	switch k {
	case UpstreamNoData:
		return "no_data"
	case UpstreamWeights:
		return "weights"
	case UpstreamMissingFields:
		return "missing_fields"
	case UpstreamBackend:
		return "backend"
	case UpstreamTimeout:
		return "timeout"
	case UpstreamUnknownAsset:
		return "unknown_asset"
	default:
		return "generic"
	}
}

type upstreamRule struct {
	kind     UpstreamErrorKind
	contains []string
	fold     bool
}

// upstreamRules are evaluated in order; the first match wins.
var upstreamRules = []upstreamRule{
	{kind: UpstreamNoData, contains: []string{"No data found", "No overlapping data"}},
	{kind: UpstreamWeights, contains: []string{"Weights must sum to"}},
	{kind: UpstreamMissingFields, contains: []string{"Missing required fields", "Missing required parameters"}},
	{kind: UpstreamBackend, contains: []string{"database", "configuration"}, fold: true},
	{kind: UpstreamTimeout, contains: []string{"timeout"}, fold: true},
	{kind: UpstreamUnknownAsset, contains: []string{"asset", "ticker"}, fold: true},
}

// ClassifyUpstreamError matches a calculator error message against known failure patterns.
func ClassifyUpstreamError(message string) UpstreamErrorKind {
	lower := strings.ToLower(message)
	for _, rule := range upstreamRules {
		subject := message
		if rule.fold {
			subject = lower
		}
		for _, needle := range rule.contains {
			if strings.Contains(subject, needle) {
				return rule.kind
			}
		}
	}
	return UpstreamGeneric
}

// FriendlyUpstreamMessage turns a calculator error into conversational text.
func FriendlyUpstreamMessage(message string, args *CalculationArgs) string {
	switch ClassifyUpstreamError(message) {
	case UpstreamNoData:
		assets, start, end := "", "unknown", "unknown"
		if args != nil {
			assets = strings.Join(args.Assets, ", ")
			if args.StartDate != "" {
				start = args.StartDate
			}
			if args.EndDate != "" {
				end = args.EndDate
			}
		}
		return fmt.Sprintf("I apologize, but I don't have complete historical data for the portfolio you requested. "+
			"The assets you requested (%s) may not have overlapping data available "+
			"for the date range %s to %s. "+
			"\n\nWould you like to try:\n"+
			"• A more recent date range (some ETFs have limited historical data)\n"+
			"• Different assets that have longer histories\n"+
			"• Checking which assets I have data for", assets, start, end)
	case UpstreamWeights:
		return "I apologize, but there was an issue with the portfolio weights. The allocation percentages " +
			"need to add up to exactly 100%. Let me help you create a properly balanced portfolio. " +
			"What allocation would you like?"
	case UpstreamMissingFields:
		return "I apologize, but I'm missing some information needed to calculate the portfolio returns. " +
			"Could you please provide:\n" +
			"• The assets/ETFs you want to include\n" +
			"• The allocation percentage for each\n" +
			"• The date range you're interested in"
	case UpstreamBackend:
		return "I apologize, but I'm experiencing a technical issue accessing the market data. " +
			"This is a temporary problem on our end. Please try again in a few moments, " +
			"or feel free to ask me other investment questions in the meantime."
	case UpstreamTimeout:
		return "I apologize, but the calculation is taking longer than expected. This can happen with " +
			"very long date ranges. Would you like to try with a shorter time period? " +
			"For example, analyzing 5-10 years of data instead of 20+ years often works better."
	case UpstreamUnknownAsset:
		return "I apologize, but I may not have data for one or more of the assets you requested. " +
			"I have historical data for many popular ETFs like SPY, VTI, AGG, GLD, and others. " +
			"Would you like me to list the available assets, or would you like to try with different ETFs?"
	default:
		return fmt.Sprintf("I apologize, but I encountered an issue while calculating the portfolio returns. "+
			"The technical details are: \"%s\". "+
			"\n\nWould you like to try again with different parameters, or can I help you with something else?", message)
	}
}
