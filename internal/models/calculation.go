package models

// ToolName is the single tool exposed by the protocol server.
const ToolName = "calculate_portfolio_returns"

// CalculationRequest is the body posted to the remote portfolio calculator.
type CalculationRequest struct {
	Assets          []string  `json:"assets"`
	Weights         []float64 `json:"weights"`
	StartDate       string    `json:"startDate"`
	EndDate         string    `json:"endDate"`
	RebalanceMonths int       `json:"rebalanceMonths"`
	GenerateCSV     bool      `json:"generateCSV"`
}
