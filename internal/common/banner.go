package common

import (
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the server startup banner to stderr.
func PrintBanner(config *Config, logger *Logger) {
	version := GetVersion()
	serviceURL := fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)
	authMode := "disabled"
	if config.Auth.APIKey != "" {
		authMode = "api key"
	}
	rateLimit := fmt.Sprintf("%d req / %ds (%s)", config.RateLimit.Requests, config.RateLimit.WindowSeconds, config.RateLimit.Backend)

	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 64
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	art := []string{
		`         ____             __                            `,
		`  ____  / __/_______  / /___  ___________  _____`,
		` / __ \/ /_/ ___/ _ \/ __/ / / / ___/ __ \/ ___/`,
		`/ /_/ / __/ /  /  __/ /_/ /_/ / /  / / / (__  ) `,
		`/ .___/_/ /_/   \___/\__/\__,_/_/  /_/ /_/____/  `,
		`/_/                                               `,
	}

	fmt.Fprintf(os.Stderr, "\n%s\n\n", hr)
	for _, line := range art {
		fmt.Fprintf(os.Stderr, "%s%s%s\n", textColor, line, banner.ColorReset)
	}
	fmt.Fprintf(os.Stderr, "\n%s  Portfolio Calculator MCP Gateway%s\n\n", textColor, banner.ColorReset)
	fmt.Fprintf(os.Stderr, "%s\n\n", hr)

	kvPad := 16
	kvLines := [][2]string{
		{"Version", GetFullVersion()},
		{"Environment", config.Environment},
		{"Service URL", serviceURL},
		{"Calculator", config.Calculator.Endpoint},
		{"Auth", authMode},
		{"Rate limit", rateLimit},
		{"CORS", strings.Join(config.CORS.AllowedOrigins, ", ")},
	}
	for _, kv := range kvLines {
		fmt.Fprintf(os.Stderr, "%s  %-*s %s%s\n", textColor, kvPad, kv[0], kv[1], banner.ColorReset)
	}
	fmt.Fprintf(os.Stderr, "\n%s\n\n", hr)

	logger.Info().
		Str("version", version).
		Str("environment", config.Environment).
		Str("service_url", serviceURL).
		Str("calculator", config.Calculator.Endpoint).
		Str("auth", authMode).
		Int("rate_limit_requests", config.RateLimit.Requests).
		Msg("Server started")
}

// PrintShutdownBanner displays the shutdown banner to stderr.
func PrintShutdownBanner(logger *Logger) {
	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	hr := lineColor + strings.Repeat("═", 36) + banner.ColorReset

	fmt.Fprintf(os.Stderr, "\n%s\n", hr)
	fmt.Fprintf(os.Stderr, "%s  PFRETURNS SHUTTING DOWN%s\n", textColor, banner.ColorReset)
	fmt.Fprintf(os.Stderr, "%s\n\n", hr)

	logger.Info().Msg("Server shutting down")
}
