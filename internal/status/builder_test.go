package status

import (
	"strings"
	"testing"
	"time"
)

func TestFormatTokenCount(t *testing.T) {
	tests := []struct {
		input    int
		expected string
	}{
		{0, "0"},
		{-1, "0"},
		{100, "100"},
		{999, "999"},
		{1000, "1.0k"},
		{1500, "1.5k"},
		{9999, "10.0k"},
		{10000, "10k"},
		{15000, "15k"},
		{100000, "100k"},
		{999999, "999k"},
		{1000000, "1.0m"},
		{1500000, "1.5m"},
		{10000000, "10.0m"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := FormatTokenCount(tt.input)
			if result != tt.expected {
				t.Errorf("FormatTokenCount(%d) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFormatContextUsageShort(t *testing.T) {
	tests := []struct {
		total    int
		context  int
		contains []string
	}{
		{0, 0, []string{"Context", "?"}},
		{0, 200000, []string{"Context", "?/200k"}},
		{15000, 200000, []string{"Context", "15k/200k", "(7%)"}},
		{100000, 200000, []string{"Context", "100k/200k", "(50%)"}},
		{1500000, 2000000, []string{"Context", "1.5m/2.0m", "(75%)"}},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			result := FormatContextUsageShort(tt.total, tt.context)
			for _, s := range tt.contains {
				if !strings.Contains(result, s) {
					t.Errorf("FormatContextUsageShort(%d, %d) = %q, expected to contain %q",
						tt.total, tt.context, result, s)
				}
			}
		})
	}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{-1 * time.Second, "unknown"},
		{0, "just now"},
		{30 * time.Second, "just now"},
		{59 * time.Second, "just now"},
		{1 * time.Minute, "1m ago"},
		{5 * time.Minute, "5m ago"},
		{59 * time.Minute, "59m ago"},
		{60 * time.Minute, "1h ago"},
		{90 * time.Minute, "1h ago"},
		{24 * time.Hour, "24h ago"},
		{47 * time.Hour, "47h ago"},
		{48 * time.Hour, "2d ago"},
		{72 * time.Hour, "3d ago"},
		{7 * 24 * time.Hour, "7d ago"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := FormatAge(tt.duration)
			if result != tt.expected {
				t.Errorf("FormatAge(%v) = %q, want %q", tt.duration, result, tt.expected)
			}
		})
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "<1m"},
		{30 * time.Second, "<1m"},
		{5 * time.Minute, "5m"},
		{90 * time.Minute, "1h30m"},
		{25 * time.Hour, "1d1h"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := FormatUptime(tt.duration)
			if result != tt.expected {
				t.Errorf("FormatUptime(%v) = %q, want %q", tt.duration, result, tt.expected)
			}
		})
	}
}

func TestFormatQueueDetails(t *testing.T) {
	tests := []struct {
		name        string
		queue       *QueueStatus
		contains    []string
		notContains []string
	}{
		{
			name:     "nil queue",
			queue:    nil,
			contains: nil,
		},
		{
			name:     "depth only",
			queue:    &QueueStatus{Depth: 5},
			contains: []string{"(depth 5)"},
		},
		{
			name:     "depth zero without details",
			queue:    &QueueStatus{Depth: 0},
			contains: []string{"(depth 0)"},
		},
		{
			name: "full details",
			queue: &QueueStatus{
				Depth:       3,
				DebounceMs:  500,
				Cap:         10,
				DropPolicy:  "oldest",
				ShowDetails: true,
			},
			contains: []string{"depth 3", "debounce 500ms", "cap 10", "drop oldest"},
		},
		{
			name: "debounce in seconds",
			queue: &QueueStatus{
				DebounceMs:  2000,
				ShowDetails: true,
			},
			contains: []string{"debounce 2s"},
		},
		{
			name: "debounce fractional seconds",
			queue: &QueueStatus{
				DebounceMs:  1500,
				ShowDetails: true,
			},
			contains: []string{"debounce 1.5s"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatQueueDetails(tt.queue)
			for _, s := range tt.contains {
				if !strings.Contains(result, s) {
					t.Errorf("FormatQueueDetails() = %q, expected to contain %q", result, s)
				}
			}
			for _, s := range tt.notContains {
				if strings.Contains(result, s) {
					t.Errorf("FormatQueueDetails() = %q, expected NOT to contain %q", result, s)
				}
			}
		})
	}
}

func TestFormatUsagePair(t *testing.T) {
	tests := []struct {
		input    int
		output   int
		contains []string
		empty    bool
	}{
		{0, 0, nil, true},
		{1000, 500, []string{"Tokens:", "1.0k in", "500 out"}, false},
		{15000, 3000, []string{"15k in", "3.0k out"}, false},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			result := FormatUsagePair(tt.input, tt.output)
			if tt.empty && result != "" {
				t.Errorf("FormatUsagePair(%d, %d) = %q, expected empty", tt.input, tt.output, result)
			}
			if !tt.empty && result == "" {
				t.Errorf("FormatUsagePair(%d, %d) = empty, expected content", tt.input, tt.output)
			}
			for _, s := range tt.contains {
				if !strings.Contains(result, s) {
					t.Errorf("FormatUsagePair(%d, %d) = %q, expected to contain %q",
						tt.input, tt.output, result, s)
				}
			}
		})
	}
}

func TestFormatResponseTime(t *testing.T) {
	tests := []struct {
		ms       int64
		expected string
	}{
		{0, ""},
		{-100, ""},
		{100, "100ms"},
		{999, "999ms"},
		{1000, "1.0s"},
		{1500, "1.5s"},
		{2000, "2.0s"},
		{12345, "12.3s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := FormatResponseTime(tt.ms)
			if result != tt.expected {
				t.Errorf("FormatResponseTime(%d) = %q, want %q", tt.ms, result, tt.expected)
			}
		})
	}
}

func TestBuildStatusMessage(t *testing.T) {
	now := time.Now()
	startedAt := now.Add(-5 * time.Minute)

	args := StatusArgs{
		SessionKey:    "local:operator",
		Provider:      "anthropic",
		Model:         "claude-sonnet-4-20250514",
		ContextTokens: 200000,
		InputTokens:   1200,
		OutputTokens:  500,
		TotalTokens:   15000,
		ModelAuth:     "api-key",
		Turn:          3,
		StartedAt:     startedAt,
		Now:           now,
		Queue: &QueueStatus{
			Mode:  "sequential",
			Depth: 0,
		},
	}

	result := BuildStatusMessage(args)

	expectedSubstrings := []string{
		"tau",
		"Model: anthropic/claude-sonnet-4-20250514",
		"api-key",
		"Tokens: 1.2k in / 500 out",
		"Context",
		"15k/200k",
		"Session: local:operator",
		"turn 3",
		"uptime 5m",
		"Queue: sequential",
	}

	for _, substr := range expectedSubstrings {
		if !strings.Contains(result, substr) {
			t.Errorf("BuildStatusMessage() missing expected substring: %q\n\nFull result:\n%s", substr, result)
		}
	}
}

func TestBuildStatusMessage_NoUsage(t *testing.T) {
	args := StatusArgs{
		SessionKey: "local:operator",
		Provider:   "anthropic",
		Model:      "claude-sonnet-4-20250514",
		Queue:      &QueueStatus{Mode: "sequential"},
	}

	result := BuildStatusMessage(args)

	if strings.Contains(result, "Tokens:") {
		t.Errorf("BuildStatusMessage() should omit the usage line when there's no usage yet\n\nResult:\n%s", result)
	}
	if !strings.Contains(result, "no activity") {
		t.Errorf("BuildStatusMessage() should report no activity when StartedAt is zero\n\nResult:\n%s", result)
	}
}
