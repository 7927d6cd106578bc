package util

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateRandomHex(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"zero length", 0, 0},
		{"negative length", -1, 0},
		{"small length", 8, 8},
		{"large length", 64, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomHex(tt.length)
			if len(got) != tt.want {
				t.Errorf("GenerateRandomHex() length = %v, want %v", len(got), tt.want)
			}
			if !isValidHex(got) {
				t.Errorf("GenerateRandomHex() = %v is not valid hex", got)
			}
		})
	}
}

func TestGenerateTurnID(t *testing.T) {
	got := GenerateTurnID()
	if !strings.HasPrefix(got, TurnIDPrefix) {
		t.Errorf("GenerateTurnID() = %v, want prefix %v", got, TurnIDPrefix)
	}
	if len(got) != len(TurnIDPrefix)+16 {
		t.Errorf("GenerateTurnID() length = %v", len(got))
	}

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateTurnID()
		if seen[id] {
			t.Fatalf("GenerateTurnID() generated duplicate: %v", id)
		}
		seen[id] = true
	}
}

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("CHATBOT_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("CHATBOT_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("CHATBOT_TEST_DURATION", "")
	if got := ParseDurationEnv("CHATBOT_TEST_DURATION", time.Minute); got != time.Minute {
		t.Errorf("unset = %v", got)
	}
	t.Setenv("CHATBOT_TEST_DURATION", "90s")
	if got := ParseDurationEnv("CHATBOT_TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Errorf("90s = %v", got)
	}
	for _, bad := range []string{"soon", "-5s", "0s"} {
		t.Setenv("CHATBOT_TEST_DURATION", bad)
		if got := ParseDurationEnv("CHATBOT_TEST_DURATION", time.Minute); got != time.Minute {
			t.Errorf("%q = %v, want default", bad, got)
		}
	}
}

func TestParseIntEnvAndGetEnv(t *testing.T) {
	t.Setenv("CHATBOT_TEST_INT", "2525")
	if got := ParseIntEnv("CHATBOT_TEST_INT", 587); got != 2525 {
		t.Errorf("ParseIntEnv = %d", got)
	}
	t.Setenv("CHATBOT_TEST_INT", "abc")
	if got := ParseIntEnv("CHATBOT_TEST_INT", 587); got != 587 {
		t.Errorf("invalid ParseIntEnv = %d", got)
	}

	t.Setenv("CHATBOT_TEST_STR", "  ")
	if got := GetEnv("CHATBOT_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("GetEnv blank = %q", got)
	}
	t.Setenv("CHATBOT_TEST_STR", " value ")
	if got := GetEnv("CHATBOT_TEST_STR", "fallback"); got != "value" {
		t.Errorf("GetEnv = %q", got)
	}
}

// Helper function to validate hex strings
func isValidHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
