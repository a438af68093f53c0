package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaultsInvalidLevelToInfo(t *testing.T) {
	logger, err := NewLogger("not-a-level")
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestRedactStringHidesKeyValuePairs(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"equals form", "password=hunter2", "password=***REDACTED***"},
		{"colon form", "token: abc123", "token:***REDACTED***"},
		{"case insensitive", "API_KEY=xyz", "API_KEY=***REDACTED***"},
		{"no secret", "hello world", "hello world"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RedactString(tc.in))
		})
	}
}

func TestRedactEnvHidesSensitiveKeysOnly(t *testing.T) {
	in := []string{"PATH=/usr/bin", "DB_PASSWORD=secret123", "HOME=/root"}
	got := RedactEnv(in)
	assert.Equal(t, "PATH=/usr/bin", got[0])
	assert.Equal(t, "DB_PASSWORD=***REDACTED***", got[1])
	assert.Equal(t, "HOME=/root", got[2])
}

func TestInfoRedactedAndErrorRedactedDoNotPanic(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		logger.InfoRedacted("connecting with secret=abc123")
		logger.ErrorRedacted("failed auth_token: zzz")
	})
}
