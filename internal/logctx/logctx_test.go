package logctx

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFromContext_NoLogger(t *testing.T) {
	//nolint:staticcheck // nil context is part of the contract
	for _, ctx := range []context.Context{nil, context.Background()} {
		var buf bytes.Buffer
		logger := FromContext(ctx).Output(&buf)
		logger.Info().Msg("test")

		if buf.Len() == 0 {
			t.Error("expected fallback logger to produce output")
		}
	}
}

func TestWithLogger_NilContext(t *testing.T) {
	var buf bytes.Buffer

	//nolint:staticcheck // nil context is part of the contract
	ctx := WithLogger(nil, zerolog.New(&buf))
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}

	logger := FromContext(ctx)
	logger.Info().Msg("test")
	if buf.Len() == 0 {
		t.Error("expected attached logger to produce output")
	}
}

func TestDomainFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), zerolog.New(&buf))
	ctx = WithEndpoint(ctx, "/gov24/v3/serviceList")
	ctx = WithTable(ctx, "gov_welfare")
	ctx = WithInt(ctx, "page", 3)

	logger := FromContext(ctx)
	logger.Info().Msg("test")

	out := buf.String()
	for _, want := range []string{
		`"endpoint":"/gov24/v3/serviceList"`,
		`"table":"gov_welfare"`,
		`"page":3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output, got: %s", want, out)
		}
	}
}

func TestNewConfiguredLogger(t *testing.T) {
	tests := []struct {
		name      string
		debug     bool
		human     bool
		wantDebug bool
	}{
		{"json_info", false, false, false},
		{"json_debug", true, false, true},
		{"human_info", false, true, false},
		{"human_debug", true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewConfiguredLogger(tt.debug, tt.human)

			if got := logger.GetLevel() == zerolog.DebugLevel; got != tt.wantDebug {
				t.Errorf("debug level = %v, want %v", got, tt.wantDebug)
			}
		})
	}
}
