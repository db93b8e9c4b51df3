package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: "debug", Output: buf})

	ctx := context.Background()
	ctx = log.WithRequestID(ctx, "req-123")
	ctx = log.WithPlanID(ctx, "plan-1")
	ctx = log.WithEventID(ctx, "evt-9")

	log.Error(ctx, "boom", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-123"`)
	assert.Contains(t, out, `"plan_id":"plan-1"`)
	assert.Contains(t, out, `"production_event_id":"evt-9"`)
	assert.Contains(t, out, `"error":"boom"`)
}

func TestLoggerWithMaterial(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	ctx := log.WithMaterial(context.Background(), "raw", "abc")
	log.Info(ctx, "posted")

	assert.Contains(t, buf.String(), `"material_type":"raw"`)
	assert.Contains(t, buf.String(), `"material_id":"abc"`)
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: "debug", Output: buf, WarnStack: true})
	log.Warn(context.Background(), "warny")
	assert.Contains(t, buf.String(), `"stack"`)

	buf.Reset()
	quiet := New(Options{ServiceName: "test", Output: buf})
	quiet.Warn(context.Background(), "warny")
	assert.NotContains(t, buf.String(), `"stack"`)
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})
	log.Debug(context.Background(), "hidden")
	assert.Empty(t, buf.String())
}

func TestParseLevelDefaults(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("invalid"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
}

type sku string

func (s sku) String() string { return "sku-" + string(s) }

func TestWithFieldsRendersStringers(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf, Format: FormatJSON})

	ctx := log.WithFields(context.Background(), map[string]any{
		"quantity": 12,
		"material": sku("steel"),
	})
	log.Info(ctx, "posted")

	out := buf.String()
	assert.Contains(t, out, `"material":"sku-steel"`)
	assert.Contains(t, out, `"quantity":12`)
	assert.Less(t, strings.Index(out, `"material"`), strings.Index(out, `"quantity"`))
}

func TestConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf, Format: FormatConsole})
	log.Info(log.WithPlanID(context.Background(), "plan-7"), "plan created")
	assert.Contains(t, buf.String(), "plan created")
	assert.NotContains(t, buf.String(), `{"level"`)
}
