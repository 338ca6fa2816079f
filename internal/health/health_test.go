package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(detail string) Checker {
	return func(context.Context) Status { return Status{Healthy: true, Detail: detail} }
}

func failing(detail string) Checker {
	return func(context.Context) Status { return Status{Healthy: false, Detail: detail} }
}

func TestCheck_Empty(t *testing.T) {
	report := NewRegistry().Check(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.True(t, report.Healthy())
	assert.Empty(t, report.Checks)
}

func TestCheck_AllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", true, ok("open=1"))
	r.Register("redis", false, ok(""))

	report := r.Check(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, "database", report.Checks[0].Name, "registration order is kept")
	assert.True(t, report.Checks[0].Required)
	assert.Equal(t, "open=1", report.Checks[0].Detail)
	assert.Equal(t, "redis", report.Checks[1].Name)
	assert.False(t, report.Checks[1].Required)
}

func TestCheck_Status(t *testing.T) {
	tests := []struct {
		name     string
		required Checker
		optional Checker
		want     string
	}{
		{"all healthy", ok(""), ok(""), StatusHealthy},
		{"optional down", ok(""), failing("broker unreachable"), StatusDegraded},
		{"required down", failing("connection refused"), ok(""), StatusUnhealthy},
		{"both down", failing("connection refused"), failing("broker unreachable"), StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.Register("database", true, tt.required)
			r.Register("kafka", false, tt.optional)
			report := r.Check(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Equal(t, tt.want != StatusUnhealthy, report.Healthy())
		})
	}
}

func TestCheck_Timeout(t *testing.T) {
	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	r.Register("slow", true, func(context.Context) Status {
		time.Sleep(300 * time.Millisecond)
		return Status{Healthy: true}
	})

	start := time.Now()
	report := r.Check(context.Background())
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, StatusUnhealthy, report.Status)
	require.Len(t, report.Checks, 1)
	assert.Equal(t, "slow", report.Checks[0].Name)
}

func TestCheck_RunsConcurrently(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"a", "b", "c", "d"} {
		r.Register(name, true, func(context.Context) Status {
			time.Sleep(50 * time.Millisecond)
			return Status{Healthy: true}
		})
	}

	start := time.Now()
	report := r.Check(context.Background())
	assert.Less(t, time.Since(start), 180*time.Millisecond)
	assert.Len(t, report.Checks, 4)
}

func TestCheck_ConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			r.Register("x", false, ok(""))
		}
	}()
	for range 100 {
		_ = r.Check(context.Background())
	}
	<-done
	assert.Len(t, r.Check(context.Background()).Checks, 100)
}
