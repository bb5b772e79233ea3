package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, Validate(&cfg))
}

func TestValidateAccumulatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.SchemaVersion = "2"
	cfg.RT.MaxUtilization = 1.5
	cfg.Trace.Capacity = 0

	err := Validate(&cfg)
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, "schema_version")
	require.Contains(t, msg, "rt.max_utilization")
	require.Contains(t, msg, "trace.capacity")
}

func TestValidateTickBudgetBoundedByPeriod(t *testing.T) {
	cfg := Defaults()
	cfg.Autonomy.TickPeriodNS = 1_000_000
	cfg.Autonomy.TickBudgetNS = 2_000_000

	require.Error(t, Validate(&cfg))
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/kernel.yaml")
	require.Error(t, err)
}
