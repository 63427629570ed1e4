package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFeeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fees.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewFees_NoFileUsesBase(t *testing.T) {
	fees, err := NewFees(DefaultFeeSchedule(), "")
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(5).Equal(fees.PlatformFeePercentage()))
	assert.True(t, decimal.NewFromInt(10).Equal(fees.ContestationFee()))
	assert.True(t, decimal.NewFromInt(10).Equal(fees.CancellationFeePercentage()))
	assert.Equal(t, 36, fees.ConfirmationDeadlineHours())
}

func TestNewFees_FileOverridesSetFieldsOnly(t *testing.T) {
	path := writeFeeFile(t, "platform_fee_percentage: \"7.5\"\nconfirmation_deadline_hours: 48\n")

	fees, err := NewFees(DefaultFeeSchedule(), path)
	require.NoError(t, err)

	assert.Equal(t, "7.5", fees.PlatformFeePercentage().String())
	assert.Equal(t, 48, fees.ConfirmationDeadlineHours())
	assert.True(t, decimal.NewFromInt(10).Equal(fees.ContestationFee()))
}

func TestFees_ReloadKeepsPreviousOnInvalidFile(t *testing.T) {
	path := writeFeeFile(t, "platform_fee_percentage: \"3\"\n")
	fees, err := NewFees(DefaultFeeSchedule(), path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("platform_fee_percentage: \"150\"\n"), 0o600))
	err = fees.Reload()
	require.Error(t, err)
	assert.Equal(t, "3", fees.PlatformFeePercentage().String())

	require.NoError(t, os.WriteFile(path, []byte("platform_fee_percentage: \"4\"\n"), 0o600))
	require.NoError(t, fees.Reload())
	assert.Equal(t, "4", fees.PlatformFeePercentage().String())
}

func TestFeeSchedule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *FeeSchedule)
		wantErr bool
	}{
		{name: "defaults", mutate: func(s *FeeSchedule) {}},
		{name: "negative platform fee", mutate: func(s *FeeSchedule) { s.PlatformFeePct = decimal.NewFromInt(-1) }, wantErr: true},
		{name: "cancellation over 100", mutate: func(s *FeeSchedule) { s.CancellationFeePct = decimal.NewFromInt(101) }, wantErr: true},
		{name: "contestation fee sub-cent", mutate: func(s *FeeSchedule) { s.ContestationFee = decimal.RequireFromString("0.001") }, wantErr: true},
		{name: "zero deadline", mutate: func(s *FeeSchedule) { s.ConfirmationDeadlineHours = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultFeeSchedule()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ParsesFeesFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/escrow")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("FEE_PLATFORM_PCT", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "2.5", cfg.Fees.PlatformFeePct.String())
	assert.Equal(t, 36, cfg.Fees.ConfirmationDeadlineHours)
}
