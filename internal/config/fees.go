package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
)

// FeeSchedule holds the marketplace fee settings. Percentages are percent
// points: 5.0 means 5%.
type FeeSchedule struct {
	PlatformFeePct            decimal.Decimal `env:"PLATFORM_PCT" envDefault:"5.0"`
	ContestationFee           decimal.Decimal `env:"CONTESTATION" envDefault:"10.00"`
	CancellationFeePct        decimal.Decimal `env:"CANCELLATION_PCT" envDefault:"10.0"`
	ConfirmationDeadlineHours int             `env:"CONFIRMATION_DEADLINE_HOURS" envDefault:"36"`
}

func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		PlatformFeePct:            decimal.NewFromInt(5),
		ContestationFee:           decimal.NewFromInt(10),
		CancellationFeePct:        decimal.NewFromInt(10),
		ConfirmationDeadlineHours: 36,
	}
}

func (s FeeSchedule) Validate() error {
	if err := domain.ValidatePercent("platform fee percentage", s.PlatformFeePct); err != nil {
		return fmt.Errorf("fee schedule: %w", err)
	}
	if err := domain.ValidatePercent("cancellation fee percentage", s.CancellationFeePct); err != nil {
		return fmt.Errorf("fee schedule: %w", err)
	}
	if s.ContestationFee.IsNegative() || !domain.HasMoneyPrecision(s.ContestationFee) {
		return fmt.Errorf("fee schedule: contestation fee must be a non-negative amount with at most 2 decimals")
	}
	if s.ConfirmationDeadlineHours <= 0 {
		return fmt.Errorf("fee schedule: confirmation deadline hours must be positive")
	}
	return nil
}

// Snapshot converts the schedule into the values captured on a new order.
func (s FeeSchedule) Snapshot() domain.FeeSnapshot {
	return domain.FeeSnapshot{
		PlatformFeePct:          s.PlatformFeePct,
		ContestationFee:         s.ContestationFee,
		CancellationFeePct:      s.CancellationFeePct,
		ConfirmationWindowHours: s.ConfirmationDeadlineHours,
	}
}

type feeFile struct {
	PlatformFeePercentage     *string `yaml:"platform_fee_percentage"`
	ContestationFee           *string `yaml:"contestation_fee"`
	CancellationFeePercentage *string `yaml:"cancellation_fee_percentage"`
	ConfirmationDeadlineHours *int    `yaml:"confirmation_deadline_hours"`
}

// Fees is the live fee schedule. Values set in the optional YAML file
// override the base schedule; Reload re-reads the file.
type Fees struct {
	mu      sync.RWMutex
	base    FeeSchedule
	current FeeSchedule
	path    string
}

func NewFees(base FeeSchedule, path string) (*Fees, error) {
	f := &Fees{base: base, current: base, path: path}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload re-reads the YAML overlay. On error the previous schedule stays
// in effect.
func (f *Fees) Reload() error {
	next := f.base
	if f.path != "" {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return fmt.Errorf("Fees.Reload: %w", err)
		}
		var file feeFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("Fees.Reload: parse %s: %w", f.path, err)
		}
		if err := file.apply(&next); err != nil {
			return fmt.Errorf("Fees.Reload: %w", err)
		}
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("Fees.Reload: %w", err)
	}

	f.mu.Lock()
	f.current = next
	f.mu.Unlock()
	return nil
}

func (file feeFile) apply(s *FeeSchedule) error {
	parse := func(field string, raw *string, dst *decimal.Decimal) error {
		if raw == nil {
			return nil
		}
		d, err := decimal.NewFromString(*raw)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		*dst = d
		return nil
	}
	if err := parse("platform_fee_percentage", file.PlatformFeePercentage, &s.PlatformFeePct); err != nil {
		return err
	}
	if err := parse("contestation_fee", file.ContestationFee, &s.ContestationFee); err != nil {
		return err
	}
	if err := parse("cancellation_fee_percentage", file.CancellationFeePercentage, &s.CancellationFeePct); err != nil {
		return err
	}
	if file.ConfirmationDeadlineHours != nil {
		s.ConfirmationDeadlineHours = *file.ConfirmationDeadlineHours
	}
	return nil
}

func (f *Fees) Snapshot() FeeSchedule {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

func (f *Fees) PlatformFeePercentage() decimal.Decimal { return f.Snapshot().PlatformFeePct }

func (f *Fees) ContestationFee() decimal.Decimal { return f.Snapshot().ContestationFee }

func (f *Fees) CancellationFeePercentage() decimal.Decimal { return f.Snapshot().CancellationFeePct }

func (f *Fees) ConfirmationDeadlineHours() int { return f.Snapshot().ConfirmationDeadlineHours }

// Capture returns the live schedule in the form stored on a new order.
func (f *Fees) Capture() domain.FeeSnapshot { return f.Snapshot().Snapshot() }
