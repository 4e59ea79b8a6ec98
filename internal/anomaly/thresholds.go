package anomaly

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Thresholds are the rule limits. A reading above the first value of a pair is
// a medium anomaly, above the second a high one.
type Thresholds struct {
	AltitudeRate     float64 `env:"ALTITUDE_RATE" envDefault:"10" yaml:"altitude_rate"`
	AltitudeRateHigh float64 `env:"ALTITUDE_RATE_HIGH" envDefault:"20" yaml:"altitude_rate_high"`
	VoltageDrop      float64 `env:"VOLTAGE_DROP" envDefault:"0.5" yaml:"voltage_drop"`
	VoltageDropHigh  float64 `env:"VOLTAGE_DROP_HIGH" envDefault:"1.0" yaml:"voltage_drop_high"`
	Vibration        float64 `env:"VIBRATION" envDefault:"30" yaml:"vibration"`
	VibrationHigh    float64 `env:"VIBRATION_HIGH" envDefault:"60" yaml:"vibration_high"`
	AttitudeRate     float64 `env:"ATTITUDE_RATE" envDefault:"250" yaml:"attitude_rate"`
	AttitudeRateHigh float64 `env:"ATTITUDE_RATE_HIGH" envDefault:"500" yaml:"attitude_rate_high"`

	// MinGPSFix is the lowest GPS status treated as a usable fix.
	MinGPSFix int `env:"MIN_GPS_FIX" envDefault:"3" yaml:"min_gps_fix"`
	// RCLossPWM is the level every RC channel must fall below to count as link loss.
	RCLossPWM float64 `env:"RC_LOSS_PWM" envDefault:"900" yaml:"rc_loss_pwm"`
	// MaxEvidence caps the raw readings kept per anomaly.
	MaxEvidence int `env:"MAX_EVIDENCE" envDefault:"20" yaml:"max_evidence"`
}

// Default returns the built-in thresholds.
func Default() Thresholds {
	return Thresholds{
		AltitudeRate:     10,
		AltitudeRateHigh: 20,
		VoltageDrop:      0.5,
		VoltageDropHigh:  1.0,
		Vibration:        30,
		VibrationHigh:    60,
		AttitudeRate:     250,
		AttitudeRateHigh: 500,
		MinGPSFix:        3,
		RCLossPWM:        900,
		MaxEvidence:      20,
	}
}

// LoadFile overlays the values present in a YAML file onto base.
func LoadFile(path string, base Thresholds) (Thresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read thresholds file: %w", err)
	}
	th := base
	if err := yaml.Unmarshal(data, &th); err != nil {
		return base, fmt.Errorf("parse thresholds file: %w", err)
	}
	if err := th.Validate(); err != nil {
		return base, err
	}
	return th, nil
}

func (t Thresholds) Validate() error {
	pairs := []struct {
		name      string
		med, high float64
	}{
		{"altitude_rate", t.AltitudeRate, t.AltitudeRateHigh},
		{"voltage_drop", t.VoltageDrop, t.VoltageDropHigh},
		{"vibration", t.Vibration, t.VibrationHigh},
		{"attitude_rate", t.AttitudeRate, t.AttitudeRateHigh},
	}
	var errs []error
	for _, p := range pairs {
		if p.med <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", p.name, p.med))
		}
		if p.high < p.med {
			errs = append(errs, fmt.Errorf("%s_high (%v) below %s (%v)", p.name, p.high, p.name, p.med))
		}
	}
	if t.RCLossPWM <= 0 {
		errs = append(errs, fmt.Errorf("rc_loss_pwm must be positive, got %v", t.RCLossPWM))
	}
	if t.MaxEvidence < 1 {
		errs = append(errs, fmt.Errorf("max_evidence must be at least 1, got %d", t.MaxEvidence))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid anomaly thresholds: %w", err)
	}
	return nil
}
