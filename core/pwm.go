package core

import "errors"

// MaxDuty is the duty cycle resolution of PWMTask (10000 = 100.00%)
const MaxDuty = 10000

var (
	ErrInvalidFrequency = errors.New("pwm frequency out of range")
	ErrInvalidDuty      = errors.New("pwm duty out of range")
)

// PWMTask builds a task producing a square wave of frequencyHz with the
// pin high for duty/MaxDuty of each period. toggles counts pin changes,
// two per period; 0 runs until aborted.
func PWMTask(frequencyHz, duty, toggles uint32) (Task, error) {
	if frequencyHz == 0 || frequencyHz > 1000000000 {
		return Task{}, ErrInvalidFrequency
	}
	if duty > MaxDuty {
		return Task{}, ErrInvalidDuty
	}

	period := uint64(1000000000) / uint64(frequencyHz)
	return Task{
		Toggles: toggles,
		SetupNs: uint32(period * uint64(MaxDuty-duty) / MaxDuty),
		HoldNs:  uint32(period * uint64(duty) / MaxDuty),
	}, nil
}
