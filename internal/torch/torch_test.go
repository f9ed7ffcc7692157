package torch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

type fakePin struct {
	duty   gpio.Duty
	freq   physic.Frequency
	level  gpio.Level
	pwmErr error
	outs   int
}

func (p *fakePin) Out(l gpio.Level) error {
	p.outs++
	p.level = l
	p.duty = 0
	return nil
}

func (p *fakePin) PWM(duty gpio.Duty, f physic.Frequency) error {
	if p.pwmErr != nil {
		return p.pwmErr
	}
	p.duty = duty
	p.freq = f
	return nil
}

func TestMock_LevelRange(t *testing.T) {
	tests := []struct {
		level  float64
		wantOn bool
	}{
		{1.0, true},
		{0.5, true},
		{0, false},
		{-1, false},
		{1.5, false},
	}

	for _, tt := range tests {
		m := NewMock()
		if hot := m.On(tt.level); hot {
			t.Errorf("On(%v) reported overheating", tt.level)
		}
		if m.IsOn() != tt.wantOn {
			t.Errorf("On(%v): IsOn() = %v, want %v", tt.level, m.IsOn(), tt.wantOn)
		}
	}
}

func TestMock_Overheating(t *testing.T) {
	m := NewMock()
	m.SetOverheating(true)

	if hot := m.On(1.0); !hot {
		t.Error("On() = false, want overheating")
	}
	if m.IsOn() {
		t.Error("overheated torch should stay off")
	}
}

func TestToggle(t *testing.T) {
	m := NewMock()

	on, hot := Toggle(m)
	if !on || hot {
		t.Fatalf("first Toggle = %v, %v, want true, false", on, hot)
	}
	on, _ = Toggle(m)
	if on || m.IsOn() {
		t.Error("second Toggle should turn the torch off")
	}
}

func TestGate(t *testing.T) {
	m := NewMock()
	allowed := false
	g := Gate(m, func() bool { return allowed })

	g.On(1.0)
	if m.IsOn() {
		t.Error("gated torch lit while not allowed")
	}

	allowed = true
	g.On(1.0)
	if !g.IsOn() {
		t.Error("gated torch did not light while allowed")
	}

	allowed = false
	g.Off()
	if m.IsOn() {
		t.Error("Off should pass through the gate")
	}
}

func TestNone(t *testing.T) {
	var n None
	if n.On(1.0) || n.IsOn() {
		t.Error("None should never light or overheat")
	}
	n.Off()
}

func TestGPIO_OnOff(t *testing.T) {
	pin := &fakePin{}
	g := newGPIO(pin, GPIOConfig{Pin: "GPIO18", PWMHz: 500}, zaptest.NewLogger(t).Sugar())

	if hot := g.On(0.5); hot {
		t.Fatal("On() reported overheating")
	}
	if pin.duty != gpio.DutyMax/2 {
		t.Errorf("duty = %v, want %v", pin.duty, gpio.DutyMax/2)
	}
	if pin.freq != 500*physic.Hertz {
		t.Errorf("freq = %v, want 500Hz", pin.freq)
	}
	if !g.IsOn() {
		t.Error("IsOn() = false after On")
	}

	g.Off()
	g.Off()
	if pin.outs != 1 {
		t.Errorf("Out called %d times, want 1", pin.outs)
	}
	if pin.level != gpio.Low {
		t.Error("pin not driven low")
	}
}

func TestGPIO_PWMFailureIsOverheat(t *testing.T) {
	pin := &fakePin{pwmErr: errors.New("busy")}
	g := newGPIO(pin, GPIOConfig{Pin: "GPIO18"}, zaptest.NewLogger(t).Sugar())

	if hot := g.On(1.0); !hot {
		t.Error("On() = false, want overheating on pwm error")
	}
	if g.IsOn() {
		t.Error("torch should stay off after pwm error")
	}
}

func TestGPIO_ThermalLimit(t *testing.T) {
	zone := filepath.Join(t.TempDir(), "temp")
	if err := os.WriteFile(zone, []byte("71500\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	pin := &fakePin{}
	g := newGPIO(pin, GPIOConfig{Pin: "GPIO18", ThermalZone: zone, MaxTempC: 70}, zaptest.NewLogger(t).Sugar())

	if hot := g.On(1.0); !hot {
		t.Error("On() = false above thermal limit")
	}

	if err := os.WriteFile(zone, []byte("45000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if hot := g.On(1.0); hot {
		t.Error("On() reported overheating below thermal limit")
	}
}

func TestGPIO_OutOfRangeIsNoop(t *testing.T) {
	pin := &fakePin{}
	g := newGPIO(pin, GPIOConfig{Pin: "GPIO18"}, nil)

	if hot := g.On(2); hot || g.IsOn() {
		t.Error("On(2) should be a silent no-op")
	}
}
