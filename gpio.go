package sprinkler

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// gpioRoot is a var so tests can point it at a temp dir.
var gpioRoot = "/sys/class/gpio"

// GPIORelay drives an active-high relay through the sysfs GPIO interface.
// A pin of zero or less is the "disabled" sentinel: the relay accepts
// commands but touches no hardware.
type GPIORelay struct {
	pin int
}

func NewGPIORelay(pin int) *GPIORelay {
	r := &GPIORelay{pin: pin}
	if pin > 0 {
		if err := exportPin(pin, "out"); err != nil {
			log.Warn("could not set up gpio pin", "pin", pin, "err", err)
		}
	}
	return r
}

func (r *GPIORelay) On() error  { return r.write(1) }
func (r *GPIORelay) Off() error { return r.write(0) }

func (r *GPIORelay) write(v int) error {
	if r.pin <= 0 {
		return nil
	}
	path := fmt.Sprintf("%s/gpio%d/value", gpioRoot, r.pin)
	if err := os.WriteFile(path, []byte(strconv.Itoa(v)), 0o644); err != nil {
		return fmt.Errorf("could not write gpio %d: %w", r.pin, err)
	}
	return nil
}

// GPIORainSensor reads a rain sensor wired to a GPIO pin; the pin goes high
// when rain is detected. A pin of zero or less always reads inactive.
type GPIORainSensor struct {
	pin int
}

func NewGPIORainSensor(pin int) *GPIORainSensor {
	s := &GPIORainSensor{pin: pin}
	if pin > 0 {
		if err := exportPin(pin, "in"); err != nil {
			log.Warn("could not set up gpio pin", "pin", pin, "err", err)
		}
	}
	return s
}

func (s *GPIORainSensor) IsActive() bool {
	if s.pin <= 0 {
		return false
	}
	raw, err := os.ReadFile(fmt.Sprintf("%s/gpio%d/value", gpioRoot, s.pin))
	if err != nil {
		log.Error("could not read rain sensor", "pin", s.pin, "err", err)
		return false
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	return err == nil && v > 0
}

func exportPin(pin int, direction string) error {
	// Exporting an already-exported pin fails; that is fine.
	_ = os.WriteFile(gpioRoot+"/export", []byte(strconv.Itoa(pin)), 0o644)
	path := fmt.Sprintf("%s/gpio%d/direction", gpioRoot, pin)
	if err := os.WriteFile(path, []byte(direction), 0o644); err != nil {
		return fmt.Errorf("could not set gpio %d direction: %w", pin, err)
	}
	return nil
}
