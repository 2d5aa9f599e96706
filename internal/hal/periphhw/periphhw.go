// Package periphhw wires the hal.Backend interfaces to real Raspberry Pi
// hardware: periph.io GPIO pins for the contactor/GFI/watchdog lines, a
// sysfs PWM channel for the Control Pilot signal, and an MCP3008 ADC read
// over SPI0 for the three analog channels. The GPIO numbering and signal
// polarity follow the hardware wiring documented alongside the original
// peripherals module: watchdog on GPIO4, contactor on GPIO17, pilot PWM
// on PWM0, GFI status on GPIO22, relay mirror on GPIO23, GFI test on
// GPIO24, GFI reset on GPIO27, with the MCP3008's three used channels
// carrying pilot voltage, current sense and mains voltage respectively.
package periphhw

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/bcm283x"

	"github.com/dkronst/juiced-go/internal/config"
	"github.com/dkronst/juiced-go/internal/hal"
)

const (
	pwmChipPath = "/sys/class/pwm/pwmchip0"
	pwmChannel  = "pwm0"
	pwmPeriodNS = 1_000_000 // 1kHz, matching the J1772 Control Pilot frequency

	// spiSpeed is 300kHz: the fastest the MCP3008 reads linearly (spec §6,
	// adc.rs: "300kHz is the fastest that works linearly").
	spiSpeed = config.ADCSPIHz * physic.Hertz
	spiMode  = spi.Mode0
	adcBits  = config.ADCBits
)

// Open initializes periph.io's host drivers and returns a hal.Backend
// wired to the physical GPIO/PWM/SPI peripherals. Call Close (via the
// returned closer) on shutdown to release the SPI port and disable PWM.
func Open() (hal.Backend, func() error, error) {
	if _, err := host.Init(); err != nil {
		return hal.Backend{}, nil, fmt.Errorf("periphhw: host init: %w", err)
	}

	contactor := &gpioOut{pin: bcm283x.GPIO17}
	relayMirror := &gpioIn{pin: bcm283x.GPIO23}
	gfiStatus := &gpioIRQIn{pin: bcm283x.GPIO22}
	gfiTest := &gpioOut{pin: bcm283x.GPIO24}
	gfiReset := &gpioOut{pin: bcm283x.GPIO27}
	watchdog := &gpioOut{pin: bcm283x.GPIO4}

	for _, p := range []gpio.PinIO{bcm283x.GPIO17, bcm283x.GPIO24, bcm283x.GPIO27, bcm283x.GPIO4} {
		if err := p.Out(gpio.Low); err != nil {
			return hal.Backend{}, nil, fmt.Errorf("periphhw: configure output pin %s: %w", p, err)
		}
	}
	if err := bcm283x.GPIO23.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return hal.Backend{}, nil, fmt.Errorf("periphhw: configure relay mirror pin: %w", err)
	}
	if err := bcm283x.GPIO22.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return hal.Backend{}, nil, fmt.Errorf("periphhw: configure gfi status pin: %w", err)
	}

	pwm, err := openSysfsPWM(pwmChipPath, pwmChannel, pwmPeriodNS)
	if err != nil {
		return hal.Backend{}, nil, fmt.Errorf("periphhw: open pilot pwm: %w", err)
	}

	port, err := spireg.Open(fmt.Sprintf("SPI%d.%d", config.ADCSPIBus, config.ADCSPISlave))
	if err != nil {
		pwm.close()
		return hal.Backend{}, nil, fmt.Errorf("periphhw: open spi port: %w", err)
	}
	conn, err := port.Connect(spiSpeed, spiMode, adcBits)
	if err != nil {
		port.Close()
		pwm.close()
		return hal.Backend{}, nil, fmt.Errorf("periphhw: spi connect: %w", err)
	}
	adc := &mcp3008{conn: conn}

	backend := hal.Backend{
		Contactor:     contactor,
		RelayMirror:   relayMirror,
		GFIStatus:     gfiStatus,
		GFITest:       gfiTest,
		GFIReset:      gfiReset,
		PowerWatchdog: watchdog,
		Pilot:         pwm,
		ADC:           adc,
	}

	closer := func() error {
		_ = pwm.SetDutyCycle(0)
		pwm.close()
		return port.Close()
	}

	return backend, closer, nil
}

// gpioOut adapts a periph.io gpio.PinOut to hal.GPIOPin.
type gpioOut struct {
	pin gpio.PinIO
}

func (p *gpioOut) Write(level hal.Level) error {
	l := gpio.Low
	if level == hal.High {
		l = gpio.High
	}
	return p.pin.Out(l)
}

func (p *gpioOut) Read() (hal.Level, error) {
	return hal.Level(p.pin.Read() == gpio.High), nil
}

// gpioIn adapts a periph.io input-only gpio.PinIn to hal.GPIOPin; writes
// are rejected since the relay-mirror pin is physically input-only.
type gpioIn struct {
	pin gpio.PinIO
}

func (p *gpioIn) Write(hal.Level) error {
	return fmt.Errorf("periphhw: pin %s is input-only", p.pin)
}

func (p *gpioIn) Read() (hal.Level, error) {
	return hal.Level(p.pin.Read() == gpio.High), nil
}

// gpioIRQIn adapts a periph.io edge-capable input pin to hal.IRQPin.
type gpioIRQIn struct {
	pin gpio.PinIO
}

func (p *gpioIRQIn) Write(hal.Level) error {
	return fmt.Errorf("periphhw: pin %s is input-only", p.pin)
}

func (p *gpioIRQIn) Read() (hal.Level, error) {
	return hal.Level(p.pin.Read() == gpio.High), nil
}

// WaitForEdge blocks until the configured edge fires or ctx is done.
// periph.io's WaitForEdge takes a timeout rather than a context, so a
// generous poll timeout is used and re-armed against ctx.Done() — the
// same shape as services/hal's adaptor_gpio.go wraps TinyGo's interrupt
// model into Go's blocking WaitForEdge.
func (p *gpioIRQIn) WaitForEdge(ctx context.Context) (bool, error) {
	const pollTimeout = 200 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return false, nil
		default:
		}
		if p.pin.WaitForEdge(pollTimeout) {
			return true, nil
		}
	}
}

// sysfsPWM drives PWM0 through the kernel's sysfs pwm class, matching the
// original Rust implementation's rppal::pwm::Pwm(Channel::Pwm0) usage:
// period fixed at 1kHz, duty cycle expressed as a [0,1] fraction of that
// period written to duty_cycle in nanoseconds.
type sysfsPWM struct {
	periodNS   int
	dutyFile   *os.File
	enableFile *os.File
}

func openSysfsPWM(chipPath, channel string, periodNS int) (*sysfsPWM, error) {
	exportPath := filepath.Join(chipPath, "export")
	channelPath := filepath.Join(chipPath, channel)
	if _, err := os.Stat(channelPath); os.IsNotExist(err) {
		idx := channel[len(channel)-1:]
		if err := os.WriteFile(exportPath, []byte(idx), 0o644); err != nil {
			return nil, fmt.Errorf("export %s: %w", channel, err)
		}
	}
	if err := os.WriteFile(filepath.Join(channelPath, "period"), []byte(strconv.Itoa(periodNS)), 0o644); err != nil {
		return nil, fmt.Errorf("set period: %w", err)
	}
	dutyFile, err := os.OpenFile(filepath.Join(channelPath, "duty_cycle"), os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open duty_cycle: %w", err)
	}
	enableFile, err := os.OpenFile(filepath.Join(channelPath, "enable"), os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		dutyFile.Close()
		return nil, fmt.Errorf("open enable: %w", err)
	}
	if _, err := enableFile.WriteString("1"); err != nil {
		dutyFile.Close()
		enableFile.Close()
		return nil, fmt.Errorf("enable pwm: %w", err)
	}
	return &sysfsPWM{periodNS: periodNS, dutyFile: dutyFile, enableFile: enableFile}, nil
}

// SetDutyCycle sets the fraction of the period the signal spends high. A
// duty above 1.0 (the "waiting for vehicle" convention, spec §4.2) pins
// the output constant high by writing the full period.
func (p *sysfsPWM) SetDutyCycle(duty float64) error {
	if duty < 0 {
		duty = 0
	}
	ns := int(duty * float64(p.periodNS))
	if ns > p.periodNS {
		ns = p.periodNS
	}
	if _, err := p.dutyFile.Seek(0, 0); err != nil {
		return err
	}
	_, err := p.dutyFile.WriteString(strconv.Itoa(ns))
	return err
}

func (p *sysfsPWM) close() {
	_, _ = p.enableFile.WriteString("0")
	p.dutyFile.Close()
	p.enableFile.Close()
}

// mcp3008 reads one of an MCP3008's eight single-ended channels over SPI,
// reimplementing the original Rust adc.rs's bit-for-bit framing: a 3-byte
// transfer (start bit, single-ended + channel select, don't-care), with
// the 10-bit result split across the low two bits of byte 1 and all of
// byte 2.
type mcp3008 struct {
	conn spi.Conn
}

func (a *mcp3008) ReadChannel(_ context.Context, channel int) (uint16, error) {
	if channel < 0 || channel > 7 {
		return 0, fmt.Errorf("periphhw: mcp3008 channel out of range: %d", channel)
	}
	write := []byte{0b0000_0001, byte(0b1000_0000 | (channel << 4)), 0}
	read := make([]byte, 3)
	if err := a.conn.Tx(write, read); err != nil {
		return 0, fmt.Errorf("periphhw: mcp3008 transfer: %w", err)
	}
	value := (uint16(read[1]&0x03) << 8) | uint16(read[2])
	return value, nil
}
