// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package sx1272 drives a Semtech SX1272 LoRa radio connected to an SPI bus and a handful
// of gpio pins. The driver configures the radio's LoRa modem, transmits and receives
// packets, and performs channel activity detection. It is interrupt driven: the radio's
// DIO pins are watched for rising edges and a worker goroutine turns them into events
// that are delivered to a callback registered with OnEvent.
//
// The driver serializes all register access internally, so its methods may be called from
// multiple goroutines. The event callback runs on the worker goroutine and must not block;
// calling back into the driver from the callback is allowed.
//
// FSK operation is not implemented: SetModem(ModemFsk) switches the register page but all
// configuration and packet operations assume the LoRa modem.
package sx1272

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tve/radios"
)

// Modem selects between the chip's two modems.
type Modem int

const (
	ModemFsk Modem = iota
	ModemLora
)

// State describes what the radio is currently doing.
type State int

const (
	Idle State = iota
	RxRunning
	TxRunning
	Cad
)

// Event identifies a radio event delivered to the OnEvent callback.
type Event int

const (
	TxDone Event = iota
	TxTimeout
	RxDone
	RxErrorCrc
	RxTimeout
	FhssChangeChannel
	CadDone
	CadDetected
)

var eventNames = []string{"TxDone", "TxTimeout", "RxDone", "RxErrorCrc", "RxTimeout",
	"FhssChangeChannel", "CadDone", "CadDetected"}

func (e Event) String() string {
	if int(e) >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// CadMode selects which interrupt ends a channel activity detection cycle: CadModeDone
// signals on every completed detection (DIO3), CadModeDetected only when activity was
// found (DIO4).
type CadMode int

const (
	CadModeDone CadMode = iota
	CadModeDetected
)

// Bandwidth is the LoRa channel bandwidth.
type Bandwidth byte

const (
	Bw125 Bandwidth = iota
	Bw250
	Bw500
)

// Hertz returns the bandwidth in Hz.
func (b Bandwidth) Hertz() uint32 {
	switch b {
	case Bw125:
		return 125000
	case Bw250:
		return 250000
	default:
		return 500000
	}
}

// CodingRate is the LoRa forward error correction rate, 4/5 through 4/8.
type CodingRate byte

const (
	Cr45 CodingRate = iota + 1
	Cr46
	Cr47
	Cr48
)

// LoraSettings holds the LoRa modem configuration. Pass it to ConfigureLora to apply.
type LoraSettings struct {
	Bandwidth       Bandwidth
	SpreadingFactor uint8 // 6..12
	CodingRate      CodingRate
	PreambleLength  uint16 // preamble symbols, typ. 8
	ImplicitHeader  bool   // fixed-length packets without on-air header
	PayloadLength   uint8  // payload size for implicit header mode
	CrcOn           bool
	FreqHopOn       bool
	HopPeriod       uint8 // symbols between hops when FreqHopOn
	IQInverted      bool
	RxContinuous    bool          // stay in RX after a packet instead of going idle
	Power           int8          // TX power in dBm, clamped to what the PA can do
	SymbolTimeout   uint16        // RX single-shot timeout in symbols
	TxTimeout       time.Duration // software watchdog for a transmission, 0 disables
	RxTimeout       time.Duration // default watchdog for SetRx(0), 0 disables
	// LowDatarateOptimize is maintained by ConfigureLora based on bandwidth and
	// spreading factor, it cannot be set independently.
	LowDatarateOptimize bool
}

// RxPacket is a received packet with its signal quality.
type RxPacket struct {
	Payload []byte
	Rssi    int // dBm
	Snr     int // dB
}

// EventFunc receives radio events. It runs on the driver's worker goroutine.
type EventFunc func(e Event)

// LogPrintf is a function used by the driver to log debug info, set to nil to disable.
type LogPrintf func(format string, v ...interface{})

// Opts bundles the pins and initial configuration for New.
type Opts struct {
	CS                radios.GPIO    // manual chip select, active low; nil if the bus drives CS
	Reset             radios.GPIO    // reset pin, nil if hardwired
	RFSwitch          radios.GPIO    // antenna switch enable, nil if absent
	RFSwitchActiveLow bool           // antenna switch enables on a low level
	DIO               [6]radios.GPIO // DIO0..DIO5 interrupt lines, unused ones may be nil
	Channel           uint32         // RF center frequency in Hz
	Settings          LoraSettings
	Logger            LogPrintf
}

var (
	// ErrSPI indicates that an SPI transfer with the radio failed.
	ErrSPI = errors.New("SPI communication failed")
	// ErrVersion indicates that the chip's version register has an unexpected value,
	// typically a wiring problem or the wrong chip.
	ErrVersion = errors.New("unexpected chip version")
)

// Device represents an SX1272 radio.
type Device struct {
	mu                sync.Mutex // serializes register access and guards all mutable state
	spi               radios.SPI
	cs                radios.GPIO
	reset             radios.GPIO
	rfSwitch          radios.GPIO
	rfSwitchActiveLow bool
	dio               [6]radios.GPIO

	modem    Modem
	settings LoraSettings
	channel  uint32
	state    State
	cadMode  CadMode

	lastPacket      RxPacket
	lastChannel     byte // hop channel cached by the FHSS interrupt
	lastCadDetected bool

	txTimer *time.Timer
	rxTimer *time.Timer
	msgQ    chan uint32
	cb      EventFunc
	log     LogPrintf
	busErr  error // first SPI error of the current register sequence
}

// New initializes an SX1272 attached to the given SPI port. It resets the chip, verifies
// the version register, selects the LoRa modem, and applies the channel and settings from
// opts. The returned device is in sleep mode.
func New(port radios.SPI, opts *Opts) (*Device, error) {
	d := &Device{
		spi:               port,
		cs:                opts.CS,
		reset:             opts.Reset,
		rfSwitch:          opts.RFSwitch,
		rfSwitchActiveLow: opts.RFSwitchActiveLow,
		dio:               opts.DIO,
		channel:           opts.Channel,
		settings:          opts.Settings,
		msgQ:              make(chan uint32, msgQueueDepth),
		log:               func(format string, v ...interface{}) {},
	}
	if opts.Logger != nil {
		d.log = opts.Logger
	}
	if err := port.Configure(radios.SPIMode0, 8); err != nil {
		return nil, err
	}
	if d.cs != nil {
		d.cs.Out(radios.GpioHigh)
	}
	d.Reset()
	if err := d.Test(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.setOpMode(MODE_SLEEP)
	d.setModem(ModemLora)
	d.setChannel(opts.Channel)
	d.configureLora(&d.settings)
	err := d.busError()
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := d.initIsrs(); err != nil {
		return nil, err
	}
	go d.worker()
	d.log("sx1272: init complete, channel=%dHz", d.channel)
	return d, nil
}

// Reset performs a hardware reset: the reset pin is pulled low for 1ms and then left
// floating for 10ms while the chip boots. A no-op if no reset pin was provided.
func (d *Device) Reset() {
	if d.reset == nil {
		return
	}
	d.reset.Out(radios.GpioLow)
	time.Sleep(time.Millisecond)
	d.reset.In(radios.GpioNoEdge)
	time.Sleep(10 * time.Millisecond)
}

// Test reads the version register and checks that an SX1272 is responding.
func (d *Device) Test() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.rd(REG_VERSION)
	if err := d.busError(); err != nil {
		return err
	}
	if v != VERSION_SX1272 {
		return fmt.Errorf("sx1272: %w: got %#02x, want %#02x", ErrVersion, v, VERSION_SX1272)
	}
	return nil
}

// Close stops the interrupt machinery and puts the radio to sleep. The SPI port is not
// closed, it belongs to the caller.
func (d *Device) Close() error {
	d.mu.Lock()
	d.cancelTimers()
	for _, p := range d.dio {
		if p != nil {
			p.Unwatch()
		}
	}
	d.state = Idle
	d.setOpMode(MODE_SLEEP)
	err := d.busError()
	d.mu.Unlock()
	d.msgQ <- msgQuit
	return err
}

//===== Register access

// tx performs one SPI transaction, framing it with the manual chip select if there is one.
// Callers must hold d.mu.
func (d *Device) tx(w, r []byte) error {
	if d.cs != nil {
		d.cs.Out(radios.GpioLow)
		defer d.cs.Out(radios.GpioHigh)
	}
	if err := d.spi.Tx(w, r); err != nil {
		return fmt.Errorf("sx1272: %w: %v", ErrSPI, err)
	}
	return nil
}

// wr writes one or more bytes starting at addr, the chip auto-increments the address
// except for the FIFO. The first SPI error of a sequence is latched, busError retrieves
// it, so register sequences can run without per-call error checks.
func (d *Device) wr(addr byte, data ...byte) {
	wBuf := make([]byte, len(data)+1)
	rBuf := make([]byte, len(data)+1)
	wBuf[0] = addr | 0x80
	copy(wBuf[1:], data)
	if err := d.tx(wBuf, rBuf); err != nil && d.busErr == nil {
		d.busErr = err
	}
}

// rd reads a single register.
func (d *Device) rd(addr byte) byte {
	var wBuf, rBuf [2]byte
	wBuf[0] = addr & 0x7F
	if err := d.tx(wBuf[:], rBuf[:]); err != nil && d.busErr == nil {
		d.busErr = err
	}
	return rBuf[1]
}

// readFifo reads len(buf) bytes from the FIFO at the current address pointer.
func (d *Device) readFifo(buf []byte) {
	wBuf := make([]byte, len(buf)+1)
	rBuf := make([]byte, len(buf)+1)
	wBuf[0] = REG_FIFO
	if err := d.tx(wBuf, rBuf); err != nil && d.busErr == nil {
		d.busErr = err
	}
	copy(buf, rBuf[1:])
}

func (d *Device) writeFifo(data []byte) { d.wr(REG_FIFO, data...) }

// busError returns the latched SPI error, if any, and clears it.
func (d *Device) busError() error {
	err := d.busErr
	d.busErr = nil
	return err
}

//===== Operating mode

// setOpMode switches the radio's operating mode. The register is only written when the
// mode actually changes, but the side effects are applied unconditionally: entering sleep
// masks the DIO interrupt lines and disables the antenna switch, every other mode enables
// them. Callers must hold d.mu.
func (d *Device) setOpMode(mode byte) {
	cur := d.rd(REG_OPMODE)
	if cur&^byte(OPMODE_MASK) != mode {
		d.wr(REG_OPMODE, cur&OPMODE_MASK|mode)
	}
	if mode == MODE_SLEEP {
		for _, p := range d.dio {
			if p != nil {
				p.Disable()
			}
		}
		d.setRfSwitch(false)
	} else {
		for _, p := range d.dio {
			if p != nil {
				p.Enable()
			}
		}
		d.setRfSwitch(true)
	}
}

func (d *Device) setRfSwitch(on bool) {
	if d.rfSwitch == nil {
		return
	}
	level := radios.GpioHigh
	if on == d.rfSwitchActiveLow {
		level = radios.GpioLow
	}
	d.rfSwitch.Out(level)
}

// SetModem selects the modem page. The long-range bit can only be flipped in sleep mode,
// so the radio ends up asleep. Selecting ModemFsk switches the page but nothing else, FSK
// configuration is not implemented.
func (d *Device) SetModem(m Modem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setModem(m)
	return d.busError()
}

func (d *Device) setModem(m Modem) {
	d.setOpMode(MODE_SLEEP)
	op := d.rd(REG_OPMODE)
	switch m {
	case ModemLora:
		d.wr(REG_OPMODE, op&OPMODE_LONGRANGE_MASK|OPMODE_LONGRANGE_ON)
		d.wr(REG_DIOMAPPING1, 0)
		d.wr(REG_DIOMAPPING2, 0)
	case ModemFsk:
		d.wr(REG_OPMODE, op&OPMODE_LONGRANGE_MASK)
	}
	d.modem = m
}

// SetSleep puts the radio to sleep, cancels any pending timeouts, and masks the DIO
// interrupt lines so stale edges do not produce events.
func (d *Device) SetSleep() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelTimers()
	d.state = Idle
	d.setOpMode(MODE_SLEEP)
	return d.busError()
}

// SetStandby puts the radio in standby and cancels any pending timeouts.
func (d *Device) SetStandby() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelTimers()
	d.state = Idle
	d.setOpMode(MODE_STANDBY)
	return d.busError()
}

//===== Channel and configuration

// SetChannel tunes the radio to the given center frequency in Hz. The chip is briefly put
// into standby for the PLL registers to latch and the previous operating mode is restored
// afterwards.
func (d *Device) SetChannel(freq uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setChannel(freq)
	return d.busError()
}

func (d *Device) setChannel(freq uint32) {
	op := d.rd(REG_OPMODE)
	d.setOpMode(MODE_STANDBY)
	frf := (uint64(freq) << 19) / FXOSC
	d.wr(REG_FRFMSB, byte(frf>>16), byte(frf>>8), byte(frf))
	d.wr(REG_OPMODE, op)
	d.channel = freq
}

// ConfigureLora applies the full LoRa modem configuration. The low datarate optimization
// flag in s is recomputed from bandwidth and spreading factor, and the power field is
// clamped to the range the power amplifier supports; both updates are reflected in the
// device's settings as returned by Settings.
func (d *Device) ConfigureLora(s *LoraSettings) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configureLora(s)
	return d.busError()
}

func (d *Device) configureLora(s *LoraSettings) {
	if d.modem != ModemLora {
		d.setModem(ModemLora)
	}

	// mandatory when a symbol gets longer than 16ms
	s.LowDatarateOptimize = (s.Bandwidth == Bw125 && (s.SpreadingFactor == 11 || s.SpreadingFactor == 12)) ||
		(s.Bandwidth == Bw250 && s.SpreadingFactor == 12)

	mc1 := d.rd(REG_MODEMCONF1)
	mc1 = mc1&MC1_BW_MASK | byte(s.Bandwidth)<<MC1_BW_SHIFT
	mc1 = mc1&MC1_CR_MASK | byte(s.CodingRate)<<MC1_CR_SHIFT
	mc1 &= MC1_IMPLICIT_MASK
	if s.ImplicitHeader {
		mc1 |= MC1_IMPLICIT_ON
	}
	mc1 &= MC1_CRC_MASK
	if s.CrcOn {
		mc1 |= MC1_CRC_ON
	}
	mc1 &= MC1_LDRO_MASK
	if s.LowDatarateOptimize {
		mc1 |= MC1_LDRO_ON
	}
	d.wr(REG_MODEMCONF1, mc1)

	mc2 := d.rd(REG_MODEMCONF2)
	mc2 = mc2&MC2_SF_MASK | s.SpreadingFactor<<MC2_SF_SHIFT
	mc2 = mc2&MC2_AGCAUTO_MASK | MC2_AGCAUTO_ON
	mc2 = mc2&MC2_SYMBTOMSB_MASK | byte(s.SymbolTimeout>>8)&0x03
	d.wr(REG_MODEMCONF2, mc2)
	d.wr(REG_SYMBTIMEOUTLSB, byte(s.SymbolTimeout))

	d.wr(REG_PREAMBLEMSB, byte(s.PreambleLength>>8), byte(s.PreambleLength))

	if s.ImplicitHeader {
		d.wr(REG_PAYLOADLENGTH, s.PayloadLength)
	}

	if s.FreqHopOn {
		d.wr(REG_PLLHOP, d.rd(REG_PLLHOP)&PLLHOP_FASTHOP_MASK|PLLHOP_FASTHOP_ON)
		d.wr(REG_HOPPERIOD, s.HopPeriod)
	} else {
		d.wr(REG_PLLHOP, d.rd(REG_PLLHOP)&PLLHOP_FASTHOP_MASK)
		d.wr(REG_HOPPERIOD, 0)
	}

	d.setupPowerAmplifier(s)
	d.wr(REG_LNA, d.rd(REG_LNA)&LNA_BOOST_MASK|LNA_BOOST_ON)
	d.wr(REG_DETECTOPT, d.rd(REG_DETECTOPT)&DETECTOPT_MASK|DETECTOPT_SF7TO12)
	d.wr(REG_DETECTTHR, DETECTTHR_SF7TO12)

	d.settings = *s
}

// setupPowerAmplifier selects the PA output path and programs the output power. Below
// 525Mhz the PA_BOOST pin is used, with the high power +20dBm stage engaged for powers
// above 17dBm, otherwise the RFO pin. The power in s is clamped to what the selected
// path can do.
func (d *Device) setupPowerAmplifier(s *LoraSettings) {
	pa := d.rd(REG_PACONFIG)
	dac := d.rd(REG_PADAC)
	power := s.Power

	pa &= PACONFIG_PASELECT_MASK
	if d.channel < MID_BAND_THRESH {
		pa |= PACONFIG_PABOOST
	}
	if pa&PACONFIG_PABOOST != 0 {
		if power > 17 {
			if power > 20 {
				power = 20
			}
			if power < 5 {
				power = 5
			}
			dac = dac&PADAC_20DBM_MASK | PADAC_20DBM_ON
			pa = pa&PACONFIG_POWER_MASK | byte(power-5)&0x0F
		} else {
			if power < 2 {
				power = 2
			}
			dac = dac&PADAC_20DBM_MASK | PADAC_20DBM_OFF
			pa = pa&PACONFIG_POWER_MASK | byte(power-2)&0x0F
		}
	} else {
		if power > 14 {
			power = 14
		}
		if power < -1 {
			power = -1
		}
		pa = pa&PACONFIG_POWER_MASK | byte(power+1)&0x0F
	}
	d.wr(REG_PADAC, dac)
	d.wr(REG_PACONFIG, pa)
	s.Power = power
}

// ConfigureLoraBw changes just the bandwidth and reapplies the configuration.
func (d *Device) ConfigureLoraBw(bw Bandwidth) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.settings
	s.Bandwidth = bw
	d.configureLora(&s)
	return d.busError()
}

// ConfigureLoraSf changes just the spreading factor and reapplies the configuration.
func (d *Device) ConfigureLoraSf(sf uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.settings
	s.SpreadingFactor = sf
	d.configureLora(&s)
	return d.busError()
}

// ConfigureLoraCr changes just the coding rate and reapplies the configuration.
func (d *Device) ConfigureLoraCr(cr CodingRate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.settings
	s.CodingRate = cr
	d.configureLora(&s)
	return d.busError()
}

// SetMaxPayloadLength sets the payload length above which received packets are rejected
// in explicit header mode.
func (d *Device) SetMaxPayloadLength(n uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wr(REG_PAYLOADMAX, n)
	return d.busError()
}

//===== Transmit and receive

// Send transmits a packet. It returns as soon as the transmission has started, completion
// is signaled by a TxDone event, or TxTimeout if the settings' TxTimeout elapses first.
func (d *Device) Send(payload []byte) error {
	if len(payload) == 0 || len(payload) > 255 {
		return fmt.Errorf("sx1272: invalid payload length %d", len(payload))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyInvertIq(false)
	d.wr(REG_PAYLOADLENGTH, byte(len(payload)))
	d.wr(REG_FIFOTXBASE, 0)
	d.wr(REG_FIFOADDRPTR, 0)
	if d.rd(REG_OPMODE)&^byte(OPMODE_MASK) == MODE_SLEEP {
		// FIFO is inaccessible in sleep, wake up first
		d.setOpMode(MODE_STANDBY)
		time.Sleep(time.Millisecond)
	}
	d.writeFifo(payload)
	d.wr(REG_IRQMASK, IRQ_ALL&^IRQ_TXDONE)
	d.wr(REG_DIOMAPPING1, d.rd(REG_DIOMAPPING1)&DIO0_MASK|DIO0_01)
	d.state = TxRunning
	d.cancelTimers() // a watchdog from an interrupted receive must not outlive it
	d.armTxTimer(d.settings.TxTimeout)
	d.setOpMode(MODE_TX)
	d.log("sx1272: tx %d bytes", len(payload))
	return d.busError()
}

// SetRx puts the radio into receive mode. In single-shot mode (RxContinuous off) the
// radio returns to standby after one packet, and a non-zero timeout arms a software
// watchdog that produces an RxTimeout event; passing 0 falls back to the settings'
// RxTimeout, and no watchdog runs if that is 0 too. The chip's own symbol timeout
// applies as well. In continuous mode the radio keeps receiving until told otherwise
// and the timeout is ignored.
func (d *Device) SetRx(timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyInvertIq(true)
	if d.settings.FreqHopOn {
		d.wr(REG_IRQMASK, IRQ_ALL&^(IRQ_RXDONE|IRQ_RXTIMEOUT|IRQ_CRCERR|IRQ_FHSCHG))
		d.wr(REG_DIOMAPPING1, d.rd(REG_DIOMAPPING1)&DIO0_MASK&DIO2_MASK)
	} else {
		d.wr(REG_IRQMASK, IRQ_ALL&^(IRQ_RXDONE|IRQ_RXTIMEOUT|IRQ_CRCERR))
		d.wr(REG_DIOMAPPING1, d.rd(REG_DIOMAPPING1)&DIO0_MASK)
	}
	d.wr(REG_FIFORXBASE, 0)
	d.wr(REG_FIFOADDRPTR, 0)
	d.state = RxRunning
	d.cancelTimers()
	if d.settings.RxContinuous {
		d.setOpMode(MODE_RX_CONT)
	} else {
		if timeout == 0 {
			timeout = d.settings.RxTimeout
		}
		if timeout != 0 {
			d.armRxTimer(timeout)
		}
		d.setOpMode(MODE_RX_SINGLE)
	}
	return d.busError()
}

// StartCad begins a channel activity detection cycle. With CadModeDone a CadDone event is
// delivered when the cycle completes, with CadModeDetected an event only fires when
// activity was detected; either way LastCadDetected reports the outcome.
func (d *Device) StartCad(mode CadMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wr(REG_IRQMASK, IRQ_ALL&^(IRQ_CADDONE|IRQ_CADDETECT))
	switch mode {
	case CadModeDone:
		d.wr(REG_DIOMAPPING1, d.rd(REG_DIOMAPPING1)&DIO3_MASK)
	case CadModeDetected:
		d.wr(REG_DIOMAPPING2, d.rd(REG_DIOMAPPING2)&DIO4_MASK)
	}
	d.cadMode = mode
	d.state = Cad
	d.setOpMode(MODE_CAD)
	return d.busError()
}

// applyInvertIq programs the I/Q inversion registers for the upcoming RX or TX operation.
// Callers must hold d.mu.
func (d *Device) applyInvertIq(rx bool) {
	v := d.rd(REG_INVERTIQ) & INVERTIQ_RX_MASK & INVERTIQ_TX_MASK
	if d.settings.IQInverted {
		if rx {
			v |= INVERTIQ_RX_ON
		} else {
			v |= INVERTIQ_TX_ON
		}
		d.wr(REG_INVERTIQ, v)
		d.wr(REG_INVERTIQ2, INVERTIQ2_ON)
	} else {
		d.wr(REG_INVERTIQ, v)
		d.wr(REG_INVERTIQ2, INVERTIQ2_OFF)
	}
}

//===== Derived values

// TimeOnAir computes the on-air duration of a packet of the given payload length with the
// current settings, using the LoRa modem equations from the datasheet.
func (d *Device) TimeOnAir(payloadLen int) time.Duration {
	d.mu.Lock()
	s := d.settings
	modem := d.modem
	d.mu.Unlock()
	if modem != ModemLora {
		return 0
	}

	ts := float64(int(1)<<s.SpreadingFactor) / float64(s.Bandwidth.Hertz())
	tPreamble := (float64(s.PreambleLength) + 4.25) * ts

	var crc, ih, ldro float64
	if s.CrcOn {
		crc = 1
	}
	if s.ImplicitHeader {
		ih = 1
	}
	if s.LowDatarateOptimize {
		ldro = 1
	}
	num := 8*float64(payloadLen) - 4*float64(s.SpreadingFactor) + 28 + 16*crc - 20*(1-ih)
	den := 4 * (float64(s.SpreadingFactor) - 2*ldro)
	nPayload := 8.0
	if num > 0 {
		nPayload += math.Ceil(num/den) * float64(s.CodingRate+4)
	}
	tAir := tPreamble + nPayload*ts
	return time.Duration(math.Floor(tAir*1e6+0.999)) * time.Microsecond
}

// ReadRssi returns the instantaneous RSSI in dBm.
func (d *Device) ReadRssi() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.rd(REG_CURRSSI)
	return RSSI_OFFSET + int(v), d.busError()
}

// IsChannelFree tunes to freq, listens for a millisecond, and reports whether the
// measured RSSI stays at or below rssiThresh (dBm). The radio is left in sleep mode.
func (d *Device) IsChannelFree(freq uint32, rssiThresh int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setChannel(freq)
	d.setOpMode(MODE_RX_CONT)
	time.Sleep(time.Millisecond)
	rssi := RSSI_OFFSET + int(d.rd(REG_CURRSSI))
	d.setOpMode(MODE_SLEEP)
	return rssi <= rssiThresh, d.busError()
}

// Random produces a 32-bit random value from wideband RSSI noise. All interrupts are
// masked while the receiver runs, and the radio is left in sleep mode.
func (d *Device) Random() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.modem != ModemLora {
		d.setModem(ModemLora)
	}
	d.wr(REG_IRQMASK, IRQ_ALL)
	d.setOpMode(MODE_STANDBY)
	d.setOpMode(MODE_RX_CONT)
	var rnd uint32
	for i := uint(0); i < 32; i++ {
		time.Sleep(time.Millisecond)
		rnd |= uint32(d.rd(REG_RSSIWIDEBAND)&0x01) << i
	}
	d.setOpMode(MODE_SLEEP)
	return rnd, d.busError()
}

//===== Accessors

// Status returns what the radio is currently doing.
func (d *Device) Status() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Settings returns the active configuration, including the fields ConfigureLora adjusted.
func (d *Device) Settings() LoraSettings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// LastPacket returns the most recently received packet. Valid after an RxDone event.
func (d *Device) LastPacket() RxPacket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastPacket
}

// LastChannel returns the hop channel captured by the most recent frequency hop
// interrupt.
func (d *Device) LastChannel() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastChannel
}

// LastCadDetected reports whether the most recent channel activity detection cycle found
// activity. Valid after a CadDone or CadDetected event.
func (d *Device) LastCadDetected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastCadDetected
}

// OnEvent registers the callback that receives radio events, replacing any previous one.
func (d *Device) OnEvent(cb EventFunc) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

// SetLogger sets the log function used for debug output, nil disables logging.
func (d *Device) SetLogger(log LogPrintf) {
	d.mu.Lock()
	if log == nil {
		log = func(format string, v ...interface{}) {}
	}
	d.log = log
	d.mu.Unlock()
}

//===== Timeout timers

// armTxTimer starts the software TX watchdog. The timer posts a message to the worker
// instead of acting directly so timeouts and interrupts are handled by a single
// goroutine in arrival order. Callers must hold d.mu.
func (d *Device) armTxTimer(to time.Duration) {
	if d.txTimer != nil {
		d.txTimer.Stop()
		d.txTimer = nil
	}
	if to == 0 {
		return
	}
	d.txTimer = time.AfterFunc(to, func() { d.post(msgTxTimeout) })
}

func (d *Device) armRxTimer(to time.Duration) {
	if d.rxTimer != nil {
		d.rxTimer.Stop()
		d.rxTimer = nil
	}
	d.rxTimer = time.AfterFunc(to, func() { d.post(msgRxTimeout) })
}

// cancelTimers stops both watchdogs. A timer that already fired may still have a message
// in flight, the state check in its handler makes that harmless.
func (d *Device) cancelTimers() {
	if d.txTimer != nil {
		d.txTimer.Stop()
		d.txTimer = nil
	}
	if d.rxTimer != nil {
		d.rxTimer.Stop()
		d.rxTimer = nil
	}
}
