// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package radios

// The interfaces in here exist to be able to switch between embd, periph.io, and test fakes
// without touching the chip drivers.

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/kidoman/embd"
)

// SPI is the serial bus transport used by the radio drivers. A transfer clocks the w buffer
// out while filling r with the bytes clocked in; both buffers must have the same length.
type SPI interface {
	Tx(w, r []byte) error
	Speed(hz int64) error
	Configure(mode int, bits int) error
	Close() error
}

const (
	SPIMode0 = 0x0 // CPOL=0, CPHA=0
	SPIMode1 = 0x1 // CPOL=0, CPHA=1
	SPIMode2 = 0x2 // CPOL=1, CPHA=0
	SPIMode3 = 0x3 // CPOL=1, CPHA=1
)

// GPIO is a discrete I/O line. In addition to plain input/output it supports registering an
// edge-interrupt callback that can be gated with Enable/Disable without unregistering it, which
// is what the radio drivers use to mask a chip's interrupt lines while the chip sleeps.
//
// The callback runs on whatever goroutine services the underlying edge notification; it must
// not block and must not touch the SPI bus.
type GPIO interface {
	In(edge int) error
	Out(level int)
	Read() int
	Watch(cb func()) error
	Unwatch()
	Enable()
	Disable()
	Number() int
}

const (
	GpioLow        = 0
	GpioHigh       = 1
	GpioNoEdge     = 0
	GpioRisingEdge = 1
)

//===== SPI shim for embd

func NewSPI() SPI {
	return &embdSPI{embd.NewSPIBus(embd.SPIMode0, 0, 4, 8, 0)}
}

type embdSPI struct {
	embd.SPIBus
}

func (s *embdSPI) Tx(w, r []byte) error {
	copy(r, w)
	return s.TransferAndReceiveData(r)
}

func (s *embdSPI) Speed(hz int64) error {
	if hz != 4000000 {
		return errors.New("SPI: sorry, only 4Mhz supported")
	}
	return nil
}

func (s *embdSPI) Configure(mode int, bits int) error {
	if mode != SPIMode0 {
		return errors.New("SPI: sorry, only SPI mode 0 supported")
	}
	if bits != 8 {
		return errors.New("SPI: sorry, only 8-bit mode supported")
	}
	return nil
}

//===== GPIO shim for embd

func NewGPIO(name string) GPIO {
	g, err := embd.NewDigitalPin(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "NewDigitalPin: %s\n", err)
		return nil
	}
	return &embdGPIO{p: g, dir: embd.In}
}

type embdGPIO struct {
	p       embd.DigitalPin
	dir     embd.Direction
	cb      func()
	enabled int32 // atomic, gates cb invocation
}

func (g *embdGPIO) In(edge int) error {
	if err := g.p.SetDirection(embd.In); err != nil {
		return err
	}
	g.dir = embd.In
	return nil
}

func (g *embdGPIO) Out(level int) {
	if g.dir != embd.Out {
		g.p.SetDirection(embd.Out)
		g.dir = embd.Out
	}
	g.p.Write(level)
}

func (g *embdGPIO) Read() int {
	v, _ := g.p.Read()
	return v
}

func (g *embdGPIO) Watch(cb func()) error {
	if err := g.p.SetDirection(embd.In); err != nil {
		return err
	}
	g.dir = embd.In
	g.cb = cb
	atomic.StoreInt32(&g.enabled, 1)
	return g.p.Watch(embd.EdgeRising, g.edgeCB)
}

func (g *embdGPIO) Unwatch() {
	g.p.StopWatching()
	g.cb = nil
}

func (g *embdGPIO) Enable()  { atomic.StoreInt32(&g.enabled, 1) }
func (g *embdGPIO) Disable() { atomic.StoreInt32(&g.enabled, 0) }

func (g *embdGPIO) Number() int {
	return g.p.N()
}

func (g *embdGPIO) edgeCB(embd.DigitalPin) {
	if atomic.LoadInt32(&g.enabled) != 0 && g.cb != nil {
		g.cb()
	}
}
