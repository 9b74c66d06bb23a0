// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package radios

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

//===== SPI shim for periph.io

// NewPeriphSPI opens the named SPI port via periph.io and connects to it at 4Mhz in mode 0,
// which is what the radio chips expect. periph.io/x/host/v3 must have been initialized by the
// caller (host.Init).
func NewPeriphSPI(name string) (SPI, error) {
	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("spi: cannot open %s: %w", name, err)
	}
	conn, err := port.Connect(4*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("spi: cannot connect to %s: %w", name, err)
	}
	return &periphSPI{port: port, conn: conn}, nil
}

// WrapPeriphConn adapts an existing periph.io spi.Conn, for example one half of a spimux,
// to the SPI interface. Close is a no-op since the underlying port is not owned.
func WrapPeriphConn(conn spi.Conn) SPI {
	return &periphSPI{conn: conn}
}

type periphSPI struct {
	port spi.PortCloser
	conn spi.Conn
}

func (s *periphSPI) Tx(w, r []byte) error { return s.conn.Tx(w, r) }

func (s *periphSPI) Speed(hz int64) error {
	// The speed is fixed at Connect time.
	if hz != 4000000 {
		return errors.New("spi: sorry, only 4Mhz supported")
	}
	return nil
}

func (s *periphSPI) Configure(mode int, bits int) error {
	if mode != SPIMode0 {
		return errors.New("spi: sorry, only SPI mode 0 supported")
	}
	if bits != 8 {
		return errors.New("spi: sorry, only 8-bit mode supported")
	}
	return nil
}

func (s *periphSPI) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}

//===== GPIO shim for periph.io

// NewPeriphGPIO looks the named pin up in the periph.io gpio registry. It returns nil if the
// pin does not exist.
func NewPeriphGPIO(name string) GPIO {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil
	}
	return &periphGPIO{p: p}
}

type periphGPIO struct {
	p       gpio.PinIO
	cb      func()
	enabled int32 // atomic, gates cb invocation
	stop    chan struct{}
}

func (g *periphGPIO) In(edge int) error {
	e := []gpio.Edge{gpio.NoEdge, gpio.RisingEdge}[edge&1]
	return g.p.In(gpio.Float, e)
}

func (g *periphGPIO) Out(level int) {
	g.p.Out(level == GpioHigh)
}

func (g *periphGPIO) Read() int {
	if g.p.Read() == gpio.High {
		return GpioHigh
	}
	return GpioLow
}

// Watch converts periph's WaitForEdge into callback invocations using a pump goroutine.
// The timeout in the loop exists so the goroutine notices Unwatch.
func (g *periphGPIO) Watch(cb func()) error {
	if g.stop != nil {
		g.Unwatch()
	}
	if err := g.p.In(gpio.Float, gpio.RisingEdge); err != nil {
		return err
	}
	g.cb = cb
	atomic.StoreInt32(&g.enabled, 1)
	stop := make(chan struct{})
	g.stop = stop
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if g.p.WaitForEdge(time.Second) || g.p.Read() == gpio.High {
				if atomic.LoadInt32(&g.enabled) != 0 {
					cb()
				}
			}
		}
	}()
	return nil
}

func (g *periphGPIO) Unwatch() {
	if g.stop != nil {
		close(g.stop)
		g.stop = nil
	}
	g.cb = nil
	g.p.In(gpio.Float, gpio.NoEdge)
}

func (g *periphGPIO) Enable()  { atomic.StoreInt32(&g.enabled, 1) }
func (g *periphGPIO) Disable() { atomic.StoreInt32(&g.enabled, 0) }

func (g *periphGPIO) Number() int { return g.p.Number() }
