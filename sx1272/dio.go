// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package sx1272

import "fmt"

// Interrupt handling. The DIO pin callbacks and the timeout timers run on goroutines
// where touching the SPI bus or the driver state would race, so all they do is post a
// small message into a buffered queue. A single worker goroutine drains the queue and
// performs the actual handling, which keeps interrupts and timeouts strictly ordered.

const (
	msgDio0 = iota
	msgDio1
	msgDio2
	msgDio3
	msgDio4
	msgDio5
	msgTxTimeout
	msgRxTimeout
	msgQuit

	msgQueueDepth = 8
)

// post enqueues a message for the worker. When the queue is full the message is dropped,
// an interrupt whose handling is already 8 events behind is stale anyway. The logger is
// fetched under the lock, post runs on pin and timer goroutines that race SetLogger.
func (d *Device) post(m uint32) {
	select {
	case d.msgQ <- m:
	default:
		d.mu.Lock()
		log := d.log
		d.mu.Unlock()
		log("sx1272: interrupt queue full, dropping message %d", m)
	}
}

// initIsrs registers an edge callback on each wired DIO pin.
func (d *Device) initIsrs() error {
	for i, p := range d.dio {
		if p == nil {
			continue
		}
		m := uint32(i)
		if err := p.Watch(func() { d.post(m) }); err != nil {
			return fmt.Errorf("sx1272: cannot watch DIO%d: %v", i, err)
		}
	}
	return nil
}

func (d *Device) worker() {
	for m := range d.msgQ {
		switch m {
		case msgDio0:
			d.onDio0()
		case msgDio1:
			d.onDio1()
		case msgDio2:
			d.onDio2()
		case msgDio3:
			d.onDio3()
		case msgDio4:
			d.onDio4()
		case msgDio5:
			// ModeReady / ClkOut, nothing to do
		case msgTxTimeout:
			d.onTxTimeout()
		case msgRxTimeout:
			d.onRxTimeout()
		case msgQuit:
			return
		}
	}
}

// sendEvent delivers ev to the registered callback, if any. Must be called without d.mu
// held so the callback can call back into the driver.
func (d *Device) sendEvent(ev Event) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// onDio0 handles packet completion: RxDone while receiving, TxDone while transmitting.
func (d *Device) onDio0() {
	d.mu.Lock()
	switch d.state {
	case RxRunning:
		d.wr(REG_IRQFLAGS, IRQ_RXDONE)
		if d.rd(REG_IRQFLAGS)&IRQ_CRCERR != 0 {
			d.wr(REG_IRQFLAGS, IRQ_CRCERR)
			if !d.settings.RxContinuous {
				d.state = Idle
			}
			d.cancelTimers()
			d.mu.Unlock()
			d.sendEvent(RxErrorCrc)
			return
		}
		snr := decodeSnr(d.rd(REG_PKTSNR))
		raw := int(d.rd(REG_PKTRSSI))
		rssi := RSSI_OFFSET + raw + raw>>4
		if snr < 0 {
			rssi += snr
		}
		size := int(d.rd(REG_RXNBBYTES))
		if !d.settings.RxContinuous {
			d.state = Idle
		}
		d.cancelTimers()
		d.wr(REG_FIFOADDRPTR, d.rd(REG_FIFORXCURR))
		buf := make([]byte, size)
		d.readFifo(buf)
		d.lastPacket = RxPacket{Payload: buf, Rssi: rssi, Snr: snr}
		d.log("sx1272: rx %d bytes, rssi=%ddBm snr=%ddB", size, rssi, snr)
		d.mu.Unlock()
		d.sendEvent(RxDone)
	case TxRunning:
		d.cancelTimers()
		d.wr(REG_IRQFLAGS, IRQ_TXDONE)
		d.state = Idle
		d.mu.Unlock()
		d.sendEvent(TxDone)
	default:
		d.mu.Unlock()
	}
}

// onDio1 handles the chip's RX symbol timeout in single-shot receive mode.
func (d *Device) onDio1() {
	d.mu.Lock()
	if d.state != RxRunning {
		d.mu.Unlock()
		return
	}
	d.wr(REG_IRQFLAGS, IRQ_RXTIMEOUT)
	d.state = Idle
	d.cancelTimers()
	d.mu.Unlock()
	d.sendEvent(RxTimeout)
}

// onDio2 handles frequency hop interrupts, caching the next hop channel for LastChannel.
func (d *Device) onDio2() {
	d.mu.Lock()
	if !d.settings.FreqHopOn || (d.state != RxRunning && d.state != TxRunning) {
		d.mu.Unlock()
		return
	}
	d.wr(REG_IRQFLAGS, IRQ_FHSCHG)
	d.lastChannel = d.rd(REG_HOPCHANNEL) & HOPCHANNEL_MASK
	d.mu.Unlock()
	d.sendEvent(FhssChangeChannel)
}

func (d *Device) onDio3() { d.finishCad(CadDone) }
func (d *Device) onDio4() { d.finishCad(CadDetected) }

// finishCad completes a channel activity detection cycle started by StartCad.
func (d *Device) finishCad(ev Event) {
	d.mu.Lock()
	if d.state != Cad {
		d.mu.Unlock()
		return
	}
	flags := d.rd(REG_IRQFLAGS)
	d.wr(REG_IRQFLAGS, IRQ_CADDONE|IRQ_CADDETECT)
	d.lastCadDetected = flags&IRQ_CADDETECT != 0
	d.state = Idle
	d.mu.Unlock()
	d.sendEvent(ev)
}

func (d *Device) onTxTimeout() {
	d.mu.Lock()
	if d.state != TxRunning {
		// the transmission completed while the timeout message was queued
		d.mu.Unlock()
		return
	}
	d.cancelTimers()
	d.state = Idle
	d.setOpMode(MODE_STANDBY)
	d.mu.Unlock()
	d.sendEvent(TxTimeout)
}

func (d *Device) onRxTimeout() {
	d.mu.Lock()
	if d.state != RxRunning {
		d.mu.Unlock()
		return
	}
	d.cancelTimers()
	d.state = Idle
	d.setOpMode(MODE_STANDBY)
	d.mu.Unlock()
	d.sendEvent(RxTimeout)
}

// decodeSnr converts the raw packet SNR register value, a signed quarter-dB count, to
// whole dB.
func decodeSnr(raw byte) int {
	if raw&0x80 != 0 {
		return -int((^raw + 1) >> 2)
	}
	return int(raw >> 2)
}
