// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package sx1272

import (
	"bytes"
	"testing"
	"time"
)

func TestSnrDecode(t *testing.T) {
	tests := []struct {
		raw  byte
		want int
	}{
		{0x00, 0},
		{0x04, 1},
		{0x28, 10},
		{0xFC, -1},
		{0xD0, -12},
		{0x80, -32},
	}
	for _, tt := range tests {
		if got := decodeSnr(tt.raw); got != tt.want {
			t.Errorf("decodeSnr(%#x)=%d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestRxDone(t *testing.T) {
	r := newTestRig(t, defaultSettings(), 868000000)
	if err := r.d.SetRx(0); err != nil {
		t.Fatalf("SetRx: %s", err)
	}
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	r.spi.Lock()
	copy(r.spi.fifo[16:], payload)
	r.spi.regs[REG_FIFORXCURR] = 16
	r.spi.regs[REG_RXNBBYTES] = byte(len(payload))
	r.spi.regs[REG_PKTSNR] = 0x10 // +4dB
	r.spi.regs[REG_PKTRSSI] = 100
	r.spi.regs[REG_IRQFLAGS] = IRQ_RXDONE | IRQ_VALIDHDR
	r.spi.Unlock()

	r.dio[0].fire()
	r.expectEvent(t, RxDone)

	pkt := r.d.LastPacket()
	if !bytes.Equal(pkt.Payload, payload) {
		t.Errorf("payload=%x, want %x", pkt.Payload, payload)
	}
	if pkt.Snr != 4 {
		t.Errorf("snr=%d, want 4", pkt.Snr)
	}
	if pkt.Rssi != -33 { // -139 + 100 + 100/16
		t.Errorf("rssi=%d, want -33", pkt.Rssi)
	}
	if got := r.d.Status(); got != Idle {
		t.Errorf("state=%d, want Idle after single-shot rx", got)
	}
}

func TestRxDoneNegativeSnr(t *testing.T) {
	r := newTestRig(t, defaultSettings(), 868000000)
	if err := r.d.SetRx(0); err != nil {
		t.Fatalf("SetRx: %s", err)
	}
	r.spi.Lock()
	r.spi.regs[REG_RXNBBYTES] = 1
	r.spi.regs[REG_PKTSNR] = 0xFC // -1dB
	r.spi.regs[REG_PKTRSSI] = 100
	r.spi.regs[REG_IRQFLAGS] = IRQ_RXDONE
	r.spi.Unlock()

	r.dio[0].fire()
	r.expectEvent(t, RxDone)

	pkt := r.d.LastPacket()
	if pkt.Snr != -1 {
		t.Errorf("snr=%d, want -1", pkt.Snr)
	}
	if pkt.Rssi != -34 { // the snr correction applies below the noise floor
		t.Errorf("rssi=%d, want -34", pkt.Rssi)
	}
}

func TestRxCrcError(t *testing.T) {
	r := newTestRig(t, defaultSettings(), 868000000)
	if err := r.d.SetRx(0); err != nil {
		t.Fatalf("SetRx: %s", err)
	}
	r.spi.Lock()
	r.spi.regs[REG_IRQFLAGS] = IRQ_RXDONE | IRQ_CRCERR
	r.spi.Unlock()

	r.dio[0].fire()
	r.expectEvent(t, RxErrorCrc)

	if got := r.d.Status(); got != Idle {
		t.Errorf("state=%d, want Idle", got)
	}
	if got := r.spi.reg(REG_IRQFLAGS) & IRQ_CRCERR; got != 0 {
		t.Errorf("crc error flag not cleared")
	}
}

func TestRxContinuousStaysRunning(t *testing.T) {
	s := defaultSettings()
	s.RxContinuous = true
	r := newTestRig(t, s, 868000000)
	if err := r.d.SetRx(0); err != nil {
		t.Fatalf("SetRx: %s", err)
	}
	r.spi.Lock()
	r.spi.regs[REG_RXNBBYTES] = 1
	r.spi.regs[REG_IRQFLAGS] = IRQ_RXDONE
	r.spi.Unlock()

	r.dio[0].fire()
	r.expectEvent(t, RxDone)

	if got := r.d.Status(); got != RxRunning {
		t.Errorf("state=%d, want RxRunning in continuous mode", got)
	}
}

func TestTxDone(t *testing.T) {
	s := defaultSettings()
	s.TxTimeout = time.Hour
	r := newTestRig(t, s, 868000000)
	if err := r.d.Send([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Send: %s", err)
	}
	r.dio[0].fire()
	r.expectEvent(t, TxDone)
	if got := r.d.Status(); got != Idle {
		t.Errorf("state=%d, want Idle", got)
	}
	// exactly one event: the watchdog was cancelled
	r.expectNoEvent(t)
}

func TestTxTimeout(t *testing.T) {
	s := defaultSettings()
	s.TxTimeout = 10 * time.Millisecond
	r := newTestRig(t, s, 868000000)
	if err := r.d.Send([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Send: %s", err)
	}
	r.expectEvent(t, TxTimeout)
	if got := r.d.Status(); got != Idle {
		t.Errorf("state=%d, want Idle", got)
	}
	if got := r.spi.reg(REG_OPMODE) & 0x07; got != MODE_STANDBY {
		t.Errorf("mode=%d, want standby after timeout", got)
	}
}

func TestRxSoftTimeout(t *testing.T) {
	r := newTestRig(t, defaultSettings(), 868000000)
	if err := r.d.SetRx(10 * time.Millisecond); err != nil {
		t.Fatalf("SetRx: %s", err)
	}
	r.expectEvent(t, RxTimeout)
	if got := r.d.Status(); got != Idle {
		t.Errorf("state=%d, want Idle", got)
	}
}

func TestRxChipTimeout(t *testing.T) {
	r := newTestRig(t, defaultSettings(), 868000000)
	if err := r.d.SetRx(0); err != nil {
		t.Fatalf("SetRx: %s", err)
	}
	r.spi.Lock()
	r.spi.regs[REG_IRQFLAGS] = IRQ_RXTIMEOUT
	r.spi.Unlock()
	r.dio[1].fire()
	r.expectEvent(t, RxTimeout)
	if got := r.spi.reg(REG_IRQFLAGS) & IRQ_RXTIMEOUT; got != 0 {
		t.Errorf("rx timeout flag not cleared")
	}
}

func TestStaleTimeoutIgnored(t *testing.T) {
	s := defaultSettings()
	s.TxTimeout = time.Hour
	r := newTestRig(t, s, 868000000)
	if err := r.d.Send([]byte{1}); err != nil {
		t.Fatalf("Send: %s", err)
	}
	r.dio[0].fire()
	r.expectEvent(t, TxDone)
	// a timeout message that raced with completion must be dropped
	r.d.post(msgTxTimeout)
	r.expectNoEvent(t)
}

func TestFhssChangeChannel(t *testing.T) {
	s := defaultSettings()
	s.FreqHopOn = true
	s.HopPeriod = 4
	r := newTestRig(t, s, 868000000)
	if err := r.d.SetRx(0); err != nil {
		t.Fatalf("SetRx: %s", err)
	}
	r.spi.Lock()
	r.spi.regs[REG_HOPCHANNEL] = 0x42 // pll timeout bit set, channel 2
	r.spi.regs[REG_IRQFLAGS] = IRQ_FHSCHG
	r.spi.Unlock()

	r.dio[2].fire()
	r.expectEvent(t, FhssChangeChannel)
	if got := r.d.LastChannel(); got != 2 {
		t.Errorf("hop channel=%d, want 2", got)
	}
}

func TestFhssIgnoredWhenIdle(t *testing.T) {
	s := defaultSettings()
	s.FreqHopOn = true
	r := newTestRig(t, s, 868000000)
	r.dio[2].fire()
	r.expectNoEvent(t)
}

func TestCadDone(t *testing.T) {
	r := newTestRig(t, defaultSettings(), 868000000)
	if err := r.d.StartCad(CadModeDone); err != nil {
		t.Fatalf("StartCad: %s", err)
	}
	want := byte(IRQ_ALL &^ (IRQ_CADDONE | IRQ_CADDETECT))
	if got := r.spi.reg(REG_IRQMASK); got != want {
		t.Errorf("irq mask=%#x, want %#x", got, want)
	}
	r.spi.Lock()
	r.spi.regs[REG_IRQFLAGS] = IRQ_CADDONE | IRQ_CADDETECT
	r.spi.Unlock()
	r.dio[3].fire()
	r.expectEvent(t, CadDone)
	if !r.d.LastCadDetected() {
		t.Errorf("activity not recorded")
	}
	if got := r.d.Status(); got != Idle {
		t.Errorf("state=%d, want Idle", got)
	}
}

func TestCadDetected(t *testing.T) {
	r := newTestRig(t, defaultSettings(), 868000000)
	if err := r.d.StartCad(CadModeDetected); err != nil {
		t.Fatalf("StartCad: %s", err)
	}
	r.spi.Lock()
	r.spi.regs[REG_IRQFLAGS] = IRQ_CADDONE | IRQ_CADDETECT
	r.spi.Unlock()
	r.dio[4].fire()
	r.expectEvent(t, CadDetected)
	if !r.d.LastCadDetected() {
		t.Errorf("activity not recorded")
	}
}

func TestCadNoActivity(t *testing.T) {
	r := newTestRig(t, defaultSettings(), 868000000)
	if err := r.d.StartCad(CadModeDone); err != nil {
		t.Fatalf("StartCad: %s", err)
	}
	r.spi.Lock()
	r.spi.regs[REG_IRQFLAGS] = IRQ_CADDONE
	r.spi.Unlock()
	r.dio[3].fire()
	r.expectEvent(t, CadDone)
	if r.d.LastCadDetected() {
		t.Errorf("activity recorded on a quiet channel")
	}
}

func TestSleepMasksInterrupts(t *testing.T) {
	r := newTestRig(t, defaultSettings(), 868000000)
	if err := r.d.SetSleep(); err != nil {
		t.Fatalf("SetSleep: %s", err)
	}
	// edges on a sleeping radio's pins must not produce events
	r.dio[0].fire()
	r.dio[3].fire()
	r.expectNoEvent(t)

	// waking up re-enables the lines
	if err := r.d.StartCad(CadModeDone); err != nil {
		t.Fatalf("StartCad: %s", err)
	}
	r.spi.Lock()
	r.spi.regs[REG_IRQFLAGS] = IRQ_CADDONE
	r.spi.Unlock()
	r.dio[3].fire()
	r.expectEvent(t, CadDone)
}

func TestQueueDrop(t *testing.T) {
	d := &Device{
		msgQ: make(chan uint32, msgQueueDepth),
		log:  func(format string, v ...interface{}) {},
	}
	for i := 0; i < 2*msgQueueDepth; i++ {
		d.post(msgDio0)
	}
	if got := len(d.msgQ); got != msgQueueDepth {
		t.Errorf("queue length=%d, want %d", got, msgQueueDepth)
	}
}

func TestSetLoggerDuringInterrupts(t *testing.T) {
	r := newTestRig(t, defaultSettings(), 868000000)
	done := make(chan struct{})
	go func() {
		defer close(done)
		// more posts than the queue holds so the drop path logs
		for i := 0; i < 200; i++ {
			r.d.post(msgDio5)
		}
	}()
	for i := 0; i < 200; i++ {
		r.d.SetLogger(func(format string, v ...interface{}) {})
	}
	<-done
}

func TestEventString(t *testing.T) {
	if got := TxDone.String(); got != "TxDone" {
		t.Errorf("TxDone.String()=%q", got)
	}
	if got := Event(99).String(); got != "Event(99)" {
		t.Errorf("Event(99).String()=%q", got)
	}
}
