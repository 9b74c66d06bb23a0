// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/tve/radios"
	"github.com/tve/radios/spimux"
	"github.com/tve/radios/sx1272"
	"github.com/tve/radios/thread"
)

func panicIf(err error) {
	if err != nil {
		panic(err)
	}
}

func pin(name string) radios.GPIO {
	if name == "" {
		return nil
	}
	p := radios.NewPeriphGPIO(name)
	if p == nil {
		panic("cannot open pin " + name)
	}
	return p
}

func main() {
	spiName := flag.String("spi", "", "SPI port name, empty picks the first available")
	resetName := flag.String("reset", "GPIO17", "reset pin name, empty if hardwired")
	rfswName := flag.String("rfsw", "", "antenna switch pin name, empty if absent")
	muxName := flag.String("muxpin", "", "chip select mux pin name, empty for a direct CS")
	dio0Name := flag.String("dio0", "GPIO4", "DIO0 interrupt pin name")
	dio1Name := flag.String("dio1", "GPIO5", "DIO1 interrupt pin name")
	freq := flag.Uint("freq", 868000000, "center frequency in Hz")
	power := flag.Int("power", 14, "TX power in dBm")
	sf := flag.Uint("sf", 7, "spreading factor, 7..12")
	debug := flag.Bool("debug", false, "enable driver debug output")
	rt := flag.Bool("rt", false, "run at realtime scheduling priority")
	flag.Parse()

	if *rt {
		panicIf(thread.Realtime())
	}
	_, err := host.Init()
	panicIf(err)

	var spiPort radios.SPI
	if *muxName == "" {
		spiPort, err = radios.NewPeriphSPI(*spiName)
		panicIf(err)
	} else {
		// the radio shares the bus's single CS with another device behind a demux
		port, err := spireg.Open(*spiName)
		panicIf(err)
		conn, err := port.Connect(4*physic.MegaHertz, spi.Mode0, 8)
		panicIf(err)
		sel := gpioreg.ByName(*muxName)
		if sel == nil {
			panic("cannot open pin " + *muxName)
		}
		radioConn, _ := spimux.New(conn, sel)
		spiPort = radios.WrapPeriphConn(radioConn)
	}

	doTx := flag.Arg(0) == "tx"
	opts := &sx1272.Opts{
		Reset:    pin(*resetName),
		RFSwitch: pin(*rfswName),
		Channel:  uint32(*freq),
		Settings: sx1272.LoraSettings{
			Bandwidth:       sx1272.Bw125,
			SpreadingFactor: uint8(*sf),
			CodingRate:      sx1272.Cr45,
			PreambleLength:  8,
			CrcOn:           true,
			Power:           int8(*power),
			SymbolTimeout:   64,
			RxContinuous:    !doTx,
			TxTimeout:       3 * time.Second,
		},
	}
	opts.DIO[0] = pin(*dio0Name)
	opts.DIO[1] = pin(*dio1Name)
	if *debug {
		opts.Logger = log.Printf
	}

	log.Printf("Initializing SX1272 radio...")
	t0 := time.Now()
	radio, err := sx1272.New(spiPort, opts)
	panicIf(err)
	events := make(chan sx1272.Event, 8)
	radio.OnEvent(func(e sx1272.Event) { events <- e })
	log.Printf("Ready (%.1fms)", time.Since(t0).Seconds()*1000)

	if doTx {
		for i := 1; i <= 2; i++ {
			msg := fmt.Sprintf("\x01Hello %03d", i)
			log.Printf("Sending packet %d, %s on-air...", i, radio.TimeOnAir(len(msg)))
			t0 = time.Now()
			panicIf(radio.Send([]byte(msg)))
			ev := <-events
			log.Printf("%v in %.1fms", ev, time.Since(t0).Seconds()*1000)
			time.Sleep(100 * time.Millisecond)
		}
		log.Printf("Bye...")
		return
	}

	log.Printf("Receiving packets ...")
	panicIf(radio.SetRx(0))
	for ev := range events {
		switch ev {
		case sx1272.RxDone:
			pkt := radio.LastPacket()
			log.Printf("Got len=%d snr=%ddB rssi=%ddBm %q",
				len(pkt.Payload), pkt.Snr, pkt.Rssi, string(pkt.Payload))
		default:
			log.Printf("Event: %v", ev)
		}
	}
}
