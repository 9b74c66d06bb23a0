// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

// mqttbridge gateways LoRa packets to and from an MQTT broker. Received packets are
// published as JSON on <prefix>/rx, and JSON messages arriving on <prefix>/tx are
// transmitted over the air. The radio sits in continuous receive except while a
// transmission is in flight.
package main

import (
	"encoding/json"
	"flag"
	"time"

	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/chip"
	"github.com/sirupsen/logrus"
	"periph.io/x/host/v3"

	"github.com/tve/radios"
	"github.com/tve/radios/sx1272"
)

// rxMessage is published for each received packet. The payload is base64 in the JSON.
type rxMessage struct {
	Payload []byte    `json:"payload"`
	Rssi    int       `json:"rssi"`
	Snr     int       `json:"snr"`
	At      time.Time `json:"at"`
}

// txMessage is what arrives on the tx topic.
type txMessage struct {
	Payload []byte `json:"payload"`
}

func bandwidth(hz uint32, log *logrus.Logger) sx1272.Bandwidth {
	switch hz {
	case 125000:
		return sx1272.Bw125
	case 250000:
		return sx1272.Bw250
	case 500000:
		return sx1272.Bw500
	default:
		log.Fatalf("unsupported bandwidth %dHz", hz)
		return sx1272.Bw125
	}
}

func main() {
	configPath := flag.String("config", "mqttbridge.json5", "path to the config file")
	debug := flag.Bool("debug", false, "enable debug output")
	flag.Parse()

	log := logrus.New()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := readConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %s", err)
	}

	mq, err := newMQ(cfg.Mqtt)
	if err != nil {
		log.Fatalf("cannot connect to MQTT broker: %s", err)
	}
	log.Infof("MQTT connected to %s:%d", cfg.Mqtt.Host, cfg.Mqtt.Port)

	var spiPort radios.SPI
	var newPin func(name string) radios.GPIO
	switch cfg.Radio.Backend {
	case "", "periph":
		if _, err := host.Init(); err != nil {
			log.Fatalf("periph init: %s", err)
		}
		spiPort, err = radios.NewPeriphSPI(cfg.Radio.SPI)
		if err != nil {
			log.Fatalf("%s", err)
		}
		newPin = radios.NewPeriphGPIO
	case "embd":
		embd.InitGPIO()
		embd.InitSPI()
		spiPort = radios.NewSPI()
		newPin = radios.NewGPIO
	default:
		log.Fatalf("unknown backend %q", cfg.Radio.Backend)
	}
	pin := func(name string) radios.GPIO {
		if name == "" {
			return nil
		}
		p := newPin(name)
		if p == nil {
			log.Fatalf("cannot open pin %s", name)
		}
		return p
	}

	opts := &sx1272.Opts{
		Reset:    pin(cfg.Radio.Reset),
		RFSwitch: pin(cfg.Radio.RFSwitch),
		Channel:  cfg.Radio.Freq,
		Settings: sx1272.LoraSettings{
			Bandwidth:       bandwidth(cfg.Radio.BW, log),
			SpreadingFactor: cfg.Radio.SF,
			CodingRate:      sx1272.Cr45,
			PreambleLength:  8,
			CrcOn:           true,
			RxContinuous:    true,
			Power:           cfg.Radio.Power,
			SymbolTimeout:   64,
			TxTimeout:       5 * time.Second,
		},
		Logger: log.Debugf,
	}
	for i, name := range cfg.Radio.DIO {
		if i >= len(opts.DIO) {
			break
		}
		opts.DIO[i] = pin(name)
	}

	radio, err := sx1272.New(spiPort, opts)
	if err != nil {
		log.Fatalf("radio init: %s", err)
	}
	log.Infof("SX1272 ready: %dHz sf%d bw%d %ddBm",
		cfg.Radio.Freq, cfg.Radio.SF, cfg.Radio.BW, radio.Settings().Power)

	rxTopic := cfg.Prefix + "/rx"
	txTopic := cfg.Prefix + "/tx"

	radio.OnEvent(func(e sx1272.Event) {
		switch e {
		case sx1272.RxDone:
			pkt := radio.LastPacket()
			log.WithFields(logrus.Fields{
				"len": len(pkt.Payload), "rssi": pkt.Rssi, "snr": pkt.Snr,
			}).Info("packet received")
			msg := rxMessage{Payload: pkt.Payload, Rssi: pkt.Rssi, Snr: pkt.Snr, At: time.Now()}
			if err := mq.Publish(rxTopic, msg); err != nil {
				log.Errorf("publish: %s", err)
			}
		case sx1272.RxErrorCrc:
			log.Warn("packet with bad CRC dropped")
		case sx1272.TxDone, sx1272.TxTimeout:
			if e == sx1272.TxTimeout {
				log.Warn("transmission timed out")
			} else {
				log.Debug("transmission complete")
			}
			if err := radio.SetRx(0); err != nil {
				log.Errorf("cannot resume rx: %s", err)
			}
		default:
			log.Debugf("radio event: %v", e)
		}
	})

	err = mq.Subscribe(txTopic, func(topic string, payload []byte) {
		var m txMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			log.Errorf("bad tx message on %s: %s", topic, err)
			return
		}
		log.WithField("len", len(m.Payload)).Info("transmitting packet")
		if err := radio.Send(m.Payload); err != nil {
			log.Errorf("send: %s", err)
		}
	})
	if err != nil {
		log.Fatalf("subscribe: %s", err)
	}

	if err := radio.SetRx(0); err != nil {
		log.Fatalf("cannot start rx: %s", err)
	}
	log.Info("bridge is ready")
	select {}
}
