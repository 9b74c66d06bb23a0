// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

package main

import (
	"fmt"
	"os"

	"github.com/flynn/json5"
)

// MqttConfig describes the broker connection.
type MqttConfig struct {
	Host     string
	Port     int
	User     string
	Password string
}

// RadioConfig describes the radio wiring and the LoRa parameters. DIO lists the pin
// names for DIO0..DIO5, trailing unconnected lines can be omitted.
type RadioConfig struct {
	Backend  string // "periph" (default) or "embd"
	SPI      string
	Reset    string
	RFSwitch string
	DIO      []string
	Freq     uint32 // center frequency in Hz
	SF       uint8  // spreading factor, 7..12
	BW       uint32 // bandwidth in Hz: 125000, 250000, or 500000
	Power    int8   // TX power in dBm
}

// Config is the top level of the json5 config file.
type Config struct {
	Mqtt   MqttConfig
	Radio  RadioConfig
	Prefix string // MQTT topic prefix, packets flow on <prefix>/rx and <prefix>/tx
}

func readConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c := &Config{
		Mqtt:   MqttConfig{Host: "localhost", Port: 1883},
		Radio:  RadioConfig{Freq: 868000000, SF: 7, BW: 125000, Power: 14},
		Prefix: "lora",
	}
	if err := json5.NewDecoder(f).Decode(c); err != nil {
		return nil, fmt.Errorf("cannot parse %s: %s", path, err)
	}
	return c, nil
}
