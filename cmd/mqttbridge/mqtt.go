// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mq is a handle onto an MQTT broker connection. It isolates the bridge code from the
// crazyness of the paho mqtt client.
type mq struct {
	conn mqtt.Client
}

// newMQ connects to a broker and returns a new mq object. The connection is persistent,
// i.e., re-establishes itself if there is a disconnect, and subscriptions get renewed
// after a reconnect.
func newMQ(conf MqttConfig) (*mq, error) {
	hostname, _ := os.Hostname()
	id := "mqttbridge-" + hostname
	mqtt.ERROR = log.New(os.Stderr, "", 0)
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", conf.Host, conf.Port))
	opts.ClientID = id
	opts.Username = conf.User
	opts.Password = conf.Password
	opts.AutoReconnect = true

	conn := mqtt.NewClient(opts)
	if token := conn.Connect(); !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect timeout")
	} else if token.Error() != nil {
		return nil, token.Error()
	}
	return &mq{conn: conn}, nil
}

// Publish JSON-encodes the payload and publishes it at QoS 1.
func (mq *mq) Publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	mq.conn.Publish(topic, 1, false, data)
	return nil
}

// Subscribe subscribes to a topic at QoS 1 and calls handler with each raw payload.
func (mq *mq) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	h := func(c mqtt.Client, m mqtt.Message) { handler(m.Topic(), m.Payload()) }
	if token := mq.conn.Subscribe(topic, 1, h); !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("subscribe timeout for %s", topic)
	} else if token.Error() != nil {
		return token.Error()
	}
	return nil
}
