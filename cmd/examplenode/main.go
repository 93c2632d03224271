// Command examplenode is a minimal end-to-end exercise of advertise,
// subscribe, and publish against a running ROS master, adapted from the
// teacher's test/test_publish_subscribe harness. It is not a roscore
// implementation (master/parameter-server implementation is out of scope).
package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/team-rocos/ros1node/ros"
)

// boolMessage is a hand-rolled std_msgs/Bool, standing in for the
// generated message code the real message-definition parser would supply.
type boolMessage struct {
	Data bool
}

func (m *boolMessage) Serialize(w io.Writer) error {
	var b byte
	if m.Data {
		b = 1
	}
	_, err := w.Write([]byte{b})
	return err
}

func (m *boolMessage) Deserialize(r io.Reader) error {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	m.Data = buf[0] != 0
	return nil
}

type boolMessageType struct{}

func (boolMessageType) Text() string      { return "bool data" }
func (boolMessageType) MD5Sum() string    { return "8b94c1b53db61fb6aed406028ad6332a" }
func (boolMessageType) Name() string      { return "std_msgs/Bool" }
func (boolMessageType) NewMessage() ros.Message { return &boolMessage{} }

func main() {
	mode := flag.String("mode", "talker", "talker or listener")
	topic := flag.String("topic", "/chatter", "topic to advertise or subscribe to")
	flag.Parse()

	n, err := ros.NewNode("examplenode", os.Args[1:])
	if err != nil {
		log.Fatalf("NewNode: %v", err)
	}
	defer n.Shutdown()

	switch *mode {
	case "talker":
		runTalker(n, *topic)
	case "listener":
		runListener(n, *topic)
	default:
		log.Fatalf("unknown -mode %q (want talker or listener)", *mode)
	}
}

func runTalker(n *ros.Node, topic string) {
	pub, err := n.Advertise(topic, boolMessageType{}.Name(), true, boolMessageType{}.Text(), boolMessageType{}.MD5Sum(), boolMessageType{})
	if err != nil {
		log.Fatalf("Advertise(%s): %v", topic, err)
	}
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	value := false
	for range ticker.C {
		value = !value
		var buf bytes.Buffer
		if err := binary.Write(&buf, binary.LittleEndian, value); err != nil {
			log.Printf("encode: %v", err)
			continue
		}
		if err := pub.Publish(buf.Bytes()); err != nil {
			log.Printf("publish: %v", err)
		}
	}
}

func runListener(n *ros.Node, topic string) {
	sub, err := n.Subscribe(topic, boolMessageType{}.Name(), boolMessageType{}.MD5Sum(), false)
	if err != nil {
		log.Fatalf("Subscribe(%s): %v", topic, err)
	}
	sub.OnMessage(func(raw []byte, evt ros.MessageEvent) {
		log.Printf("%s: received %d bytes from %s", topic, len(raw), evt.PublisherName)
	})
	select {}
}
