package bridge

import (
	"net/url"
	"strings"
	"sync"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

// Handler is the callback when a message is received.
type Handler func(topic string, payload []byte)

// Broker is the part of an MQTT client the bridge uses.
// Topics are relative to the broker's topic prefix.
type Broker interface {
	Subscribe(topic string, handler Handler) error
	Publish(topic string, payload []byte) error
}

// PahoBroker implements Broker with the paho MQTT client.
type PahoBroker struct {
	Client      paho.Client
	TopicPrefix string

	subsLock sync.RWMutex
	subs     map[string]Handler
}

// ClientOptionsFromURL creates ClientOptions from URL.
// The URL path becomes the topic prefix: mqtt://host:1883/cnc/ gives "cnc/".
func ClientOptionsFromURL(serverURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, "", err
	}
	var server string
	if u.Scheme == "" || u.Scheme == "mqtt" {
		server = "tcp"
	} else {
		server = u.Scheme
	}
	server += "://" + u.Host

	topicPrefix := strings.TrimPrefix(u.Path, "/")

	opts := paho.NewClientOptions()
	opts.AddBroker(server).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}

	if clientID := u.Query().Get("client-id"); clientID != "" {
		opts.SetClientID(clientID)
	}

	return opts, topicPrefix, nil
}

// OnlineTopic carries the retained "true"/"false" bridge presence.
const OnlineTopic = "online"

// DefaultClientID derives a client ID stable across restarts of this machine.
func DefaultClientID() string {
	id, err := machineid.ProtectedID("pulsgen")
	if err != nil {
		glog.Warningf("machine id: %v", err)
		return "pulsgen"
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return "pulsgen:" + id
}

// NewPahoBroker creates a broker client from URL. Call Connect before use.
func NewPahoBroker(brokerURL string) (*PahoBroker, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	if opts.ClientID == "" {
		opts.SetClientID(DefaultClientID())
	}
	opts.SetBinaryWill(topicPrefix+OnlineTopic, []byte("false"), 1, true)
	b := &PahoBroker{
		TopicPrefix: topicPrefix,
		subs:        make(map[string]Handler),
	}
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(b.onConnectionLost)
	b.Client = paho.NewClient(opts)
	return b, nil
}

// Connect connects the client and waits for the result.
func (b *PahoBroker) Connect() error {
	token := b.Client.Connect()
	token.Wait()
	return token.Error()
}

// Close implements io.Closer.
func (b *PahoBroker) Close() error {
	b.Client.Publish(b.TopicPrefix+OnlineTopic, 1, true, []byte("false")).Wait()
	b.Client.Disconnect(250)
	return nil
}

// Subscribe implements Broker. Subscriptions survive reconnects.
func (b *PahoBroker) Subscribe(topic string, handler Handler) error {
	b.subsLock.Lock()
	b.subs[topic] = handler
	b.subsLock.Unlock()

	if !b.Client.IsConnected() {
		return nil
	}
	return b.subscribe(topic, handler)
}

func (b *PahoBroker) subscribe(topic string, handler Handler) error {
	if glog.V(2) {
		glog.Infof("SUB %q", b.TopicPrefix+topic)
	}
	token := b.Client.Subscribe(b.TopicPrefix+topic, 0, func(c paho.Client, msg paho.Message) {
		if t := msg.Topic(); strings.HasPrefix(t, b.TopicPrefix) {
			glog.V(2).Infof("RCV %q", t)
			handler(t[len(b.TopicPrefix):], msg.Payload())
		}
	})
	token.Wait()
	return token.Error()
}

// Publish implements Broker.
func (b *PahoBroker) Publish(topic string, payload []byte) error {
	token := b.Client.Publish(b.TopicPrefix+topic, 0, false, payload)
	token.Wait()
	return token.Error()
}

func (b *PahoBroker) onConnect(c paho.Client) {
	glog.Info("mqtt connected")
	c.Publish(b.TopicPrefix+OnlineTopic, 1, true, []byte("true"))
	b.subsLock.RLock()
	defer b.subsLock.RUnlock()
	for topic, handler := range b.subs {
		if err := b.subscribe(topic, handler); err != nil {
			glog.Warningf("subscribe %q: %v", topic, err)
		}
	}
}

func (b *PahoBroker) onConnectionLost(c paho.Client, err error) {
	glog.Warningf("mqtt connection lost: %v", err)
}
