package events

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEmbeddedNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // random port
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(4 * time.Second) {
		t.Fatal("NATS server did not start in time")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestBus_PublishReachesSubscriber(t *testing.T) {
	ns := startEmbeddedNATS(t)

	bus, err := Connect(Config{URL: ns.ClientURL(), Name: "test"})
	require.NoError(t, err)
	defer bus.Close()

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	received := make(chan *nats.Msg, 1)
	_, err = nc.ChanSubscribe(SubjectDecisions, received)
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	payload := map[string]string{"action": "BUY", "instrument": "binance:BTC/USDT"}
	require.NoError(t, bus.Publish(SubjectDecisions, "decision", payload))

	select {
	case msg := <-received:
		var ev Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, "decision", ev.Kind)
		assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", ev.ID.String())

		var got map[string]string
		require.NoError(t, json.Unmarshal(ev.Payload, &got))
		assert.Equal(t, "BUY", got["action"])
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_NilBusIsSafe(t *testing.T) {
	var bus *Bus
	assert.NoError(t, bus.Publish(SubjectAgentState, "state", "IDLE"))
	bus.Close()
}
