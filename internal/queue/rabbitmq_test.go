package queue

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestRelayForwardsJobIDs(t *testing.T) {
	msgs := make(chan amqp.Delivery, 2)
	out := make(chan Delivery, 2)
	done := make(chan struct{})

	msgs <- amqp.Delivery{Body: []byte("job-1")}
	msgs <- amqp.Delivery{Body: []byte("job-2")}
	close(msgs)

	relay(msgs, out, done)

	var got []string
	for d := range out {
		got = append(got, d.JobID)
	}
	if len(got) != 2 || got[0] != "job-1" || got[1] != "job-2" {
		t.Fatalf("relayed = %v, want [job-1 job-2]", got)
	}
}

func TestRelayExitsOnDoneWithoutReader(t *testing.T) {
	msgs := make(chan amqp.Delivery, 1)
	out := make(chan Delivery) // nobody reads
	done := make(chan struct{})

	msgs <- amqp.Delivery{Body: []byte("job-1")}

	finished := make(chan struct{})
	go func() {
		relay(msgs, out, done)
		close(finished)
	}()

	close(done)
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not exit after done was closed")
	}
}

func TestDeliveryAckWithoutAcknowledger(t *testing.T) {
	var d Delivery
	if err := d.Ack(); err != nil {
		t.Fatalf("Ack on zero delivery: %v", err)
	}
}
