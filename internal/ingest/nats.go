package ingest

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/variantopt/weightopt/pkg/log"
)

// Subjects the NATS subscriber listens on when NATS_URL is configured.
// Some deployments publish SDK events onto a message bus instead of
// calling the HTTP API directly.
const (
	subjectExpose  = "events.expose"
	subjectConvert = "events.convert"
)

// NATSSubscriber mirrors the HTTP handlers onto a NATS connection: both
// paths call the same Ingester.Handle, so increments behave identically
// regardless of transport.
type NATSSubscriber struct {
	Ingester *Ingester
	conn     *nats.Conn
	subs     []*nats.Subscription
}

func DialNATS(url string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name("weightopt"))
}

func NewNATSSubscriber(conn *nats.Conn, ing *Ingester) *NATSSubscriber {
	return &NATSSubscriber{Ingester: ing, conn: conn}
}

func (s *NATSSubscriber) Start() error {
	exposeSub, err := s.conn.Subscribe(subjectExpose, s.handler(Expose))
	if err != nil {
		return err
	}
	convertSub, err := s.conn.Subscribe(subjectConvert, s.handler(Convert))
	if err != nil {
		exposeSub.Unsubscribe()
		return err
	}
	s.subs = []*nats.Subscription{exposeSub, convertSub}
	return nil
}

func (s *NATSSubscriber) Stop() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.conn.Close()
}

func (s *NATSSubscriber) handler(kind Kind) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if err := s.Ingester.ValidateRaw(msg.Data); err != nil {
			log.Warnf("ingest: %s message on %s failed schema validation: %s", kind, msg.Subject, err)
			return
		}
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Warnf("ingest: malformed %s message on %s: %s", kind, msg.Subject, err)
			return
		}
		if err := s.Ingester.Handle(context.Background(), kind, ev); err != nil {
			log.Warnf("ingest: %s failed: %s", kind, err)
		}
	}
}
