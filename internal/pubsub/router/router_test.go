package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flexprice/invoicer/internal/config"
	"github.com/flexprice/invoicer/internal/logger"
	"github.com/flexprice/invoicer/internal/pubsub/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_FailedMessagesGoToPoisonTopic(t *testing.T) {
	cfg := config.GetDefaultConfig()
	log := logger.NewNopLogger()
	ps := memory.NewPubSub(cfg, log)
	defer ps.Close()

	r, err := NewRouter(cfg, log, ps)
	require.NoError(t, err)

	handled := make(chan string, 1)
	r.AddNoPublishHandler("requests", cfg.Consumer.RequestTopic, ps, func(msg *message.Message) error {
		if string(msg.Payload) == "bad" {
			return errors.New("cannot process")
		}
		handled <- string(msg.Payload)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = r.Run(ctx) }()
	defer r.Close()

	select {
	case <-r.Running():
	case <-ctx.Done():
		t.Fatal("router did not start")
	}

	require.NoError(t, ps.Publish(ctx, cfg.Consumer.RequestTopic, message.NewMessage(watermill.NewUUID(), []byte("bad"))))
	require.NoError(t, ps.Publish(ctx, cfg.Consumer.RequestTopic, message.NewMessage(watermill.NewUUID(), []byte("good"))))

	select {
	case got := <-handled:
		assert.Equal(t, "good", got)
	case <-ctx.Done():
		t.Fatal("good message not handled")
	}

	poisoned, err := ps.Subscribe(ctx, cfg.Consumer.PoisonTopic)
	require.NoError(t, err)
	select {
	case msg := <-poisoned:
		assert.Equal(t, "bad", string(msg.Payload))
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("failed message not moved to the poison topic")
	}
}
