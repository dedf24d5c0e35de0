package mq

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPublishSendsKeyAndValue(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "ledger.transaction.applied" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "42" {
			return errors.New("unexpected key " + string(key))
		}
		return nil
	})

	p := NewPublisherWithProducer(producer, zaptest.NewLogger(t))
	require.NoError(t, p.Publish("ledger.transaction.applied", "42", `{"amount":1}`))
	require.NoError(t, p.Close())
}

func TestPublishReturnsBrokerError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewPublisherWithProducer(producer, zaptest.NewLogger(t))
	assert.ErrorIs(t, p.Publish("t", "k", "v"), sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}
