package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	ret := m.Called(name, durable)
	return amqp091.Queue{Name: name}, ret.Error(0)
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	ret := m.Called(exchange, key, msg)
	return ret.Error(0)
}

func (m *mockChannel) Close() error { return nil }

func TestRabbitPublisher_DeclaresQueueOnce(t *testing.T) {
	ch := new(mockChannel)
	ch.On("QueueDeclare", "crm_crm_events", true).Return(nil).Once()
	ch.On("PublishWithContext", "", "crm_crm_events", mock.AnythingOfType("amqp091.Publishing")).Return(nil).Twice()

	p := newRabbitPublisher(ch, "crm_events", "crm", nil)
	ev := New(TypeConfigUpdated, "u1", "n8n", map[string]interface{}{"connected": true})

	require.NoError(t, p.Publish(context.Background(), ev))
	require.NoError(t, p.Publish(context.Background(), ev))
	ch.AssertExpectations(t)
}

func TestRabbitPublisher_SpecificQueue(t *testing.T) {
	p := newRabbitPublisher(new(mockChannel), "crm_events", "crm", []string{TypeMessageSent, " "})
	assert.Equal(t, "crm_message_sent", p.QueueName(TypeMessageSent))
	assert.Equal(t, "crm_crm_events", p.QueueName(TypeConfigUpdated))
}

func TestRabbitPublisher_DeclareError(t *testing.T) {
	ch := new(mockChannel)
	ch.On("QueueDeclare", "crm_crm_events", true).Return(errors.New("channel closed"))

	p := newRabbitPublisher(ch, "crm_events", "crm", nil)
	err := p.Publish(context.Background(), New(TypeConfigUpdated, "u1", "n8n", nil))
	assert.Error(t, err)
	ch.AssertNotCalled(t, "PublishWithContext", mock.Anything, mock.Anything, mock.Anything)
}

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaPublisher{writer: w, topic: "crm.events"}

	ev := New(TypeHealthChanged, "u1", "evolution_api", map[string]interface{}{"status": "error"})
	require.NoError(t, p.Publish(context.Background(), ev))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "crm.events", w.msgs[0].Topic)
	assert.Equal(t, "u1.evolution_api", string(w.msgs[0].Key))

	var decoded Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, TypeHealthChanged, decoded.Type)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &captureWriter{err: errors.New("no leader")}, topic: "crm.events"}
	assert.Error(t, p.Publish(context.Background(), New(TypeConfigUpdated, "u1", "n8n", nil)))
}

func TestIsValidType(t *testing.T) {
	assert.True(t, IsValidType(TypeWorkflowExecuted))
	assert.False(t, IsValidType("Message"))
}
