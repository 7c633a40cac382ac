package downlink

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	msgs []string
	args [][]any
}

func (r *recordingLogger) Info(msg string, args ...any) {
	r.msgs = append(r.msgs, msg)
	r.args = append(r.args, args)
}

func TestChannelOf(t *testing.T) {
	assert.Equal(t, ChannelCommands, ChannelOf("/down/device/id/dev1/commands"))
	assert.Equal(t, ChannelConfig, ChannelOf("/down/device/id/dev1/config"))
	assert.Equal(t, ChannelUnknown, ChannelOf("/down/device/id/dev1/other"))
	assert.Equal(t, ChannelUnknown, ChannelOf("/down/device/id/dev1/reconfig"))
}

func TestDecodePayload(t *testing.T) {
	v, err := DecodePayload([]byte(`{"reboot": true}`))
	require.NoError(t, err)
	assert.Equal(t, KindObject, v.Kind())

	_, err = DecodePayload([]byte(`[1, 2]`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = DecodePayload([]byte(`"text"`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = DecodePayload([]byte(`{broken`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestNewMQTTHandler(t *testing.T) {
	var got []Message
	fn := NewMQTTHandler(HandlerFunc(func(msg Message) {
		got = append(got, msg)
	}))

	err := fn("/down/device/id/dev1/config", []byte(`{"interval": 10}`))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "/down/device/id/dev1/config", got[0].Topic)
	assert.Equal(t, ChannelConfig, got[0].Channel)
	interval, ok := got[0].Payload.Get("interval")
	require.True(t, ok)
	i, _ := interval.AsInt64()
	assert.Equal(t, int64(10), i)
}

func TestNewMQTTHandler_DropsUndecodable(t *testing.T) {
	called := false
	fn := NewMQTTHandler(HandlerFunc(func(Message) { called = true }))

	err := fn("/down/device/id/dev1/commands", []byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.False(t, called, "handler must not see undecodable payloads")

	// The next valid message is still delivered.
	require.NoError(t, fn("/down/device/id/dev1/commands", []byte(`{"ok": true}`)))
	assert.True(t, called)
}

func TestNewMQTTHandler_DropsDeeplyNested(t *testing.T) {
	called := false
	fn := NewMQTTHandler(HandlerFunc(func(Message) { called = true }))

	payload := []byte(`{"a":` + strings.Repeat("[", 8<<20))
	err := fn("/down/device/id/dev1/commands", payload)
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.False(t, called)

	require.NoError(t, fn("/down/device/id/dev1/config", []byte(`{"interval": 5}`)))
	assert.True(t, called)
}

func TestLogHandler(t *testing.T) {
	logger := &recordingLogger{}
	h := NewLogHandler(logger)

	h.HandleDownlink(Message{
		Topic:   "/down/device/id/dev1/commands",
		Channel: ChannelCommands,
		Payload: Object(Member{Key: "led", Value: String("on")}),
	})

	require.Len(t, logger.msgs, 1)
	assert.Equal(t, "downlink received", logger.msgs[0])
	assert.Contains(t, logger.args[0], `{"led":"on"}`)
	assert.Contains(t, logger.args[0], "commands")
}
