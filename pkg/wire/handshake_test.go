package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInit(t *testing.T) {
	t.Parallel()

	payload := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<init xmlns="urn:debugger_protocol_v1" appid="7532" idekey="abc"
      session="sess1" thread="1" parent="7530" language="Python"
      protocol_version="1.0" fileuri="file:///tmp/app.py"/>`)

	init, err := ParseInit(payload)
	require.NoError(t, err)
	assert.Equal(t, "abc", init.IDEKey)
	assert.Equal(t, "7532", init.AppID)
	assert.Equal(t, "sess1", init.Session)
	assert.Equal(t, "1", init.Thread)
	assert.Equal(t, "Python", init.Language)
	assert.Equal(t, "1.0", init.ProtocolVersion)
}

func TestParseInitMissingIDEKey(t *testing.T) {
	t.Parallel()

	_, err := ParseInit([]byte(`<init appid="1"/>`))
	assert.ErrorIs(t, err, ErrInvalidHandshake)
}

func TestParseInitEmptyIDEKey(t *testing.T) {
	t.Parallel()

	_, err := ParseInit([]byte(`<init appid="1" idekey=""/>`))
	assert.ErrorIs(t, err, ErrInvalidHandshake)
}

func TestParseInitWrongElement(t *testing.T) {
	t.Parallel()

	_, err := ParseInit([]byte(`<response command="run" idekey="abc"/>`))
	assert.ErrorIs(t, err, ErrInvalidHandshake)
}

func TestParseInitNotXML(t *testing.T) {
	t.Parallel()

	_, err := ParseInit([]byte("not xml at all"))
	assert.ErrorIs(t, err, ErrInvalidHandshake)
}
