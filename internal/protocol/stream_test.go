package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamIDInitiatedBy(t *testing.T) {
	assert.Equal(t, PerspectiveClient, StreamID(4).InitiatedBy())
	assert.Equal(t, PerspectiveServer, StreamID(5).InitiatedBy())
	assert.Equal(t, PerspectiveClient, StreamID(6).InitiatedBy())
	assert.Equal(t, PerspectiveServer, StreamID(7).InitiatedBy())
}

func TestStreamIDType(t *testing.T) {
	assert.Equal(t, StreamTypeBidi, StreamID(4).Type())
	assert.Equal(t, StreamTypeBidi, StreamID(5).Type())
	assert.Equal(t, StreamTypeUni, StreamID(6).Type())
	assert.Equal(t, StreamTypeUni, StreamID(7).Type())
}

func TestStreamNum(t *testing.T) {
	assert.Equal(t, StreamNum(1), StreamID(0).StreamNum())
	assert.Equal(t, StreamNum(1), StreamID(3).StreamNum())
	assert.Equal(t, StreamNum(2), StreamID(4).StreamNum())
	assert.Equal(t, StreamNum(25), StreamID(99).StreamNum())
}

func TestStreamNumToStreamID(t *testing.T) {
	assert.Equal(t, StreamID(0), StreamNum(1).StreamID(StreamTypeBidi, PerspectiveClient))
	assert.Equal(t, StreamID(1), StreamNum(1).StreamID(StreamTypeBidi, PerspectiveServer))
	assert.Equal(t, StreamID(2), StreamNum(1).StreamID(StreamTypeUni, PerspectiveClient))
	assert.Equal(t, StreamID(3), StreamNum(1).StreamID(StreamTypeUni, PerspectiveServer))
	assert.Equal(t, StreamID(8), StreamNum(3).StreamID(StreamTypeBidi, PerspectiveClient))
	assert.Equal(t, InvalidStreamID, StreamNum(0).StreamID(StreamTypeBidi, PerspectiveClient))
}
