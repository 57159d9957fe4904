package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRejectsOversizeFrame(t *testing.T) {
	raw := []byte(`{"type":"join","payload":{"roomId":"` + strings.Repeat("x", 2000) + `"}}`)
	_, err := Decode(raw)
	require.Error(t, err)
	fe, ok := err.(*FrameError)
	require.True(t, ok)
	assert.Equal(t, ErrCodePayloadTooLarge, fe.Code)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	require.Error(t, err)
	fe := err.(*FrameError)
	assert.Equal(t, ErrCodeBadFrame, fe.Code)
}

func TestDecodeRejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"payload":{}}`))
	require.Error(t, err)
	fe := err.(*FrameError)
	assert.Equal(t, ErrCodeBadFrame, fe.Code)
}

func TestDecodeRoundTrip(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"join","payload":{"roomId":"abc"}}`))
	require.NoError(t, err)
	var p JoinPayload
	require.NoError(t, msg.UnmarshalData(&p))
	assert.Equal(t, "abc", p.RoomID)
	assert.NoError(t, p.Validate())
}

func TestJoinPayloadValidateBounds(t *testing.T) {
	assert.Error(t, JoinPayload{RoomID: ""}.Validate())
	assert.Error(t, JoinPayload{RoomID: strings.Repeat("a", 51)}.Validate())
	assert.NoError(t, JoinPayload{RoomID: strings.Repeat("a", 50)}.Validate())
}

func TestSubmitAnswerPayloadValidateBounds(t *testing.T) {
	cases := []struct {
		name string
		p    SubmitAnswerPayload
		ok   bool
	}{
		{"valid", SubmitAnswerPayload{RoomID: "r", QuestionIndex: 9, ChoiceIdx: 3}, true},
		{"question too high", SubmitAnswerPayload{RoomID: "r", QuestionIndex: 10, ChoiceIdx: 0}, false},
		{"question negative", SubmitAnswerPayload{RoomID: "r", QuestionIndex: -1, ChoiceIdx: 0}, false},
		{"choice too high", SubmitAnswerPayload{RoomID: "r", QuestionIndex: 0, ChoiceIdx: 4}, false},
		{"missing room", SubmitAnswerPayload{RoomID: "", QuestionIndex: 0, ChoiceIdx: 0}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.p.Validate()
			if c.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNewErrorMessageShape(t *testing.T) {
	msg := NewErrorMessage(ErrCodeRateLimited, "too many frames")
	assert.Equal(t, TypeError, msg.Type)
	var p ErrorPayload
	require.NoError(t, msg.UnmarshalData(&p))
	assert.Equal(t, ErrCodeRateLimited, p.Code)
	assert.Equal(t, "too many frames", p.Message)
}
