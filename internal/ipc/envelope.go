package ipc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/programme-lv/testworker/api"
)

// ErrMalformedOptions marks an options envelope that could not be decoded
var ErrMalformedOptions = errors.New("malformed options envelope")

// decodeInbound parses a frame sent by the parent
func decodeInbound(frame []byte) (api.Message, error) {
	var head api.Header
	if err := json.Unmarshal(frame, &head); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	switch head.MsgType {
	case api.OptionsMsg:
		var msg api.Options
		if err := json.Unmarshal(frame, &msg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedOptions, err)
		}
		return msg, nil
	case api.PeerFailedMsg:
		return api.NewPeerFailed(), nil
	default:
		return nil, fmt.Errorf("unknown inbound message type %q", head.MsgType)
	}
}

func encode(msg api.Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msg.Type(), err)
	}
	return b, nil
}
