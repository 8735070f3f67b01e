package message

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/c360/healthgraph/errors"
)

// pushEnvelope is the wrapped webhook form: a base64 payload plus the
// publisher's message identity, as push subscriptions deliver it.
type pushEnvelope struct {
	Message struct {
		Data       string            `json:"data"`
		MessageID  string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DecodePush turns a webhook request body into a Message. Two body
// shapes are accepted:
//
//   - a wrapped envelope {"message": {"data": "<base64>", "messageId": "..."}},
//     in which case the payload is the decoded data and the delivery
//     keeps the publisher's message ID
//   - a bare record payload {"type": "...", "data": {...}}, forwarded
//     as-is
//
// Bodies that look wrapped but carry undecodable data are invalid.
func DecodePush(body []byte) (*Message, error) {
	var envelope pushEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message.Data != "" {
		payload, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
		if err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("decode base64 message data: %w", err),
				"Message", "DecodePush", "invalid push envelope")
		}
		return New(payload, TransportPush, WithID(envelope.Message.MessageID)), nil
	}

	msg := New(body, TransportPush)
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}
