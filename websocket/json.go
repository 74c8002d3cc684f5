package websocket

import "encoding/json"

// WriteJSON marshals v and sends it as a text message.
func (c *Conn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if !c.Send(TextMessage, data) {
		return ErrConnectionClosed
	}
	return nil
}

// DecodeJSON unmarshals a message payload delivered to an on_message
// callback into v. There is no blocking ReadJSON counterpart: a push-style
// Conn never waits for the next message, so a message already delivered
// to the callback is simply decoded in place.
func DecodeJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
