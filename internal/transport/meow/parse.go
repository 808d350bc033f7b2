package meow

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/matheus3301/wacodex/internal/transport"
)

// parseLive normalizes a live whatsmeow message event.
func parseLive(evt *events.Message) transport.Message {
	return transport.Message{
		ChatJID:   evt.Info.Chat.ToNonAD().String(),
		SenderJID: evt.Info.Sender.ToNonAD().String(),
		ID:        evt.Info.ID,
		Text:      extractTextBody(evt.Message),
		FromMe:    evt.Info.IsFromMe,
		Timestamp: evt.Info.Timestamp,
	}
}

// parseHistory flattens a history sync payload into one message slice.
func parseHistory(evt *events.HistorySync) []transport.Message {
	var msgs []transport.Message
	for _, conv := range evt.Data.GetConversations() {
		chatJID := conv.GetID()
		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			msgs = append(msgs, transport.Message{
				ChatJID:   chatJID,
				SenderJID: wmsg.GetKey().GetParticipant(),
				ID:        wmsg.GetKey().GetID(),
				Text:      extractTextBody(wmsg.GetMessage()),
				FromMe:    wmsg.GetKey().GetFromMe(),
				Timestamp: time.Unix(int64(wmsg.GetMessageTimestamp()), 0),
			})
		}
	}
	return msgs
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}
