package orchestrator

import "github.com/MrWong99/voxgate/internal/connection"

// Outbound message types on the audio socket.
const (
	TypeSpeakStart = "ai_speak_start"
	TypeTranscript = "transcript"
	TypeSpeakEnd   = "ai_speak_end"
	TypeError      = "error"
)

type eventMessage struct {
	Type string `json:"type"`
}

type transcriptMessage struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	IsUser bool   `json:"isUser"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// replyBurst builds the four frames of one spoken reply in wire order.
func replyBurst(text string, wav []byte) ([]connection.Frame, error) {
	start, err := connection.JSON(eventMessage{Type: TypeSpeakStart})
	if err != nil {
		return nil, err
	}
	transcript, err := connection.JSON(transcriptMessage{Type: TypeTranscript, Text: text})
	if err != nil {
		return nil, err
	}
	end, err := connection.JSON(eventMessage{Type: TypeSpeakEnd})
	if err != nil {
		return nil, err
	}
	return []connection.Frame{start, transcript, connection.Binary(wav), end}, nil
}

func errorFrame(msg string) (connection.Frame, error) {
	return connection.JSON(errorMessage{Type: TypeError, Message: msg})
}
