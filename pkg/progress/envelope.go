package progress

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/shouni/psychedelic-image-kit/pkg/domain"
)

// Envelope はクライアントへ送る JSON の外枠です。
type Envelope struct {
	Event domain.EventKind `json:"event"`
	Data  any              `json:"data"`
}

type progressData struct {
	RunID     string `json:"run_id,omitempty"`
	Iteration int    `json:"iteration"`
	ImageData string `json:"image_data"`
}

type finalData struct {
	RunID     string `json:"run_id,omitempty"`
	ImageData string `json:"image_data"`
}

type errorData struct {
	RunID     string       `json:"run_id,omitempty"`
	Error     string       `json:"error"`
	Stage     domain.Stage `json:"stage,omitempty"`
	Iteration int          `json:"iteration,omitempty"`
}

// NewEnvelope はイベントを種類ごとのペイロードに変換します。画像は base64 で埋め込みます。
func NewEnvelope(ev domain.ProgressEvent) (Envelope, error) {
	switch ev.Kind {
	case domain.EventProgress:
		return Envelope{Event: ev.Kind, Data: progressData{
			RunID:     ev.RunID,
			Iteration: ev.Iteration,
			ImageData: base64.StdEncoding.EncodeToString(ev.ImageData),
		}}, nil
	case domain.EventFinal:
		return Envelope{Event: ev.Kind, Data: finalData{
			RunID:     ev.RunID,
			ImageData: base64.StdEncoding.EncodeToString(ev.ImageData),
		}}, nil
	case domain.EventError:
		return Envelope{Event: ev.Kind, Data: errorData{
			RunID:     ev.RunID,
			Error:     ev.Message,
			Stage:     ev.Stage,
			Iteration: ev.Iteration,
		}}, nil
	default:
		return Envelope{}, fmt.Errorf("unknown event kind: %q", ev.Kind)
	}
}

// Encode は NewEnvelope の結果を JSON にします。
func Encode(ev domain.ProgressEvent) ([]byte, error) {
	env, err := NewEnvelope(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// relayMessage はインスタンス間でイベントを中継するときの形式です。
type relayMessage struct {
	Key       string           `json:"key"`
	Kind      domain.EventKind `json:"kind"`
	RunID     string           `json:"run_id,omitempty"`
	Iteration int              `json:"iteration,omitempty"`
	ImageData []byte           `json:"image_data,omitempty"`
	Stage     domain.Stage     `json:"stage,omitempty"`
	Message   string           `json:"message,omitempty"`
}

func encodeRelay(key string, ev domain.ProgressEvent) ([]byte, error) {
	return json.Marshal(relayMessage{
		Key:       key,
		Kind:      ev.Kind,
		RunID:     ev.RunID,
		Iteration: ev.Iteration,
		ImageData: ev.ImageData,
		Stage:     ev.Stage,
		Message:   ev.Message,
	})
}

func decodeRelay(payload []byte) (string, domain.ProgressEvent, error) {
	var m relayMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", domain.ProgressEvent{}, fmt.Errorf("decode relay message: %w", err)
	}
	if m.Key == "" {
		return "", domain.ProgressEvent{}, fmt.Errorf("relay message without key")
	}
	return m.Key, domain.ProgressEvent{
		Kind:      m.Kind,
		RunID:     m.RunID,
		Iteration: m.Iteration,
		ImageData: m.ImageData,
		Stage:     m.Stage,
		Message:   m.Message,
	}, nil
}
