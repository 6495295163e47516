package progress

import (
	"context"
	"log/slog"

	"github.com/shouni/psychedelic-image-kit/pkg/domain"
)

// SessionSink は 1 回の実行のイベントを、依頼したユーザーのセッションへ流します。
type SessionSink struct {
	pub    Publisher
	key    string
	runID  string
	logger *slog.Logger
}

func NewSessionSink(pub Publisher, key, runID string, logger *slog.Logger) *SessionSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionSink{pub: pub, key: key, runID: runID, logger: logger}
}

// Emit は ev に実行 ID を付けて送ります。送信エラーはログに残すだけです。
func (s *SessionSink) Emit(ctx context.Context, ev domain.ProgressEvent) {
	if s.pub == nil {
		return
	}
	if ev.RunID == "" {
		ev.RunID = s.runID
	}
	if err := s.pub.Publish(ctx, s.key, ev); err != nil {
		s.logger.WarnContext(ctx, "進捗イベントの送信に失敗", "run_id", s.runID, "event", ev.Kind, "error", err)
	}
}
