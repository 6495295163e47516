package domain

import "time"

// MaxIterations は 1 回の実行で許容される変換回数の上限です。
// 合成グリッドは最大 3x3 になります。
const MaxIterations = 9

// IterationResult は 1 回分の変換結果です。
// Image は正規化済みの PNG バイト列で、後続の合成と進捗通知の両方に使われます。
type IterationResult struct {
	Index int
	Image []byte
}

// CompositeImage は全イテレーションをグリッド状に並べた最終成果物です。
// 生成後に書き換えてはいけません。
type CompositeImage struct {
	Data   []byte
	Width  int
	Height int
	Tiles  int
}

// EventKind は進捗チャネルに流すイベントの種類です。
type EventKind string

const (
	EventProgress EventKind = "progress_update"
	EventFinal    EventKind = "final_image"
	EventError    EventKind = "error"
)

// ProgressEvent は実行中のクライアントへ送る通知です。
// Iteration は 1 始まりで、最終イベントでは 0 のままです。
type ProgressEvent struct {
	Kind      EventKind
	RunID     string
	Iteration int
	ImageData []byte
	Stage     Stage
	Message   string
}

// ProcessedImage は永続化された合成画像のレコードです。
type ProcessedImage struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	ImageData  []byte    `db:"image_data" json:"-"`
	Width      int       `db:"width" json:"width"`
	Height     int       `db:"height" json:"height"`
	Iterations int       `db:"iterations" json:"iterations"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
