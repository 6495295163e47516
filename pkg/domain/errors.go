package domain

import (
	"fmt"
	"strings"
)

// Stage はパイプラインのどの段階で失敗したかを表します。
type Stage string

const (
	StageDecode     Stage = "decode"
	StageGeneration Stage = "generation"
	StageComposite  Stage = "composite"
	StagePersist    Stage = "persist"
	StageInternal   Stage = "internal"
)

// DecodeError は入力バイト列が画像として解釈できなかったことを示します。
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// GenerationError は外部生成 API の呼び出しまたは応答解析の失敗です。
// Status は HTTP ステータスが得られた場合のみ 0 以外になります。
type GenerationError struct {
	Backend string
	Status  int
	Cause   string
	Err     error
}

func (e *GenerationError) Error() string {
	var b strings.Builder
	b.WriteString("generation")
	if e.Backend != "" {
		b.WriteString(" (" + e.Backend + ")")
	}
	b.WriteString(": ")
	b.WriteString(e.Cause)
	if e.Status != 0 {
		fmt.Fprintf(&b, " [status %d]", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *GenerationError) Unwrap() error { return e.Err }

// CompositeError は合成の前提条件が満たされなかったことを示します。
type CompositeError struct {
	Reason string
	Err    error
}

func (e *CompositeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("composite: %s: %v", e.Reason, e.Err)
	}
	return "composite: " + e.Reason
}

func (e *CompositeError) Unwrap() error { return e.Err }

// PipelineError は上記のエラーに段階とイテレーション番号を付けて包みます。
// Iteration は 0 始まりで、特定のイテレーションに紐づかない場合は -1 です。
type PipelineError struct {
	Stage     Stage
	Iteration int
	Err       error
}

func (e *PipelineError) Error() string {
	if e.Iteration >= 0 {
		return fmt.Sprintf("pipeline failed at %s (iteration %d): %v", e.Stage, e.Iteration, e.Err)
	}
	return fmt.Sprintf("pipeline failed at %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
