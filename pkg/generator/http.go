package generator

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/psychedelic-image-kit/pkg/domain"
	"github.com/tidwall/gjson"
)

const maxErrorMessageRunes = 200

// NewHTTPClient は生成 API 用の httpkit クライアントを作ります。
// allowPrivate が false の場合は接続直前にも IP を検証する securenet のクライアントになります。
// 呼び出しは Do 経由で行うため、httpkit のリトライは使いません。
func NewHTTPClient(cfg Config) *httpkit.Client {
	return httpkit.New(cfg.Timeout, httpkit.WithSkipNetworkValidation(cfg.AllowPrivateNetwork))
}

// filePart は multipart フォームのファイル項目です。
type filePart struct {
	field    string
	fileName string
	data     []byte
}

// formField は multipart フォームの1項目です。送信順を保つためスライスで扱います。
type formField struct {
	name  string
	value string
}

// buildMultipart は PNG ファイルとテキスト項目からなるフォームを組み立てます。
func buildMultipart(files []filePart, fields []formField) ([]byte, string, error) {
	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)

	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, f.field, f.fileName))
		h.Set("Content-Type", "image/png")
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.data); err != nil {
			return nil, "", err
		}
	}

	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body.Bytes(), w.FormDataContentType(), nil
}

// send はリクエストを 1 回だけ実行し、2xx の本文を返します。
// 本文は httpkit.HandleResponse で上限付きで読み込み、上限を超えた応答は失敗として扱います。
func send(client HTTPClient, backend string, req *http.Request) ([]byte, int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, &domain.GenerationError{Backend: backend, Cause: "request failed", Err: err}
	}
	status := resp.StatusCode

	body, err := httpkit.HandleResponse(resp)
	if err == nil {
		return body, status, nil
	}

	var nonRetryable *httpkit.NonRetryableHTTPError
	switch {
	case errors.As(err, &nonRetryable):
		return nil, status, statusError(backend, status, nonRetryable.Body)
	case status < 200 || status >= 300:
		return nil, status, &domain.GenerationError{Backend: backend, Status: status, Cause: "unexpected status", Err: err}
	default:
		return nil, status, &domain.GenerationError{Backend: backend, Status: status, Cause: "response body rejected", Err: err}
	}
}

// statusError は 2xx 以外の応答を GenerationError に変換します。
// API がエラーメッセージを返していればそれを原因に含めます。
func statusError(backend string, status int, body []byte) error {
	return &domain.GenerationError{
		Backend: backend,
		Status:  status,
		Cause:   "unexpected status: " + apiErrorMessage(body),
	}
}

func apiErrorMessage(body []byte) string {
	for _, path := range []string{"error.message", "message", "error"} {
		if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String {
			return truncateRunes(r.String(), maxErrorMessageRunes)
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "(empty body)"
	}
	return truncateRunes(msg, maxErrorMessageRunes)
}

// truncateRunes は s を n 文字までに切り詰めます。マルチバイト文字の途中では切りません。
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// URLGuard は取得してよい URL かどうかを判定する関数です。
type URLGuard func(rawURL string) (bool, error)

// schemeGuard は http と https 以外のスキームと未指定アドレスを拒否します。
func schemeGuard(rawURL string) (bool, error) {
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return false, fmt.Errorf("URLパース失敗: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false, fmt.Errorf("不許可スキーム: %s", u.Scheme)
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil && ip.IsUnspecified() {
		return false, fmt.Errorf("制限されたネットワークへのアクセスを検知: %s", ip.String())
	}
	return true, nil
}

// SafeURLGuard は SSRF 対策として、スキームを確認したうえで client の IsSafeURL
// （プライベート IP・ループバック・リンクローカルへの解決を拒否）に委ねます。
func SafeURLGuard(client HTTPClient) URLGuard {
	return func(rawURL string) (bool, error) {
		if ok, err := schemeGuard(rawURL); !ok {
			return false, err
		}
		return client.IsSafeURL(rawURL)
	}
}
