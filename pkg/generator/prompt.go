package generator

import (
	"strconv"
	"strings"
)

const intensityPlaceholder = "{intensity}"

// BuildPrompt はテンプレートの {intensity} を強度で置き換えたプロンプトを作ります。
// プレースホルダがないテンプレートには末尾に強度を付け足します。
func BuildPrompt(template string, intensity float64) string {
	if template == "" {
		template = DefaultPromptTemplate
	}
	v := strconv.FormatFloat(intensity, 'f', 1, 64)
	if !strings.Contains(template, intensityPlaceholder) {
		return template + ", intensity " + v
	}
	return strings.ReplaceAll(template, intensityPlaceholder, v)
}
