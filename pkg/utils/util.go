// Package utils は生成バックエンド間で共有する小さな変換関数をまとめたものです。
package utils

// DereferenceSeed は、int64のポインタを安全にデリファレンスします。
// ポインタがnilの場合は0を返します。0 はランダムシードとして扱われます。
func DereferenceSeed(seed *int64) int64 {
	if seed == nil {
		return 0
	}
	return *seed
}

// SeedToPtrInt32 は *int64 のシードを Gemini SDK 用の *int32 に変換します。
// int32 の範囲を超える値は下位 32 ビットに切り詰められます。
func SeedToPtrInt32(seed *int64) *int32 {
	if seed == nil {
		return nil
	}
	val := int32(*seed)
	return &val
}
