package worker

import "fmt"

// Progress messages are rendered server-side in the locale captured at
// submission, so streaming clients can show them verbatim.

func msgStarting(locale string) string {
	if locale == "ja" {
		return "生成を開始しています"
	}
	return "Starting generation"
}

func msgUnitDone(locale string, done, total int) string {
	if locale == "ja" {
		return fmt.Sprintf("%d / %d 枚の画像を生成しました", done, total)
	}
	return fmt.Sprintf("Generated %d of %d images", done, total)
}

func msgCompleted(locale string) string {
	if locale == "ja" {
		return "画像の生成が完了しました"
	}
	return "Generation complete"
}

func msgFailed(locale string) string {
	if locale == "ja" {
		return "画像の生成に失敗しました"
	}
	return "Generation failed"
}

func msgCancelled(locale string) string {
	if locale == "ja" {
		return "生成をキャンセルしました"
	}
	return "Generation cancelled"
}

func msgFallback(locale string) string {
	if locale == "ja" {
		return "標準品質に切り替えました"
	}
	return "Switched to standard quality"
}
