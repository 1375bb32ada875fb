// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: русская плюрализация и форматирование времени.
package common

import (
	"fmt"
	"math"
	"time"
)

// PluralizePoints возвращает правильную форму слова «очко» для числа n.
//
// Правила русского языка:
//   - n%10==1 И n%100!=11 → "очко" (1, 21, 31, 101, ...)
//   - n%10 в [2,3,4] И n%100 НЕ в [12,13,14] → "очка" (2, 3, 4, 22, 23, ...)
//   - Остальные случаи → "очков" (0, 5-20, 25-30, 100, ...)
func PluralizePoints(n int64) string {
	absN := int64(math.Abs(float64(n)))
	lastDigit := absN % 10
	lastTwoDigits := absN % 100

	if lastDigit == 1 && lastTwoDigits != 11 {
		return "очко"
	}
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return "очка"
	}
	return "очков"
}

// PluralizePlayers возвращает правильную форму слова «участник».
func PluralizePlayers(n int) string {
	absN := int(math.Abs(float64(n)))
	lastDigit := absN % 10
	lastTwoDigits := absN % 100

	if lastDigit == 1 && lastTwoDigits != 11 {
		return "участник"
	}
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return "участника"
	}
	return "участников"
}

// FormatPoints форматирует количество очков в читабельную строку.
// Пример: FormatPoints(25) → "25 очков"
func FormatPoints(n int64) string {
	return fmt.Sprintf("%d %s", n, PluralizePoints(n))
}

// FormatDateTime форматирует время в формат "02.01.2006 15:04" (UTC).
// Используется для отображения водяных знаков в логах и ответах.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format("02.01.2006 15:04")
}
