// Package common — errors.go определяет пользовательские ошибки,
// которые используются во всех модулях бота.
// Эти ошибки позволяют обработчикам различать типы проблем
// и отправлять пользователю понятные сообщения.
package common

import "errors"

// Ошибки скоринга (привязка, пересчёт, лидерборд)
var (
	// ErrRepositoryNotSet — репозиторий ещё не задан командой /setrepo
	ErrRepositoryNotSet = errors.New("репозиторий не задан")
	// ErrNotLinked — пользователь не привязал аккаунт GitHub
	ErrNotLinked = errors.New("аккаунт GitHub не привязан")
	// ErrPassInProgress — пересчёт уже выполняется, повторный запуск запрещён
	ErrPassInProgress = errors.New("пересчёт уже выполняется")
	// ErrNoPlayers — ещё никто не привязал аккаунт
	ErrNoPlayers = errors.New("нет привязанных участников")
	// ErrBadRepoName — имя репозитория не в формате owner/name
	ErrBadRepoName = errors.New("имя репозитория должно быть в формате owner/name")
)

// Ошибки внешних сервисов (GitHub, Gemini)
var (
	// ErrRateLimited — внешний API ответил лимитом запросов
	ErrRateLimited = errors.New("превышен лимит запросов к внешнему API")
	// ErrRepoNotFound — репозиторий не найден на GitHub
	ErrRepoNotFound = errors.New("репозиторий не найден на GitHub")
)
