package middleware

import (
	"crypto/subtle"
	"net/http"

	"stopguard/internal/config"
	"stopguard/pkg/crypto"
)

// Auth - middleware HTTP Basic аутентификации для API
//
// Назначение:
// Защищает API endpoints от неавторизованного доступа.
// Пароль в конфигурации хранится только как bcrypt хеш,
// проверка через pkg/crypto.
//
// Конфигурация (AuthConfig):
// - Enabled: false отключает проверку (локальное развертывание)
// - User: имя пользователя
// - PasswordHash: bcrypt хеш пароля
//
// Безопасность:
// - Имя пользователя сравнивается constant-time
// - bcrypt сам по себе устойчив к timing attacks
//
// Использование:
//
//	api := router.PathPrefix("/api/v1").Subrouter()
//	api.Use(middleware.Auth(cfg.Auth))
func Auth(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok {
				unauthorized(w)
				return
			}

			userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(cfg.User)) == 1
			passErr := crypto.VerifyPassword(pass, cfg.PasswordHash)

			if !userMatch || passErr != nil {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="stopguard API"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
