package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
)

// NewLoopbackOriginMiddleware はループバック以外のオリジンからの
// 状態変更リクエストを403で拒否するミドルウェアを返す。
// Originヘッダーを持たないリクエスト（CLIなど）は許可する。
func NewLoopbackOriginMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if origin != "" && !isLoopbackOrigin(origin) {
				slog.Warn("ループバック以外のオリジンからのリクエストを拒否しました",
					slog.String("origin", origin),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				http.Error(w, "forbidden origin", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isSafeMethod は状態を変更しないHTTPメソッドかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// isLoopbackOrigin はOriginがループバックアドレスを指すかを判定する。
// Appleのform_postはappleid.apple.comから送られるため、呼び出し側で除外する。
func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
