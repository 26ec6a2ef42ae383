package auth

import (
	"net/url"
	"strings"
)

// CallbackKind はコールバックURLの解析結果の種別。
type CallbackKind int

const (
	// CallbackNone はトークンもエラーも含まないことを示す。
	CallbackNone CallbackKind = iota
	// CallbackTokens はアクセストークンとリフレッシュトークンを含むことを示す。
	CallbackTokens
	// CallbackError はerror_descriptionを含むことを示す。
	CallbackError
)

// Callback はOAuthコールバックURLの解析結果。
type Callback struct {
	Kind             CallbackKind
	AccessToken      string
	RefreshToken     string
	ErrorDescription string
}

// ParseCallback はOAuthコールバックURLからトークンまたはエラー内容を取り出す。
//
// トークンはURLフラグメントで返るため、'#'で分割した後に'&'でパラメータに分割する。
// バックエンドはフラグメントのトークンを自動検出しないため、呼び出し元で明示的に設定すること。
// error_descriptionはフラグメント、クエリの順に探す。
func ParseCallback(rawURL string) Callback {
	var fragment map[string]string
	if parts := strings.SplitN(rawURL, "#", 2); len(parts) == 2 {
		fragment = splitParams(parts[1])
	}

	accessToken := fragment["access_token"]
	refreshToken := fragment["refresh_token"]
	if accessToken != "" && refreshToken != "" {
		return Callback{
			Kind:         CallbackTokens,
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
		}
	}

	if desc, ok := fragment["error_description"]; ok && desc != "" {
		return Callback{Kind: CallbackError, ErrorDescription: desc}
	}

	if u, err := url.Parse(strings.SplitN(rawURL, "#", 2)[0]); err == nil {
		if desc := u.Query().Get("error_description"); desc != "" {
			return Callback{Kind: CallbackError, ErrorDescription: desc}
		}
	}

	return Callback{Kind: CallbackNone}
}

// splitParams は"a=1&b=2"形式の文字列を分割する。
// 値はURLデコードし、デコードできない場合は元の値を使う。
func splitParams(s string) map[string]string {
	params := make(map[string]string)
	for _, pair := range strings.Split(s, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if decoded, err := url.QueryUnescape(value); err == nil {
			value = decoded
		}
		if _, exists := params[key]; !exists {
			params[key] = value
		}
	}
	return params
}

// MakeRedirectURI はアプリのカスタムURLスキームとコールバックパスからリダイレクトURIを生成する。
func MakeRedirectURI(scheme, path string) string {
	return strings.TrimSuffix(scheme, "://") + "://" + strings.TrimPrefix(path, "/")
}
