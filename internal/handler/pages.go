package handler

import (
	"html/template"
	"net/http"

	"github.com/hitoshi/appauth/internal/nonce"
)

// callbackPage はリダイレクト先で表示するページ。
// URLフラグメントはサーバーに届かないため、スクリプトでlocation.hrefをホストへ中継する。
var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="ja">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style nonce="{{.Nonce}}">body{font-family:sans-serif;max-width:32rem;margin:4rem auto;text-align:center}</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p id="message">{{.Message}}</p>
{{if .Relay}}
<form method="post" action="{{.CancelPath}}"><button type="submit">キャンセル</button></form>
<noscript><p>サインインを完了するにはJavaScriptを有効にしてください。</p></noscript>
<script nonce="{{.Nonce}}">
fetch({{.CompletePath}}, {
  method: "POST",
  headers: {"Content-Type": "application/json"},
  body: JSON.stringify({url: window.location.href})
}).then(function (res) {
  document.getElementById("message").textContent = res.ok
    ? "サインイン処理を完了しました。このウィンドウを閉じてください。"
    : "サインイン処理を完了できませんでした。アプリに戻ってやり直してください。";
  history.replaceState(null, "", window.location.pathname);
});
</script>
{{end}}
</body>
</html>
`))

type pageData struct {
	Title        string
	Message      string
	Nonce        string
	Relay        bool
	CompletePath string
	CancelPath   string
}

// renderPage はCSPのnonceを付与してページを描画する。
func renderPage(w http.ResponseWriter, status int, data pageData) {
	data.Nonce = nonce.Generate()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy",
		"default-src 'none'; script-src 'nonce-"+data.Nonce+"'; style-src 'nonce-"+data.Nonce+"'; connect-src 'self'; form-action 'self'")
	w.WriteHeader(status)
	callbackPage.Execute(w, data)
}
