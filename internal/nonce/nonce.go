// Package nonce はサインイン試行とIDトークン交換を結びつけるnonceを提供する。
//
// 生の値はバックエンドとの交換にのみ、ハッシュ値はIDプロバイダーにのみ渡す。
// ハッシュだけを観測した中継者は交換を完了できない。
package nonce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// rawLength は生成するnonceのバイト長。hex表現では32文字になる。
const rawLength = 16

// Pair は1回のサインイン試行に紐づくnonceの組。
type Pair struct {
	Raw    string
	Hashed string
}

// Generate は暗号学的に安全な乱数からnonceを生成し、hex文字列で返す。
// 乱数源の失敗は致命的なためpanicする。
func Generate() string {
	b := make([]byte, rawLength)
	if _, err := rand.Read(b); err != nil {
		panic("nonce: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Hash は生のnonceのSHA-256ハッシュをhex文字列で返す。
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewPair は新しいnonceとそのハッシュの組を生成する。
func NewPair() Pair {
	raw := Generate()
	return Pair{Raw: raw, Hashed: Hash(raw)}
}
