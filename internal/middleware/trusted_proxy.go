package middleware

import (
	"net/http"
	"net/netip"
	"strings"
)

const forwardedForHeader = "X-Forwarded-For"

// NewTrustedProxyMiddleware は接続元が信頼済みプロキシの場合に限り、
// X-Forwarded-Forから求めたクライアントIPをRemoteAddrに設定するミドルウェアを返す。
//
// X-Forwarded-Forは右端から走査し、信頼済みプロキシに含まれない最初のアドレスを採用する。
// 左側の値はクライアントが自由に書き換えられるため参照しない。
// trustedが空の場合、転送ヘッダーは一切参照しない。
func NewTrustedProxyMiddleware(trusted []netip.Prefix) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer, err := netip.ParseAddr(ClientIP(r))
			if err == nil && isTrustedProxy(peer, trusted) {
				if ip, ok := forwardedClientIP(r.Header.Values(forwardedForHeader), trusted); ok {
					r.RemoteAddr = ip.String()
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isTrustedProxy(addr netip.Addr, trusted []netip.Prefix) bool {
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// forwardedClientIP はX-Forwarded-Forを右から走査してクライアントIPを求める。
// パースできない値に当たった場合はそれ以上遡らず、falseを返す。
func forwardedClientIP(values []string, trusted []netip.Prefix) (netip.Addr, bool) {
	var hops []string
	for _, v := range values {
		hops = append(hops, strings.Split(v, ",")...)
	}

	var last netip.Addr
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			return netip.Addr{}, false
		}
		addr = addr.Unmap()
		if !isTrustedProxy(addr, trusted) {
			return addr, true
		}
		last = addr
	}
	return last, last.IsValid()
}
