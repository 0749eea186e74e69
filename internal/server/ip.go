package server

import (
	"net"
	"net/http"
	"strings"
)

// ------------------------------------------------------------
// 업로드 요청 로그에 남길 클라이언트 IP 추출.
//
// serve 모드는 보통 reverse proxy(ALB/nginx) 뒤에 배치되므로
// RemoteAddr만으로는 실제 사용자 IP를 알 수 없다.
// X-Forwarded-For의 첫 public IP를 우선 사용하고,
// 없으면 RemoteAddr로 fallback한다.
// ------------------------------------------------------------

// isPublicIP: private / loopback / link-local이 아닌 경우 true.
// X-Forwarded-For 체인에서 내부 hop을 걸러내기 위해 필요하다.
func isPublicIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsPrivate() {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}
	return true
}

// safeParseIP: 공백/빈 값 대응. 잘못된 값이면 nil.
func safeParseIP(s string) net.IP {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return net.ParseIP(s)
}

// clientIP는 요청을 보낸 사용자(브라우저)의 IP를 추출한다.
// 진단용 필드일 뿐이므로 실패 시 빈 문자열을 반환한다.
func clientIP(r *http.Request) string {

	// 1) X-Forwarded-For → 첫 번째 public IP
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := safeParseIP(part); isPublicIP(ip) {
				return ip.String()
			}
		}
	}

	// 2) RemoteAddr fallback (로컬 구동 시 loopback도 허용)
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if ip := safeParseIP(host); ip != nil {
			return ip.String()
		}
	}

	return ""
}
