// internal/rules/ruleset.go
package rules

import "regexp"

// RuleSet
// ------------------------------------------------------------
// 규칙 엔진의 전체 설정값.
// 과거에는 필터 코드 안에 하드코딩되어 있던 키워드/패턴 테이블을
// 명시적인 설정 구조체로 분리한 것이다.
// 기본값은 DefaultRuleSet()이라는 preset으로 제공하고,
// 실행 시점에 사용자 입력(추가 로그인 URL, secret)을 merge한다.
type RuleSet struct {

	// ---------------------------
	// 제외 규칙
	// ---------------------------

	// ExcludedExtensions: URL path suffix 기준 정적 리소스 제외 목록.
	// 반드시 path에만 매칭한다 (query/fragment 제거 후).
	ExcludedExtensions []string

	// InvalidSchemes: 이 prefix로 시작하는 URL은 어떤 포함 규칙과도
	// 무관하게 즉시 제외된다 (data:, blob:, javascript:, 평문 http:, localhost:).
	InvalidSchemes []string

	// ---------------------------
	// 포함 규칙
	// ---------------------------

	// IncludedKeywords: URL에 포함되면 강제 포함되는 substring 목록
	// (case-insensitive). 알려진 은행/정부 로그인 endpoint 전체 URL 포함.
	IncludedKeywords []string

	// AuthPatterns: 카테고리별 URL 정규식 테이블.
	// 어느 카테고리의 어떤 패턴이 맞았는지는 진단용으로 기록된다.
	AuthPatterns map[string][]*regexp.Regexp

	// ---------------------------
	// Secret override
	// ---------------------------

	// Secret: 수동 조사 시 알고 있는 평문 비밀값(예: 테스트 계정 비밀번호).
	// payload/postData에 이 값이 존재하면 다른 모든 규칙을 무시하고 포함.
	// 패턴이 아니라 literal 문자열로 취급한다.
	Secret string
}

// 규칙 카테고리 이름. Verdict.Category와 heuristic selector 가중치의 key.
const (
	CategorySecret    = "secret"
	CategoryPriority  = "priority"
	CategoryLogin     = "login"
	CategorySession   = "session"
	CategorySecurity  = "security"
	CategoryBanking   = "banking"
	CategoryKeyword   = "keyword"
	CategoryWebSocket = "websocket"
	CategoryDefault   = "default"
)

// rawIPHost: https://<숫자> 로 시작하는 raw-IP 호스트 URL.
// InvalidSchemes와 동급으로 즉시 제외한다.
var rawIPHost = regexp.MustCompile(`^https://\d`)

// DefaultRuleSet은 운영에서 쓰는 기본 preset을 반환한다.
//
// IncludedKeywords의 endpoint 목록은 국내 은행/정부 로그인 페이지 중
// 실제 조사에서 반복적으로 등장한 것들이다. 서비스별 추가 URL은
// 실행 시점에 AddKeywords로 merge한다.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		ExcludedExtensions: []string{
			".js", ".css", ".jsp", ".png", ".jpg", ".jpeg",
			".gif", ".svg", ".ico", ".woff", ".woff2", ".ttf", ".eot",
		},

		InvalidSchemes: []string{
			"data:", "blob:", "javascript:", "http:", "localhost:",
		},

		IncludedKeywords: []string{
			"retrieve",
			"api",
			"jcaptcha.jpg",
			"https://www.nhis.or.kr/nhis/etc/personalsignloginnew.do",
			"https://banking.nonghyup.com/servlet/ipcnpa000i.view",
			"https://obank.kbstar.com/quics?page=c055068&qsl=f#loading",
			"https://www.hometax.go.kr/websquare/websquare.html?w2xpath=/ui/pp/index.xml",
			"https://www.gov.kr/nlogin/?mcode=10003",
		},

		AuthPatterns: map[string][]*regexp.Regexp{
			CategoryLogin: {
				regexp.MustCompile(`(?i)log[io]n`),
				regexp.MustCompile(`(?i)sign[-_]?in`),
				regexp.MustCompile(`(?i)/auth(/|\b)`),
				regexp.MustCompile(`(?i)credential`),
			},
			CategorySession: {
				regexp.MustCompile(`(?i)session`),
				regexp.MustCompile(`(?i)token`),
				regexp.MustCompile(`(?i)\bsso\b`),
				regexp.MustCompile(`(?i)oauth`),
			},
			CategorySecurity: {
				regexp.MustCompile(`(?i)captcha`),
				regexp.MustCompile(`(?i)\botp\b`),
				regexp.MustCompile(`(?i)secure(key|pad)?`),
				regexp.MustCompile(`(?i)transkey`),
				regexp.MustCompile(`(?i)certif`),
			},
			CategoryBanking: {
				regexp.MustCompile(`(?i)banking`),
				regexp.MustCompile(`(?i)account`),
				regexp.MustCompile(`(?i)quics`),
				regexp.MustCompile(`(?i)ipcn`),
			},
		},
	}
}

// AddKeywords는 사용자 입력 로그인 URL/키워드를 포함 규칙에 merge한다.
// 빈 문자열은 무시한다.
func (rs *RuleSet) AddKeywords(keywords ...string) {
	for _, kw := range keywords {
		if kw != "" {
			rs.IncludedKeywords = append(rs.IncludedKeywords, kw)
		}
	}
}
