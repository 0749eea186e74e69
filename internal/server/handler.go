package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"authtrace/internal/archive"
	"authtrace/internal/config"
	"authtrace/internal/metrics"
	"authtrace/internal/pipeline"
	"authtrace/internal/pool"
	"authtrace/internal/rules"
	"authtrace/internal/selector"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handler는 serve 모드의 HTTP 엔드포인트 집합.
//
//   - POST /upload  : 트레이스 JSON을 업로드 디렉토리에 저장
//   - POST /analyze : 저장된 트레이스에 파이프라인 실행
//   - GET  /metrics : 운영 카운터 노출
//   - GET  /health  : liveness 체크
//
// 웹 front-end는 이 API만 바라보는 외부 collaborator다.
type Handler struct {
	cfg      config.Config
	metrics  *metrics.Metrics
	archiver *archive.Archiver // nil이면 아카이브 비활성
}

func NewHandler(cfg config.Config, m *metrics.Metrics, a *archive.Archiver) *Handler {
	return &Handler{
		cfg:      cfg,
		metrics:  m,
		archiver: a,
	}
}

// HandleUpload
//
// 트레이스 파일(JSON 배열)을 받아 UploadDir에 저장하고
// 이후 /analyze에서 참조할 파일 id를 돌려준다.
// body는 MaxBodySize로 제한하고, 읽기 버퍼는 BodyPool을 재사용한다.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.metrics.HTTPRequestsTotal, 1)

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize)
	defer r.Body.Close()

	buf := pool.BodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBody(buf, h.cfg.MaxBodySize*2)

	if _, err := io.Copy(buf, r.Body); err != nil {
		atomic.AddInt64(&h.metrics.HTTPRequestsRejectedBodyTooLargeTotal, 1)
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	// 저장 전에 최소한의 형태 검증 (배열 JSON인지).
	// 깨진 파일을 받아두면 /analyze에서 에러 날 뿐이지만,
	// 업로드 시점에 돌려주는 편이 front-end UX에 낫다.
	if !json.Valid(buf.Bytes()) {
		writeError(w, http.StatusBadRequest, "body is not valid JSON")
		return
	}

	fileID := uuid.NewString()
	path := filepath.Join(h.cfg.UploadDir, fileID+".json")
	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "upload dir unavailable")
		return
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store trace")
		return
	}

	atomic.AddInt64(&h.metrics.HTTPUploadsAcceptedTotal, 1)
	log.Info().
		Str("fileId", fileID).
		Int("bytes", buf.Len()).
		Str("clientIp", clientIP(r)).
		Msg("trace uploaded")

	writeJSON(w, http.StatusOK, map[string]string{"fileId": fileID})
}

// analyzeRequest는 /analyze 요청 body.
type analyzeRequest struct {
	FileID string `json:"fileId"`

	// Mode: "local"(기본) 또는 "remote".
	Mode string `json:"mode"`

	// K: critical set 최대 크기 (0이면 서버 기본값).
	K int `json:"k"`

	// Secret: 수동 조사용 ground-truth 비밀값 (선택).
	Secret string `json:"secret"`

	// LoginURLs: 포함 키워드에 merge할 사용자 로그인 URL (선택).
	LoginURLs []string `json:"loginUrls"`
}

// HandleAnalyze
//
// 업로드된 트레이스에 대해 파이프라인을 실행하고 실행 요약을 반환한다.
// 산출물은 UploadDir 아래에 저장되고, 아카이브가 켜져 있으면
// S3 적재 큐에도 들어간다.
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.metrics.HTTPRequestsTotal, 1)

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FileID == "" || strings.ContainsAny(req.FileID, "/\\.") {
		// fileId는 uuid만 허용한다. path traversal 차단.
		writeError(w, http.StatusBadRequest, "invalid fileId")
		return
	}

	rs := rules.DefaultRuleSet()
	rs.Secret = req.Secret
	rs.AddKeywords(req.LoginURLs...)

	k := req.K
	if k <= 0 {
		k = h.cfg.DefaultK
	}

	var sel selector.Selector
	if req.Mode == "remote" {
		if h.cfg.AnthropicAPIKey == "" {
			writeError(w, http.StatusUnprocessableEntity, "remote mode requires ANTHROPIC_API_KEY")
			return
		}
		judge := selector.NewJudge(h.cfg.AnthropicAPIKey, h.metrics)
		judge.Model = h.cfg.JudgeModel
		judge.Timeout = h.cfg.JudgeTimeout
		judge.Retries = h.cfg.JudgeRetries
		sel = judge
	}

	inputPath := filepath.Join(h.cfg.UploadDir, req.FileID+".json")
	res, err := pipeline.Run(r.Context(), pipeline.Options{
		InputPath:     inputPath,
		OutputPath:    filepath.Join(h.cfg.UploadDir, req.FileID+".critical.json"),
		CandidatePath: filepath.Join(h.cfg.UploadDir, req.FileID+".candidates.json"),
		K:             k,
		MinValueLen:   h.cfg.MinValueLen,
		Rules:         rs,
		Selector:      sel,
		Metrics:       h.metrics,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	h.archiveArtifacts(res)

	writeJSON(w, http.StatusOK, res)
}

// archiveArtifacts는 산출물을 S3 적재 큐에 넣는다 (best-effort).
func (h *Handler) archiveArtifacts(res *pipeline.Result) {
	if h.archiver == nil {
		return
	}
	for kind, path := range map[string]string{
		"candidate": res.CandidatePath,
		"critical":  res.OutputPath,
	} {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("artifact read for archive failed")
			continue
		}
		h.archiver.Enqueue(archive.Artifact{Kind: kind, Data: data})
	}
}

// HandleMetrics는 카운터 값을 text로 노출한다.
func (h *Handler) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.metrics.String())
}

// statusFor는 파이프라인/셀렉터 에러 분류를 HTTP 상태로 옮긴다.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInputNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrInputMalformed):
		return http.StatusBadRequest
	case errors.Is(err, selector.ErrJudgeAuth):
		return http.StatusUnprocessableEntity
	case errors.Is(err, selector.ErrJudgeTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, selector.ErrJudgeNetwork):
		return http.StatusBadGateway
	default:
		var pe *selector.ParseError
		if errors.As(err, &pe) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
	if status >= 500 {
		log.Error().Int("status", status).Msg(fmt.Sprintf("request failed: %s", msg))
	}
}
