package http

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"cvdrisk/db"
	"cvdrisk/logging"
	"cvdrisk/monitoring"
	"cvdrisk/predict"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Services 处理器依赖
type Services struct {
	Predictor *predict.Handler
	Logger    *zap.Logger
	// 以下均可为空
	Store    *db.Store
	Metrics  *monitoring.MetricsCollector
	Feed     *monitoring.FeedHub
	ModelErr error
}

type handlers struct {
	Services
}

// RegisterHandlers 注册所有处理器
func RegisterHandlers(mux *http.ServeMux, svc Services) {
	if svc.Logger == nil {
		svc.Logger = zap.NewNop()
	}
	h := &handlers{Services: svc}

	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("POST /predict", h.handlePredictForm)
	mux.HandleFunc("POST /csp_report", h.handleCSPReport)

	mux.HandleFunc("POST /api/predict", h.handlePredictJSON)
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/metrics", h.handleMetrics)
	mux.HandleFunc("GET /api/predictions/recent", h.handleRecent)
	if svc.Feed != nil {
		mux.HandleFunc("GET /ws/predictions", svc.Feed.HandleWebSocket)
	}
}

func (h *handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.Logger.Info("Index page accessed.")
	h.render(w, "")
}

func (h *handlers) handlePredictForm(w http.ResponseWriter, r *http.Request) {
	h.Logger.Info("Predict endpoint triggered.", zap.String("request_id", GetRequestID(r.Context())))

	if err := r.ParseForm(); err != nil {
		h.Logger.Error("Error during prediction: "+err.Error())
		h.render(w, "Error: "+err.Error())
		return
	}
	outcome := h.Predictor.HandleValues(r.Context(), r.PostForm)
	h.render(w, outcome.Text())
}

func (h *handlers) render(w http.ResponseWriter, predictionText string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct{ PredictionText string }{PredictionText: predictionText}
	if err := indexTemplate.Execute(w, data); err != nil {
		h.Logger.Error("render index failed", zap.Error(err))
	}
}

func (h *handlers) handleCSPReport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		// 截断的报告也要记录
		h.Logger.Warn("read csp report failed", zap.Error(err))
	}
	report := string(body)
	logging.Critical(h.Logger, "CSP violation reported: "+report)

	if h.Store != nil {
		if err := h.Store.SaveCSPReport(r.Context(), report); err != nil {
			h.Logger.Error("store csp report failed", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "done")
}

func (h *handlers) handlePredictJSON(w http.ResponseWriter, r *http.Request) {
	h.Logger.Info("Predict endpoint triggered.", zap.String("request_id", GetRequestID(r.Context())))

	var payload map[string]interface{}
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"kind": string(predict.KindParseError), "error": "invalid request body: " + err.Error()})
		return
	}

	form := make(map[string]string, len(payload))
	for key, value := range payload {
		switch v := value.(type) {
		case json.Number:
			form[key] = v.String()
		case string:
			form[key] = v
		case nil:
		default:
			form[key] = fmt.Sprint(v)
		}
	}

	outcome := h.Predictor.Handle(r.Context(), form)
	status := http.StatusOK
	switch outcome.Kind {
	case predict.KindSuccess:
	case predict.KindParseError:
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}
	h.writeJSON(w, status, outcome)
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.ModelErr != nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": h.ModelErr.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.Metrics == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "metrics disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.Metrics.Snapshot())
}

func (h *handlers) handleRecent(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "database disabled"})
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	predictions, err := h.Store.RecentPredictions(r.Context(), limit)
	if err != nil {
		h.Logger.Error("query recent predictions failed", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": predictions})
}

// writeJSON 先编码再写状态码，编码失败时返回500而不是空响应
func (h *handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		h.Logger.Error("encode json response failed", zap.Error(err))
		http.Error(w, `{"error":"internal encoding error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
