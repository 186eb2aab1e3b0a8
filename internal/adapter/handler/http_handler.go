package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/rl1809/eshop-product-service/internal/core/domain"
	"github.com/rl1809/eshop-product-service/internal/core/service"
)

type HTTPHandler struct {
	dispatcher *service.Dispatcher
	logger     *zap.Logger
}

func NewHTTPHandler(dispatcher *service.Dispatcher, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{dispatcher: dispatcher, logger: logger}
}

func (h *HTTPHandler) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/products", h.GetAllProducts).Methods(http.MethodGet)
	r.HandleFunc("/products", h.CreateProduct).Methods(http.MethodPost)
	r.HandleFunc("/products/modifyProductInventory", h.ModifyProductInventory).Methods(http.MethodPut)
	r.HandleFunc("/products/{id}", h.GetProduct).Methods(http.MethodGet)

	return h.logMiddleware(r)
}

func (h *HTTPHandler) GetAllProducts(w http.ResponseWriter, r *http.Request) {
	resp, err := h.dispatcher.GetProducts().Handle(r.Context(), service.GetProducts{})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	resp, err := h.dispatcher.GetProducts().Handle(r.Context(), service.GetProducts{ID: mux.Vars(r)["id"]})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var cmd service.CreateProduct
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}

	resp, err := h.dispatcher.CreateProduct().Handle(r.Context(), cmd)
	if err != nil {
		h.writeErrorResponse(w, err, errorResponse{Error: err.Error(), ID: resp.ID})
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *HTTPHandler) ModifyProductInventory(w http.ResponseWriter, r *http.Request) {
	var cmd service.ModifyProductInventory
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}

	resp, err := h.dispatcher.ModifyProductInventory().Handle(r.Context(), cmd)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	h.writeErrorResponse(w, err, errorResponse{Error: err.Error()})
}

func (h *HTTPHandler) writeErrorResponse(w http.ResponseWriter, err error, body errorResponse) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, body)
}

func (h *HTTPHandler) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("handled request",
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
