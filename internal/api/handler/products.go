package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/megaartsstore/renderpipe/internal/api/response"
	"github.com/megaartsstore/renderpipe/internal/store"
	"go.uber.org/zap"
)

// ARConfigResponse is what the WebAR viewer needs to place a product on a wrist.
type ARConfigResponse struct {
	ModelURL        string     `json:"model_url"`
	Scale           float64    `json:"scale"`
	Rotation        [3]float64 `json:"rotation"`
	Offset          [3]float64 `json:"offset"`
	WristDiameter   float64    `json:"wrist_diameter"`
	BangleThickness float64    `json:"bangle_thickness"`
	CenterPoint     [3]float64 `json:"center_point"`
}

// NewGetARConfigHandler returns an http.HandlerFunc for GET /api/v1/products/{productID}/ar-config.
func NewGetARConfigHandler(st store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pm, err := st.GetProductModel(r.Context(), chi.URLParam(r, "productID"))
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", "Product not found", nil)
			return
		case err != nil:
			internalError(w, logger, "get product model", err)
			return
		}

		if !pm.AREnabled {
			response.Error(w, http.StatusBadRequest, "AR_NOT_ENABLED", "AR is not enabled for this product", nil)
			return
		}
		if pm.ModelURL == "" {
			response.Error(w, http.StatusBadRequest, "MODEL_NOT_UPLOADED", "No 3D model available for this product", nil)
			return
		}

		resp := ARConfigResponse{ModelURL: pm.ModelURL, Scale: 1.0}
		if c := pm.ARConfig; c != nil {
			resp.Scale = c.Scale
			resp.Rotation = c.Rotation
			resp.Offset = c.Offset
			resp.WristDiameter = c.WristDiameter
			resp.BangleThickness = c.BangleThickness
			resp.CenterPoint = c.CenterPoint
		}
		response.JSON(w, resp)
	}
}

// NewSetAREnabledHandler returns an http.HandlerFunc for
// POST /api/v1/products/{productID}/ar/enable and .../ar/disable.
func NewSetAREnabledHandler(st store.Store, enabled bool, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID := chi.URLParam(r, "productID")

		if enabled {
			pm, err := st.GetProductModel(r.Context(), productID)
			if errors.Is(err, store.ErrNotFound) || (err == nil && pm.ModelURL == "") {
				response.Error(w, http.StatusBadRequest, "MODEL_NOT_UPLOADED", "Product has no 3D model", nil)
				return
			}
			if err != nil {
				internalError(w, logger, "get product model", err)
				return
			}
		}

		err := st.SetProductAREnabled(r.Context(), productID, enabled)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", "Product not found", nil)
			return
		case err != nil:
			internalError(w, logger, "set ar enabled", err)
			return
		}

		logger.Info("product AR toggled", zap.String("product_id", productID), zap.Bool("ar_enabled", enabled))
		response.JSON(w, map[string]any{"product_id": productID, "ar_enabled": enabled})
	}
}
