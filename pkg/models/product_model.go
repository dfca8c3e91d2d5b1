package models

import "time"

// ProductModel is the uploaded 3D source asset for a catalog product plus its
// AR state. ModelURL starts as the upload and is replaced by the optimized GLB
// once a job completes.
type ProductModel struct {
	ProductID   string    `json:"product_id"`
	OriginalURL string    `json:"original_url"`
	ModelURL    string    `json:"model_url"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	Format      string    `json:"format"`
	ARConfig    *ARConfig `json:"ar_config,omitempty"`
	AREnabled   bool      `json:"ar_enabled"`
	UploadedAt  time.Time `json:"uploaded_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
