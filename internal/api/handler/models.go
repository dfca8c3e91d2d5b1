package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/megaartsstore/renderpipe/internal/api/response"
	"github.com/megaartsstore/renderpipe/internal/blob"
	"github.com/megaartsstore/renderpipe/internal/store"
	"github.com/megaartsstore/renderpipe/pkg/models"
	"go.uber.org/zap"
)

// SupportedModelFormats lists the accepted upload extensions.
var SupportedModelFormats = []string{".blend", ".fbx", ".obj", ".stl", ".glb", ".gltf"}

// maxMultipartMemory is how much of an upload is buffered in memory before
// spilling to a temp file.
const maxMultipartMemory = 32 << 20

// ModelUploadResponse describes a stored source model.
type ModelUploadResponse struct {
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	Format   string `json:"format"`
	Message  string `json:"message"`
}

// NewUploadModelHandler returns an http.HandlerFunc for POST /api/v1/models/{productID}.
// The multipart field "file" carries the model.
func NewUploadModelHandler(st store.Store, blobs blob.Store, maxBytes int64, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID := chi.URLParam(r, "productID")

		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+maxMultipartOverhead)
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				fileTooLarge(w, maxBytes)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected a multipart form with a file field", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file is required", nil)
			return
		}
		defer file.Close()

		name := filepath.Base(header.Filename)
		ext := strings.ToLower(path.Ext(name))
		if !isSupportedFormat(ext) {
			response.Error(w, http.StatusBadRequest, "UNSUPPORTED_FORMAT",
				fmt.Sprintf("Unsupported model format %q", ext),
				map[string][]string{"allowed": SupportedModelFormats})
			return
		}
		if header.Size > maxBytes {
			fileTooLarge(w, maxBytes)
			return
		}

		counted := &countingReader{r: file}
		key := path.Join("models", productID, uuid.NewString()+ext)
		url, err := blobs.Put(r.Context(), key, counted, blob.ContentTypeFor(name))
		if err != nil {
			internalError(w, logger, "store model", err)
			return
		}

		pm, err := st.UpsertProductModel(r.Context(), &models.ProductModel{
			ProductID:   productID,
			OriginalURL: url,
			FileName:    name,
			FileSize:    counted.n,
			Format:      strings.TrimPrefix(ext, "."),
		})
		if err != nil {
			internalError(w, logger, "save product model", err)
			return
		}

		logger.Info("model uploaded", zap.String("product_id", productID),
			zap.String("file_name", name), zap.Int64("file_size", pm.FileSize))

		response.Created(w, ModelUploadResponse{
			FileURL:  pm.OriginalURL,
			FileName: pm.FileName,
			FileSize: pm.FileSize,
			Format:   pm.Format,
			Message:  "Model uploaded successfully. Create a job to start processing.",
		})
	}
}

// maxMultipartOverhead leaves room for multipart boundaries and headers.
const maxMultipartOverhead = 1 << 20

func fileTooLarge(w http.ResponseWriter, maxBytes int64) {
	response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
		fmt.Sprintf("Model exceeds the %d byte upload limit", maxBytes), nil)
}

func isSupportedFormat(ext string) bool {
	for _, f := range SupportedModelFormats {
		if ext == f {
			return true
		}
	}
	return false
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
