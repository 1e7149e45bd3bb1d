package server

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// zipMethodZstd is the ZIP compression method ID for Zstandard (APPNOTE 6.3.7).
const zipMethodZstd uint16 = 93

func init() {
	zip.RegisterCompressor(zipMethodZstd, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(12)))
	})
}

// DownloadBatch streams a zstd-compressed ZIP of a batch's generated
// images. Objects that cannot be read back are skipped so one missing
// output does not break the bundle.
func (ctrl *Controller) DownloadBatch(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch id"})
		return
	}

	ctx := c.Request.Context()
	b, err := ctrl.Batches.FindByID(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("batchId", id.String()).Msg("Load batch for download failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load batch"})
		return
	}
	if b == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}

	var urls []string
	if len(b.CompletedImages) > 0 {
		if err := json.Unmarshal(b.CompletedImages, &urls); err != nil {
			log.Error().Err(err).Str("batchId", id.String()).Msg("Unreadable completed image list")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "batch record is corrupt"})
			return
		}
	}
	if len(urls) == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "batch has no generated images"})
		return
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	added := 0
	for _, u := range urls {
		objectPath := objectPathFromURL(u)
		data, err := ctrl.Bucket.Download(ctx, objectPath)
		if err != nil {
			log.Warn().Err(err).Str("path", objectPath).Msg("Skipping object in batch bundle")
			continue
		}

		header := &zip.FileHeader{
			Name:     objectPath[strings.LastIndex(objectPath, "/")+1:],
			Method:   zipMethodZstd,
			Modified: time.Now(),
		}
		w, err := zw.CreateHeader(header)
		if err != nil {
			log.Warn().Err(err).Str("path", objectPath).Msg("Failed to add object to bundle")
			continue
		}
		if _, err := w.Write(data); err != nil {
			log.Warn().Err(err).Str("path", objectPath).Msg("Failed to write object to bundle")
			continue
		}
		added++
	}
	if err := zw.Close(); err != nil {
		log.Error().Err(err).Str("batchId", id.String()).Msg("Finalize bundle failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build bundle"})
		return
	}
	if added == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no batch image could be bundled"})
		return
	}

	log.Info().Str("batchId", id.String()).Int("files", added).Int("bytes", buf.Len()).Msg("Batch bundle built")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="batch_%s.zip"`, id))
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

// objectPathFromURL strips the public base off a stored URL, leaving the
// object path within the bucket. Generated outputs all live under
// pose_transfers/.
func objectPathFromURL(u string) string {
	if i := strings.Index(u, "/pose_transfers/"); i >= 0 {
		return u[i+1:]
	}
	return u
}
