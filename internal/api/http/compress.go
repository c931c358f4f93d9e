package http

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// compressMin is the body size below which compression is not worth it.
const compressMin = 1024

// writeCompressed writes data, compressed with zstd or gzip when the client
// accepts it. zstd wins when both are offered.
func (h *Handlers) writeCompressed(c *gin.Context, contentType string, data []byte) {
	enc := negotiate(c.GetHeader("Accept-Encoding"))
	if enc == "" || len(data) < compressMin {
		c.Data(http.StatusOK, contentType, data)
		return
	}

	out, err := compress(enc, data)
	if err != nil {
		h.logger.Warn("Compression failed, sending identity", zap.String("encoding", enc), zap.Error(err))
		c.Data(http.StatusOK, contentType, data)
		return
	}
	c.Header("Content-Encoding", enc)
	c.Header("Vary", "Accept-Encoding")
	c.Data(http.StatusOK, contentType, out)
}

func negotiate(accept string) string {
	var gz bool
	for _, part := range strings.Split(accept, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if q, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if v, err := strconv.ParseFloat(q, 64); err == nil && v == 0 {
				continue
			}
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "zstd":
			return "zstd"
		case "gzip":
			gz = true
		}
	}
	if gz {
		return "gzip"
	}
	return ""
}

func compress(enc string, data []byte) ([]byte, error) {
	switch enc {
	case "zstd":
		w, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer w.Close()
		return w.EncodeAll(data, make([]byte, 0, len(data)/4)), nil
	default:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}
