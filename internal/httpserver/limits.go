package httpserver

import (
	"io"

	"github.com/zynqcloud/pictura/internal/apierr"
)

// maxBytesReader wraps r so that reading more than max bytes fails with a
// PayloadTooLarge apierr instead of silently truncating — the "+1 to
// detect overflow" idiom grounded in the pack's ingest paths (sas_ingester,
// ganache media manager), adapted to return a typed error at the point of
// overflow rather than checking a byte count after the fact.
type maxBytesReader struct {
	r   io.Reader
	n   int64
	max int64
}

func (h *Handler) limitReader(r io.Reader) io.Reader {
	return &maxBytesReader{r: r, max: h.maxUploadBytes}
}

func (m *maxBytesReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	m.n += int64(n)
	if m.n > m.max {
		return n, apierr.New(apierr.KindPayloadTooLarge, "upload exceeds maximum size")
	}
	return n, err
}
