package idempotency

import (
	"bytes"
	"net/http"
)

// bufferedResponse holds the handler's response until the outcome has been stored, so a
// client never sees an order the store cannot replay.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 && status > 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedResponse) Status() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) response() Response {
	var body []byte
	if b.body.Len() > 0 {
		body = append([]byte(nil), b.body.Bytes()...)
	}
	return Response{Status: b.Status(), Headers: b.header.Clone(), Body: body}
}

// flush copies the buffered response to w.
func (b *bufferedResponse) flush(w http.ResponseWriter) error {
	return writeResponse(w, b.header, b.Status(), b.body.Bytes())
}

func writeResponse(w http.ResponseWriter, header http.Header, status int, body []byte) error {
	dst := w.Header()
	for key := range dst {
		dst.Del(key)
	}
	for key, values := range header {
		dst[key] = append([]string(nil), values...)
	}
	w.WriteHeader(status)
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}
