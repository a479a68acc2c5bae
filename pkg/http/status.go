package xhttp

import "github.com/valyala/fasthttp"

const (
	StatusOK                  = fasthttp.StatusOK
	StatusCreated             = fasthttp.StatusCreated
	StatusAccepted            = fasthttp.StatusAccepted
	StatusBadRequest          = fasthttp.StatusBadRequest
	StatusNotFound            = fasthttp.StatusNotFound
	StatusMethodNotAllowed    = fasthttp.StatusMethodNotAllowed
	StatusRequestTimeout      = fasthttp.StatusRequestTimeout
	StatusConflict            = fasthttp.StatusConflict
	StatusUnprocessableEntity = fasthttp.StatusUnprocessableEntity
	StatusInternalServerError = fasthttp.StatusInternalServerError
	StatusNotImplemented      = fasthttp.StatusNotImplemented
	StatusBadGateway          = fasthttp.StatusBadGateway
	StatusServiceUnavailable  = fasthttp.StatusServiceUnavailable
)

func StatusText(code int) string {
	return fasthttp.StatusMessage(code)
}
