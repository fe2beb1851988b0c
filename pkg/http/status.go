package xhttp

import "github.com/valyala/fasthttp"

const (
	StatusRequestTimeout      = fasthttp.StatusRequestTimeout
	StatusInternalServerError = fasthttp.StatusInternalServerError
	StatusNotFound            = fasthttp.StatusNotFound
)

func StatusText(code int) string {
	return fasthttp.StatusMessage(code)
}
