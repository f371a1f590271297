package streaming

import (
	"context"
	"io"
	"net/url"

	"k8s.io/client-go/rest"
)

// AbsPathStreamFactory builds a StreamFactory that issues a GET against an
// absolute API server path with the given query parameters, returning the
// raw response body for line-by-line reading. This is the same call the
// ancestor collector makes for a single container's logs
// (req.Stream(ctx)), generalized to any path so it also covers a namespace
// watch feed.
func AbsPathStreamFactory(client rest.Interface, path string, params url.Values) StreamFactory {
	return func(ctx context.Context) (io.ReadCloser, error) {
		req := client.Get().AbsPath(path)
		for key, values := range params {
			for _, v := range values {
				req = req.Param(key, v)
			}
		}
		return req.Stream(ctx)
	}
}
