package httputil

import (
	"errors"
	"fmt"
	"io"
)

// ErrBodyTooLarge is returned by ReadAllStrict when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("body exceeds size limit")

// ReadAllWithLimit reads at most limit bytes from r and reports whether more
// data was available.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	if limit <= 0 {
		return nil, false, fmt.Errorf("invalid limit %d", limit)
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}

// ReadAllStrict reads r fully and fails with ErrBodyTooLarge when it holds
// more than limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	body, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, limit)
	}
	return body, nil
}
