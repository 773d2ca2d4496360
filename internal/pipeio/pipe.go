package pipeio

import (
	"fmt"
	"os"
)

// Pipe returns a connected pair of devices over an OS pipe: r is opened
// read-only on the read end and w write-only on the write end.
func Pipe(opts ...Option) (r, w *Device, err error) {
	rf, wf, err := osPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create pipe: %w", err)
	}

	r, err = Open(rf, ModeRead, opts...)
	if err != nil {
		_ = rf.Close()
		_ = wf.Close()
		return nil, nil, err
	}
	w, err = Open(wf, ModeWrite, opts...)
	if err != nil {
		_ = r.Close()
		_ = wf.Close()
		return nil, nil, err
	}
	return r, w, nil
}

var _ Handle = (*os.File)(nil)
