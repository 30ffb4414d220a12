package engine

import (
	"fmt"
	"io"

	"github.com/spf13/afero"

	"github.com/preload-hub/preload-hub/internal/source"
)

// readLocal 读取无需网络的来源：本地文件、打包资源与内联数据。
func (l *Loader) readLocal(resolved source.Resolved) ([]byte, error) {
	switch r := resolved.(type) {
	case source.EmbeddedData:
		return r.Data, nil
	case source.LocalFile:
		if r.Provider != "" {
			return nil, fmt.Errorf("content provider %s: %w", r.Provider, ErrUnsupportedSource)
		}
		return afero.ReadFile(l.opts.LocalFs, r.Path)
	case source.BundledResource:
		f, err := l.opts.Resources.Open(r.Identifier)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	default:
		return nil, fmt.Errorf("%T: %w", resolved, ErrUnsupportedSource)
	}
}
