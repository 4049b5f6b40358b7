package main

import (
	"fmt"
	"strings"

	"github.com/spkenv/spfs/storage"
	fsrepo "github.com/spkenv/spfs/storage/fs"
	"github.com/spkenv/spfs/storage/rpc"
	tarrepo "github.com/spkenv/spfs/storage/tar"
)

// openRepository resolves addr to a storage.Repository: a bare path or a
// "fs:" prefixed one opens an on-disk fs.Repository, a "tar:" prefixed one
// opens a single tar-file repository, and an "http://" or "https://"
// address talks to a storage/rpc server. create initializes an fs
// repository that does not exist yet instead of failing to open it;
// it has no effect on the tar and rpc backends.
func openRepository(addr string, create bool) (storage.Repository, error) {
	switch {
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
		return rpc.NewClient(addr), nil
	case strings.HasPrefix(addr, "tar:"):
		return tarrepo.Open(strings.TrimPrefix(addr, "tar:"))
	case addr == "":
		return nil, fmt.Errorf("empty repository address")
	default:
		path := strings.TrimPrefix(addr, "fs:")
		if create {
			return fsrepo.Create(path)
		}
		return fsrepo.Open(path)
	}
}

// closeIfCloser flushes addr's repository back to disk if it buffers
// writes in memory (only storage/tar does); every other backend is a
// no-op here.
func closeIfCloser(repo storage.Repository) error {
	if c, ok := repo.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
